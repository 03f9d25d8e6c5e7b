package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"skyetl/internal/schema"
	"skyetl/pkg/records"
)

// DedupByKey collapses records sharing a primary-key tuple. The last
// occurrence wins and takes the position of the first occurrence, so the
// output order is stable. Upserts run this first: a single ON CONFLICT or
// MERGE statement may not touch the same target row twice.
func DedupByKey(td schema.TableDescriptor, recs []records.Record) []records.Record {
	if len(recs) < 2 || len(td.PrimaryKey) == 0 {
		return recs
	}

	pos := make(map[xxh3.Uint128]int, len(recs))
	out := make([]records.Record, 0, len(recs))
	var sb strings.Builder

	for _, rec := range recs {
		sb.Reset()
		for _, k := range td.PrimaryKey {
			sb.WriteString(keyString(rec[k]))
			sb.WriteByte(0x1f)
		}
		h := xxh3.HashString128(sb.String())
		if i, ok := pos[h]; ok {
			out[i] = rec
			continue
		}
		pos[h] = len(out)
		out = append(out, rec)
	}
	return out
}

// keyString renders a key value so that values the database treats as equal
// (int vs int64, time zones) hash identically.
func keyString(v any) string {
	switch t := v.(type) {
	case nil:
		return "\x00"
	case string:
		return "s" + t
	case []byte:
		return "s" + string(t)
	case int:
		return "i" + strconv.FormatInt(int64(t), 10)
	case int32:
		return "i" + strconv.FormatInt(int64(t), 10)
	case int64:
		return "i" + strconv.FormatInt(t, 10)
	case float64:
		return "f" + strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return "b" + strconv.FormatBool(t)
	case time.Time:
		return "t" + t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%T:%v", v, v)
	}
}
