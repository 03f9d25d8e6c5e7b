package flights

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"skyetl/internal/pipeline"
	"skyetl/internal/runlog"
	"skyetl/internal/source/opensky"
	"skyetl/internal/storage"
	"skyetl/internal/storage/sqlite"
	"skyetl/internal/transform"
)

var start = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newRepo(tb testing.TB) *sqlite.Repository {
	tb.Helper()
	r, closeFn, err := sqlite.NewRepository(context.Background(), sqlite.Config{DSN: ":memory:"})
	if err != nil {
		tb.Fatalf("open sqlite :memory:: %v", err)
	}
	tb.Cleanup(closeFn)
	return r
}

func quietRun() pipeline.Run {
	return pipeline.Run{Pipeline: "flights_test", RunID: 1, Logger: log.New(io.Discard, "", 0)}
}

func str(s string) *string { return &s }

// hourly returns two flights per window: one unique to the window and one
// aircraft seen in every window at a fixed firstSeen (a duplicate key).
func hourly(tag string) SourceFunc {
	return func(_ context.Context, begin, _ time.Time) ([]opensky.Flight, error) {
		return []opensky.Flight{
			{ICAO24: fmt.Sprintf("%s%d", tag, begin.Hour()), FirstSeen: begin.Unix() + 60, LastSeen: begin.Unix() + 1200, Callsign: str(" dlh1 ")},
			{ICAO24: "shared", FirstSeen: start.Unix(), LastSeen: start.Unix() + 30},
		}, nil
	}
}

func count(t *testing.T, repo storage.Repository, j *Job) int {
	t.Helper()
	rows, err := repo.SelectAll(context.Background(), j.Descriptor())
	if err != nil {
		t.Fatalf("SelectAll: %v", err)
	}
	return len(rows)
}

func TestParseLoadMethod(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]LoadMethod{"": Upsert, "insert": Insert, " UPSERT ": Upsert, "Overwrite": Overwrite} {
		got, err := ParseLoadMethod(in)
		if err != nil || got != want {
			t.Fatalf("ParseLoadMethod(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseLoadMethod("merge"); !errors.Is(err, ErrUnknownLoadMethod) {
		t.Fatalf("ParseLoadMethod(merge) error = %v", err)
	}
}

func TestRun_UpsertIsIdempotent(t *testing.T) {
	t.Parallel()

	repo := newRepo(t)
	j := &Job{Source: hourly("a"), Repo: repo, Method: Upsert, Start: start, End: start.Add(3 * time.Hour)}

	for i := 0; i < 2; i++ {
		st, err := j.Run(context.Background(), quietRun())
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if st.Windows != 3 || st.Failed() != 0 || st.Extracted != 6 {
			t.Fatalf("run %d stats = %+v", i, st)
		}
	}
	if n := count(t, repo, j); n != 4 {
		t.Fatalf("rows = %d, want 4 (3 hourly + 1 shared)", n)
	}
}

func TestRun_WindowFailureIsIsolated(t *testing.T) {
	t.Parallel()

	repo := newRepo(t)
	ok := hourly("a")
	src := SourceFunc(func(ctx context.Context, begin, end time.Time) ([]opensky.Flight, error) {
		if begin.Hour() == 1 {
			return nil, fmt.Errorf("%w: 503", opensky.ErrExtraction)
		}
		return ok(ctx, begin, end)
	})
	j := &Job{Source: src, Repo: repo, Start: start, End: start.Add(3 * time.Hour)}

	st, err := j.Run(context.Background(), quietRun())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Succeeded != 2 || st.Failed() != 1 || !errors.Is(st.Failures[0].Err, opensky.ErrExtraction) {
		t.Fatalf("stats = %+v", st)
	}
	if n := count(t, repo, j); n != 3 {
		t.Fatalf("rows = %d, want 3", n)
	}
}

func TestRun_MissingLastSeenKeepsWindow(t *testing.T) {
	t.Parallel()

	repo := newRepo(t)
	src := SourceFunc(func(_ context.Context, begin, _ time.Time) ([]opensky.Flight, error) {
		return []opensky.Flight{
			{ICAO24: "a1", FirstSeen: begin.Unix() + 60, LastSeen: begin.Unix() + 600},
			{ICAO24: "a2", FirstSeen: begin.Unix() + 120},
		}, nil
	})
	j := &Job{Source: src, Repo: repo, Method: Upsert, Start: start, End: start.Add(time.Hour)}

	st, err := j.Run(context.Background(), quietRun())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Failed() != 0 || st.Loaded != 2 {
		t.Fatalf("stats = %+v", st)
	}
	if n := count(t, repo, j); n != 2 {
		t.Fatalf("rows = %d, want 2", n)
	}
}

func TestRun_InsertCollisionFailsOnlyThatWindow(t *testing.T) {
	t.Parallel()

	repo := newRepo(t)
	j := &Job{Source: hourly("a"), Repo: repo, Method: Insert, Start: start, End: start.Add(2 * time.Hour)}

	st, err := j.Run(context.Background(), quietRun())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The "shared" aircraft collides in the second window.
	if st.Succeeded != 1 || st.Failed() != 1 || !errors.Is(st.Failures[0].Err, storage.ErrConstraintViolation) {
		t.Fatalf("stats = %+v", st)
	}
	if n := count(t, repo, j); n != 2 {
		t.Fatalf("rows = %d, want 2", n)
	}
}

func TestRun_OverwriteReplacesTable(t *testing.T) {
	t.Parallel()

	repo := newRepo(t)
	j := &Job{Source: hourly("a"), Repo: repo, Method: Overwrite, Start: start, End: start.Add(3 * time.Hour)}
	if _, err := j.Run(context.Background(), quietRun()); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	j.Source = hourly("b")
	j.End = start.Add(time.Hour)
	st, err := j.Run(context.Background(), quietRun())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if st.Loaded != 2 {
		t.Fatalf("Loaded = %d, want 2", st.Loaded)
	}
	rows, err := repo.SelectAll(context.Background(), j.Descriptor())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %v, want exactly the second batch", rows)
	}
	for _, r := range rows {
		if id := r[transform.ColICAO24]; id != "b0" && id != "shared" {
			t.Fatalf("stale row %v", r)
		}
	}
}

func TestRun_Enriched(t *testing.T) {
	t.Parallel()

	ap, err := transform.LoadAirports(strings.NewReader("ident,name,iso_country\nKFWS,Fort Worth Spinks,US\n"))
	if err != nil {
		t.Fatal(err)
	}
	repo := newRepo(t)
	src := SourceFunc(func(_ context.Context, begin, _ time.Time) ([]opensky.Flight, error) {
		return []opensky.Flight{{ICAO24: "a", FirstSeen: begin.Unix(), LastSeen: begin.Unix() + 1, EstDepartureAirport: str("KFWS")}}, nil
	})
	j := &Job{Source: src, Repo: repo, Airports: ap, Start: start, End: start.Add(time.Hour)}

	if _, err := j.Run(context.Background(), quietRun()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	rows, err := repo.SelectAll(context.Background(), j.Descriptor())
	if err != nil || len(rows) != 1 {
		t.Fatalf("rows = %v, %v", rows, err)
	}
	if rows[0]["departure_airport_name"] != "Fort Worth Spinks" || rows[0]["departure_country"] != "US" || rows[0]["arrival_airport_name"] != nil {
		t.Fatalf("row = %v", rows[0])
	}
}

func TestRun_FatalErrors(t *testing.T) {
	t.Parallel()

	repo := newRepo(t)
	cases := []struct {
		name string
		job  *Job
		want error
	}{
		{"bad method", &Job{Source: hourly("a"), Repo: repo, Method: "merge", Start: start, End: start.Add(time.Hour)}, ErrUnknownLoadMethod},
		{"empty range", &Job{Source: hourly("a"), Repo: repo, Start: start, End: start}, nil},
		{"no source", &Job{Repo: repo, Start: start, End: start.Add(time.Hour)}, nil},
	}
	for _, tc := range cases {
		_, err := tc.job.Run(context.Background(), quietRun())
		if err == nil || (tc.want != nil && !errors.Is(err, tc.want)) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
}

// TestOrchestrated runs the job end to end: an OpenSky test server, the
// real client and an orchestrated, tracked run.
func TestOrchestrated(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		b, _ := strconv.ParseInt(r.URL.Query().Get("begin"), 10, 64)
		switch time.Unix(b, 0).UTC().Hour() {
		case 1:
			w.WriteHeader(http.StatusForbidden)
		case 2:
			w.WriteHeader(http.StatusNotFound)
		default:
			fmt.Fprintf(w, `[{"icao24":"x%d","firstSeen":%d,"lastSeen":%d,"callsign":"abc ",
				"estDepartureAirportHorizDistance":3,"estDepartureAirportVertDistance":4}]`, b, b+5, b+600)
		}
	}))
	t.Cleanup(srv.Close)

	client, err := opensky.New(opensky.Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	repo := newRepo(t)
	j := &Job{Source: client, Repo: repo, Start: start, End: start.Add(4 * time.Hour)}
	o := &pipeline.Orchestrator{Pipeline: "opensky_flights", Repo: repo, Console: io.Discard}

	res := o.Run(context.Background(), j.Body())
	if res.Err() != nil || res.Status != runlog.Success || res.RunID != 1 {
		t.Fatalf("Run() = %+v err=%v", res, res.Err())
	}
	if calls.Load() != 4 {
		t.Fatalf("server calls = %d, want 4", calls.Load())
	}
	if !strings.Contains(res.Logs, opensky.ErrExtraction.Error()) {
		t.Fatalf("logs missing the extraction error:\n%s", res.Logs)
	}
	rows, err := repo.SelectAll(context.Background(), j.Descriptor())
	if err != nil || len(rows) != 2 {
		t.Fatalf("flights = %v, %v; want 2", rows, err)
	}
	for _, r := range rows {
		if r[transform.ColCallsign] != "ABC" || r[transform.ColDepartureDistance] != 5.0 {
			t.Fatalf("row = %v", r)
		}
	}
}
