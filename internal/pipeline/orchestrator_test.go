package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"skyetl/internal/runlog"
	"skyetl/internal/schema"
	"skyetl/internal/storage"
	"skyetl/internal/storage/sqlite"
	"skyetl/internal/window"
	"skyetl/pkg/records"
)

func newRepo(tb testing.TB) *sqlite.Repository {
	tb.Helper()
	r, closeFn, err := sqlite.NewRepository(context.Background(), sqlite.Config{DSN: ":memory:"})
	if err != nil {
		tb.Fatalf("open sqlite :memory:: %v", err)
	}
	tb.Cleanup(closeFn)
	return r
}

func history(t *testing.T, repo *sqlite.Repository, pipeline string) []runlog.Entry {
	t.Helper()
	rows, err := runlog.History(context.Background(), repo, runlog.DefaultTable, pipeline)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	return rows
}

var errExtract = errors.New("extraction: source returned 503")

var kv = schema.TableDescriptor{
	Name: "kv",
	Columns: []schema.Column{
		{Name: "id", Type: schema.Integer},
		{Name: "value", Type: schema.Text, Nullable: true},
	},
	PrimaryKey: []string{"id"},
}

func TestRun_WindowFailureStillSucceeds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newRepo(t)
	o := &Orchestrator{Pipeline: "p", Repo: repo, Snapshot: map[string]string{"k": "v"}, Console: io.Discard}
	if o.State() != NotStarted {
		t.Fatalf("initial State() = %v", o.State())
	}

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	res := o.Run(ctx, func(ctx context.Context, run Run) error {
		ex := window.Executor{Size: time.Hour, Logger: run.Logger}
		i := 0
		_, err := ex.Run(ctx, start, start.Add(5*time.Hour), func(ctx context.Context, w window.TimeWindow) error {
			i++
			if i == 3 {
				return errExtract
			}
			_, err := repo.Upsert(ctx, kv, []records.Record{{"id": i, "value": w.Start.Format(time.RFC3339)}})
			return err
		})
		return err
	})

	if err := res.Err(); err != nil {
		t.Fatalf("Run() err = %v", err)
	}
	if res.Status != runlog.Success || res.RunID != 1 || o.State() != Succeeded {
		t.Fatalf("Run() = %+v state=%v", res, o.State())
	}
	if !strings.Contains(res.Logs, errExtract.Error()) {
		t.Fatalf("captured logs missing the window error:\n%s", res.Logs)
	}
	if res.Finished.Before(res.Started) {
		t.Fatalf("Finished %v before Started %v", res.Finished, res.Started)
	}

	loaded, err := repo.SelectAll(ctx, kv)
	if err != nil || len(loaded) != 4 {
		t.Fatalf("loaded rows = %d, %v; want 4", len(loaded), err)
	}

	rows := history(t, repo, "p")
	if len(rows) != 2 || rows[0].Status != runlog.Unset || rows[1].Status != runlog.Success {
		t.Fatalf("run log = %+v, want checkpoint then SUCCESS", rows)
	}
	if rows[0].HasLogs || rows[1].Logs != res.Logs {
		t.Fatalf("run log logs = %q / %q", rows[0].Logs, rows[1].Logs)
	}
}

func TestRun_BodyErrorRecordsFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newRepo(t)
	o := &Orchestrator{Pipeline: "p", Repo: repo, Console: io.Discard}

	res := o.Run(ctx, func(ctx context.Context, run Run) error {
		run.Logger.Printf("about to fail")
		return window.ErrInvalidRange
	})
	if !errors.Is(res.Err(), window.ErrInvalidRange) {
		t.Fatalf("Err() = %v, want ErrInvalidRange", res.Err())
	}
	if res.Status != runlog.Failure || o.State() != Failed {
		t.Fatalf("Status=%s State=%v", res.Status, o.State())
	}

	rows := history(t, repo, "p")
	if len(rows) != 2 || rows[1].Status != runlog.Failure {
		t.Fatalf("run log = %+v, want checkpoint then FAILURE", rows)
	}
	if !strings.Contains(rows[1].Logs, "about to fail") || !strings.Contains(rows[1].Logs, "invalid range") {
		t.Fatalf("FAILURE logs = %q", rows[1].Logs)
	}
}

func TestRun_PanicRecordsFailure(t *testing.T) {
	t.Parallel()

	repo := newRepo(t)
	o := &Orchestrator{Pipeline: "p", Repo: repo, Console: io.Discard}

	res := o.Run(context.Background(), func(context.Context, Run) error {
		var m map[string]int
		m["x"] = 1
		return nil
	})
	if res.Err() == nil || !strings.Contains(res.Err().Error(), "panic") {
		t.Fatalf("Err() = %v, want panic error", res.Err())
	}
	if rows := history(t, repo, "p"); len(rows) != 2 || rows[1].Status != runlog.Failure {
		t.Fatalf("run log = %+v", rows)
	}
}

func TestRun_RunIDsIncrease(t *testing.T) {
	t.Parallel()

	repo := newRepo(t)
	o := &Orchestrator{Pipeline: "p", Repo: repo, Console: io.Discard}
	ok := func(context.Context, Run) error { return nil }

	for want := int64(1); want <= 3; want++ {
		res := o.Run(context.Background(), ok)
		if res.Err() != nil || res.RunID != want {
			t.Fatalf("run %d: RunID=%d err=%v", want, res.RunID, res.Err())
		}
	}
	rows := history(t, repo, "p")
	if len(rows) != 6 || rows[5].RunID != 3 {
		t.Fatalf("run log = %+v", rows)
	}
}

func TestRun_CancelledContextStillRecordsFailure(t *testing.T) {
	t.Parallel()

	repo := newRepo(t)
	o := &Orchestrator{Pipeline: "p", Repo: repo, Console: io.Discard}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res := o.Run(ctx, func(ctx context.Context, _ Run) error {
		cancel()
		return ctx.Err()
	})
	if !errors.Is(res.Err(), context.Canceled) || res.Status != runlog.Failure {
		t.Fatalf("Run() = %+v err=%v", res, res.Err())
	}
	if rows := history(t, repo, "p"); len(rows) != 2 || rows[1].Status != runlog.Failure {
		t.Fatalf("run log = %+v", rows)
	}
}

// failingInsert lets Begin through (InsertSequenced) and fails Insert, which
// the tracker uses for terminal rows.
type failingInsert struct {
	storage.Repository
}

func (failingInsert) Insert(context.Context, schema.TableDescriptor, []records.Record) (int64, error) {
	return 0, storage.ErrConnection
}

func TestRun_LostTerminalRowIsFailure(t *testing.T) {
	t.Parallel()

	o := &Orchestrator{Pipeline: "p", Repo: failingInsert{newRepo(t)}, Console: io.Discard}
	res := o.Run(context.Background(), func(context.Context, Run) error { return nil })
	if !errors.Is(res.Err(), storage.ErrConnection) {
		t.Fatalf("Err() = %v, want ErrConnection", res.Err())
	}
	if res.Status != runlog.Failure || o.State() != Failed || res.RunID != 1 {
		t.Fatalf("Run() = %+v state=%v", res, o.State())
	}
}

func TestRun_FailsBeforeRunID(t *testing.T) {
	t.Parallel()

	o := &Orchestrator{Pipeline: "p", Console: io.Discard}
	called := false
	res := o.Run(context.Background(), func(context.Context, Run) error {
		called = true
		return nil
	})
	if res.Err() == nil || res.RunID != 0 || called || res.Status != runlog.Failure {
		t.Fatalf("Run(nil repo) = %+v err=%v called=%v", res, res.Err(), called)
	}
}

func TestRun_WritesLogFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	o := &Orchestrator{Pipeline: "p", Repo: newRepo(t), LogFolder: dir, Console: io.Discard}
	res := o.Run(context.Background(), func(_ context.Context, run Run) error {
		run.Logger.Printf("hello from run %d", run.RunID)
		return nil
	})
	if res.Err() != nil || res.LogFile == "" {
		t.Fatalf("Run() = %+v err=%v", res, res.Err())
	}
	data, err := os.ReadFile(res.LogFile)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello from run 1") {
		t.Fatalf("log file = %q", data)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	for s, want := range map[State]string{NotStarted: "NOT_STARTED", Running: "RUNNING", Succeeded: "SUCCESS", Failed: "FAILURE", State(9): "State(9)"} {
		if got := s.String(); got != want {
			t.Fatalf("%d.String() = %q, want %q", int32(s), got, want)
		}
	}
}
