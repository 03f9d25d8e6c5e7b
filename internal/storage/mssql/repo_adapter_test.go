package mssql

import (
	"context"
	"testing"

	"skyetl/internal/storage"
)

// TestMSSQLRegistrationUsesHook verifies that the "mssql" backend registered
// in init() builds its repository through newRepository and that Close
// reaches the cleanup function.
func TestMSSQLRegistrationUsesHook(t *testing.T) {
	orig := newRepository
	defer func() { newRepository = orig }()

	var gotCfg Config
	closed := false
	newRepository = func(ctx context.Context, cfg Config) (*Repository, func(), error) {
		gotCfg = cfg
		return &Repository{}, func() { closed = true }, nil
	}

	want := storage.Config{Kind: "mssql", DSN: "sqlserver://sa:pw@localhost:1433?database=etl", BatchSize: 100}
	repo, err := storage.New(context.Background(), want)
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	if gotCfg.DSN != want.DSN || gotCfg.BatchSize != 100 {
		t.Fatalf("hook cfg = %+v", gotCfg)
	}
	if _, ok := repo.(*wrappedRepo); !ok {
		t.Fatalf("storage.New() type = %T, want *wrappedRepo", repo)
	}
	repo.Close()
	if !closed {
		t.Fatalf("Close() did not invoke closeFn")
	}
}
