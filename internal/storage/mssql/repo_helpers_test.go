// Package mssql contains tests for helper utilities used by the MSSQL adapter.
package mssql

import (
	"context"
	"errors"
	"fmt"
	"testing"

	mssql "github.com/microsoft/go-mssqldb"

	"skyetl/internal/schema"
)

// TestMsIdent verifies that msIdent properly brackets SQL Server identifiers
// and escapes closing brackets to avoid syntax errors and injection issues.
func TestMsIdent(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"simple", "[simple]"},
		{"dbo", "[dbo]"},
		{"brack]et", "[brack]]et]"},
	}
	for _, tc := range cases {
		if got := msIdent(tc.in); got != tc.want {
			t.Fatalf("msIdent(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

// TestMsFQN verifies that msFQN correctly quotes schema-qualified names using
// bracketed identifier segments, preserving multi-part names.
func TestMsFQN(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"table", "[table]"},
		{"dbo.table", "[dbo].[table]"},
		{"sales.q4.table", "[sales].[q4].[table]"},
	}
	for _, tc := range cases {
		if got := msFQN(tc.in); got != tc.want {
			t.Fatalf("msFQN(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

// TestBuildMatchCondition ensures the MERGE join predicate is constructed
// from the provided key column list.
func TestBuildMatchCondition(t *testing.T) {
	cases := []struct {
		keys []string
		want string
	}{
		{nil, ""},
		{[]string{"id"}, "T.[id] = S.[id]"},
		{[]string{"icao24", "firstSeen"}, "T.[icao24] = S.[icao24] AND T.[firstSeen] = S.[firstSeen]"},
	}
	for _, tc := range cases {
		if got := buildMatchCondition(tc.keys); got != tc.want {
			t.Fatalf("condition = %q; want %q", got, tc.want)
		}
	}
}

func TestUpsertSQL(t *testing.T) {
	td := schema.TableDescriptor{
		Name:       "dbo.kv",
		Columns:    []schema.Column{{Name: "k", Type: schema.Text}, {Name: "v", Type: schema.Text, Nullable: true}},
		PrimaryKey: []string{"k"},
	}
	got := Dialect{}.UpsertSQL(td)
	want := "MERGE INTO [dbo].[kv] WITH (HOLDLOCK) AS T\n" +
		"USING (SELECT @p1 AS [k], @p2 AS [v]) AS S\n" +
		"ON T.[k] = S.[k]\n" +
		"WHEN MATCHED THEN UPDATE SET T.[v] = S.[v]\n" +
		"WHEN NOT MATCHED THEN INSERT ([k], [v]) VALUES (S.[k], S.[v]);"
	if got != want {
		t.Fatalf("UpsertSQL() =\n%s\nwant\n%s", got, want)
	}

	keysOnly := schema.TableDescriptor{Name: "k", Columns: []schema.Column{{Name: "id", Type: schema.Integer}}, PrimaryKey: []string{"id"}}
	want = "MERGE INTO [k] WITH (HOLDLOCK) AS T\n" +
		"USING (SELECT @p1 AS [id]) AS S\n" +
		"ON T.[id] = S.[id]\n" +
		"WHEN NOT MATCHED THEN INSERT ([id]) VALUES (S.[id]);"
	if got := (Dialect{}).UpsertSQL(keysOnly); got != want {
		t.Fatalf("UpsertSQL(keys only) =\n%s\nwant\n%s", got, want)
	}
}

func TestIsConstraintViolation(t *testing.T) {
	d := Dialect{}
	for _, n := range []int32{2627, 2601} {
		if !d.IsConstraintViolation(fmt.Errorf("bulk: %w", mssql.Error{Number: n})) {
			t.Fatalf("IsConstraintViolation(%d) = false", n)
		}
	}
	if d.IsConstraintViolation(mssql.Error{Number: 208}) {
		t.Fatalf("IsConstraintViolation(208) = true")
	}
	if d.IsConstraintViolation(errors.New("plain")) {
		t.Fatalf("IsConstraintViolation(plain) = true")
	}
}

// TestBulkInsertEmptyRows verifies that BulkInsert short-circuits when no rows
// are provided and does not require a live database connection.
func TestBulkInsertEmptyRows(t *testing.T) {
	n, err := Dialect{}.BulkInsert(context.Background(), nil, "dbo.t", []string{"a"}, nil)
	if err != nil || n != 0 {
		t.Fatalf("BulkInsert(empty) = %d, %v; want 0, nil", n, err)
	}
}
