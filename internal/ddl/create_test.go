package ddl

import (
	"strconv"
	"strings"
	"testing"
)

func doubleQuote(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// TestBuildCreateTableSQL covers rendering rules and input errors with the
// zero Style (verbatim identifiers, plain CREATE TABLE).
func TestBuildCreateTableSQL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		def         TableDef
		wantSQL     string
		errContains string
	}{
		{
			name:        "empty FQN",
			def:         TableDef{Columns: []ColumnDef{{Name: "id", SQLType: "INT"}}},
			errContains: "table FQN must not be empty",
		},
		{
			name:        "no columns",
			def:         TableDef{FQN: "t"},
			errContains: "at least one column is required",
		},
		{
			name:        "empty column name",
			def:         TableDef{FQN: "t", Columns: []ColumnDef{{SQLType: "INT"}}},
			errContains: "column with empty name",
		},
		{
			name:        "empty column type",
			def:         TableDef{FQN: "t", Columns: []ColumnDef{{Name: "id"}}},
			errContains: "missing SQLType",
		},
		{
			name:    "nullable column",
			def:     TableDef{FQN: "t", Columns: []ColumnDef{{Name: "id", SQLType: "INT", Nullable: true}}},
			wantSQL: "CREATE TABLE t (\n  id INT\n);",
		},
		{
			name: "default expression",
			def: TableDef{FQN: "t", Columns: []ColumnDef{
				{Name: "created_at", SQLType: "TIMESTAMP", Default: " CURRENT_TIMESTAMP "},
			}},
			wantSQL: "CREATE TABLE t (\n  created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP\n);",
		},
		{
			name: "composite primary key keeps declaration order and forces NOT NULL",
			def: TableDef{FQN: "t", Columns: []ColumnDef{
				{Name: "tenant_id", SQLType: "INT", PrimaryKey: true, Nullable: true},
				{Name: "id", SQLType: "INT", PrimaryKey: true},
				{Name: "payload", SQLType: "TEXT", Nullable: true},
			}},
			wantSQL: "CREATE TABLE t (\n  tenant_id INT NOT NULL,\n  id INT NOT NULL,\n  payload TEXT,\n  PRIMARY KEY (tenant_id, id)\n);",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := BuildCreateTableSQL(tt.def, Style{})
			if tt.errContains != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errContains) {
					t.Fatalf("BuildCreateTableSQL() error = %v, want substring %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildCreateTableSQL() unexpected error = %v", err)
			}
			if got != tt.wantSQL {
				t.Fatalf("BuildCreateTableSQL() =\n%s\nwant:\n%s", got, tt.wantSQL)
			}
		})
	}
}

func TestBuildCreateTableSQL_QuotedIfNotExists(t *testing.T) {
	t.Parallel()

	def := TableDef{FQN: "public.logs", Columns: []ColumnDef{
		{Name: "timestamp", SQLType: "TEXT", PrimaryKey: true},
		{Name: `we"ird`, SQLType: "TEXT", Nullable: true},
	}}

	got, err := BuildCreateTableSQL(def, Style{Quote: doubleQuote, IfNotExists: true})
	if err != nil {
		t.Fatalf("BuildCreateTableSQL() error = %v", err)
	}
	want := "CREATE TABLE IF NOT EXISTS \"public\".\"logs\" (\n" +
		"  \"timestamp\" TEXT NOT NULL,\n" +
		"  \"we\"\"ird\" TEXT,\n" +
		"  PRIMARY KEY (\"timestamp\")\n);"
	if got != want {
		t.Fatalf("BuildCreateTableSQL() =\n%s\nwant:\n%s", got, want)
	}
}

func TestStyleQuoteFQN(t *testing.T) {
	t.Parallel()

	s := Style{Quote: doubleQuote}
	if got := s.QuoteFQN("public..flights"); got != `"public"."flights"` {
		t.Fatalf("QuoteFQN() = %s", got)
	}
	if got := (Style{}).QuoteFQN("a.b"); got != "a.b" {
		t.Fatalf("zero Style QuoteFQN() = %s", got)
	}
}

var benchmarkSink string

func BenchmarkBuildCreateTableSQL_Wide(b *testing.B) {
	cols := make([]ColumnDef, 0, 64)
	for i := 0; i < 64; i++ {
		cols = append(cols, ColumnDef{Name: "col_" + strconv.Itoa(i), SQLType: "TEXT", Nullable: true})
	}
	cols[0].PrimaryKey = true
	def := TableDef{FQN: "large_table", Columns: cols}
	s := Style{Quote: doubleQuote, IfNotExists: true}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sql, err := BuildCreateTableSQL(def, s)
		if err != nil {
			b.Fatalf("BuildCreateTableSQL() error = %v", err)
		}
		benchmarkSink = sql
	}
}
