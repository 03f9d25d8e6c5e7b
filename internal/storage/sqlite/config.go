// Package sqlite implements a SQLite-backed storage.Repository.
package sqlite

// Config holds SQLite repository configuration derived from storage.Config.
type Config struct {
	// DSN is a SQLite connection string or file path, e.g.:
	//   "file:skyetl.db?_pragma=busy_timeout(5000)"
	//   ":memory:"
	DSN string

	// BatchSize bounds rows per loader flush; 0 selects the engine default.
	BatchSize int
}
