package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigurationError reports a pipeline file that cannot be used. It is
// returned before any run starts.
type ConfigurationError struct {
	Path   string
	Issues []Issue
	Err    error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration")
	if e.Path != "" {
		b.WriteString(" " + e.Path)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	for _, iss := range e.Issues {
		if iss.Severity == SeverityError {
			b.WriteString("; " + iss.Error())
		}
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Load reads, expands, decodes, defaults and validates a pipeline file.
// Warnings are returned alongside a usable pipeline; any error-severity
// issue yields a *ConfigurationError.
func Load(path string) (Pipeline, []Issue, error) {
	f, err := os.Open(path)
	if err != nil {
		return Pipeline{}, nil, &ConfigurationError{Path: path, Err: err}
	}
	defer f.Close()

	p, issues, err := Parse(f, os.LookupEnv)
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		ce.Path = path
	}
	return p, issues, err
}

// Parse is Load over a reader. lookup resolves ${VAR} references; nil
// leaves them unexpanded.
func Parse(r io.Reader, lookup func(string) (string, bool)) (Pipeline, []Issue, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Pipeline{}, nil, &ConfigurationError{Err: err}
	}
	if lookup != nil {
		raw = Expand(raw, lookup)
	}

	var p Pipeline
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty pipeline file")
		}
		return Pipeline{}, nil, &ConfigurationError{Err: fmt.Errorf("decode: %w", err)}
	}
	p.ApplyDefaults()

	issues := ValidatePipeline(p)
	if HasErrors(issues) {
		return p, issues, &ConfigurationError{Issues: issues}
	}
	return p, issues, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// Expand replaces ${VAR} and ${VAR:-default} references. An unset variable
// without a default expands to the empty string, which validation then
// reports for required fields.
func Expand(raw []byte, lookup func(string) (string, bool)) []byte {
	return envRef.ReplaceAllFunc(raw, func(m []byte) []byte {
		sub := envRef.FindSubmatch(m)
		if v, ok := lookup(string(sub[1])); ok {
			return []byte(v)
		}
		return sub[3]
	})
}

// redactDSN hides the password of a URL-style DSN and any password=...
// key/value pair of a keyword DSN.
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		if _, ok := u.User.Password(); !ok {
			return dsn
		}
		// Spliced in as text: url.UserPassword would percent-encode the mask.
		user := u.User.Username()
		u.User = nil
		return strings.Replace(u.String(), "://", "://"+user+":"+redacted+"@", 1)
	}
	if i := strings.Index(dsn, "@"); i > 0 && strings.Contains(dsn[:i], ":") && !strings.Contains(dsn, "://") {
		// user:pass@tcp(host)/db (MySQL)
		user := dsn[:strings.Index(dsn, ":")]
		return user + ":" + redacted + dsn[i:]
	}
	sep := " "
	if strings.Contains(dsn, ";") {
		sep = ";" // ADO style (MSSQL)
	}
	parts := strings.Split(dsn, sep)
	for i, kv := range parts {
		if k, _, ok := strings.Cut(kv, "="); ok && strings.EqualFold(strings.TrimSpace(k), "password") {
			parts[i] = k + "=" + redacted
		}
	}
	return strings.Join(parts, sep)
}
