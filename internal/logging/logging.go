// Package logging builds the per-run logger. Everything a run logs goes to
// stderr, to a run-specific file when a folder is configured, and to memory
// so the text can be stored with the run's final status.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Flags are the log.Logger flags used for run loggers.
const Flags = log.LstdFlags | log.Lmicroseconds | log.LUTC

// Options configures a run logger.
type Options struct {
	// Folder receives <pipeline>_<unix>_<uuid>.log; empty disables the file.
	Folder string

	// Console is the terminal sink; nil means os.Stderr, io.Discard silences it.
	Console io.Writer

	// Now stamps the file name; nil means time.Now.
	Now func() time.Time
}

// RunLog is the logger of one pipeline run.
type RunLog struct {
	*log.Logger

	mu   sync.Mutex
	buf  bytes.Buffer
	file *os.File
	path string
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// New opens a run logger for pipeline.
func New(pipeline string, opts Options) (*RunLog, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	rl := &RunLog{}
	sinks := []io.Writer{console, memSink{rl}}

	if opts.Folder != "" {
		if err := os.MkdirAll(opts.Folder, 0o755); err != nil {
			return nil, fmt.Errorf("logging: create folder: %w", err)
		}
		name := fmt.Sprintf("%s_%d_%s.log", unsafeName.ReplaceAllString(pipeline, "_"), now().Unix(), uuid.NewString())
		rl.path = filepath.Join(opts.Folder, name)
		f, err := os.OpenFile(rl.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: open %s: %w", rl.path, err)
		}
		rl.file = f
		sinks = append(sinks, f)
	}

	rl.Logger = log.New(io.MultiWriter(sinks...), fmt.Sprintf("[%s] ", pipeline), Flags)
	return rl, nil
}

// Path returns the log file path, or "" when no file is written.
func (r *RunLog) Path() string { return r.path }

// Logs returns everything logged so far.
func (r *RunLog) Logs() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

// Close closes the log file. The in-memory copy stays readable.
func (r *RunLog) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

type memSink struct{ r *RunLog }

func (m memSink) Write(p []byte) (int, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	return m.r.buf.Write(p)
}
