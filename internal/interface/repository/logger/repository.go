package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/relaywire/proxy/internal/domain"
)

// Repository is a mutex-guarded, rotating file logger.
type Repository struct {
	mu       sync.Mutex
	file     *os.File
	config   *RotationConfig
	dir      string
	filename string
}

var _ domain.Logger = (*Repository)(nil)

// New opens (creating if needed) directory/filename for append and
// starts a periodic cleanup goroutine that prunes rotated files older
// than config.MaxAge and those beyond the newest config.MaxBackups.
func New(directory, filename string, config *RotationConfig) (*Repository, error) {
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, err
	}

	if config == nil {
		config = DefaultRotationConfig()
	}

	full := filepath.Join(directory, filename)
	file, err := os.OpenFile(full, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	r := &Repository{
		file:     file,
		config:   config,
		dir:      directory,
		filename: filename,
	}

	go r.periodicCleanup()

	return r, nil
}

// Info logs at INFO.
func (r *Repository) Info(msg string, fields map[string]interface{}) {
	r.log(NewLogEntry(INFO, msg, nil, fields))
}

// Error logs at ERROR.
func (r *Repository) Error(msg string, err error, fields map[string]interface{}) {
	r.log(NewLogEntry(ERROR, msg, err, fields))
}

// Debug logs at DEBUG.
func (r *Repository) Debug(msg string, fields map[string]interface{}) {
	r.log(NewLogEntry(DEBUG, msg, nil, fields))
}

// Warn logs at WARN.
func (r *Repository) Warn(msg string, fields map[string]interface{}) {
	r.log(NewLogEntry(WARN, msg, nil, fields))
}

func (r *Repository) log(entry *LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if needs, err := needsRotation(r.file.Name(), r.config.MaxSize); err == nil && needs {
		r.rotate()
	}

	formatted := entry.Format()
	if _, err := r.file.WriteString(formatted); err != nil {
		os.Stderr.WriteString(fmt.Sprintf("Failed to write log: %v\n", err))
	}
}

func (r *Repository) rotate() error {
	if err := r.file.Close(); err != nil {
		return err
	}

	if err := rotateFile(r.file.Name()); err != nil {
		return err
	}

	file, err := os.OpenFile(filepath.Join(r.dir, r.filename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	r.file = file
	return nil
}

func (r *Repository) periodicCleanup() {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		cleanOldLogs(r.dir, r.config)
	}
}

// Close releases the underlying file handle.
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}
