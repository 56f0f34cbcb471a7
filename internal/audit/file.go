package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	sinkFileMode = 0644
	sinkDirMode  = 0755
)

// FileSink appends each event as one JSONL line to a local file. Every
// line is independently parseable for streaming ingestion.
type FileSink struct {
	path string
	mu   sync.Mutex
}

// NewFileSink creates an append-only JSONL sink at path.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

func (f *FileSink) Emit(event Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), sinkDirMode); err != nil {
		return fmt.Errorf("create audit sink dir: %w", err)
	}

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, sinkFileMode)
	if err != nil {
		return fmt.Errorf("open audit sink file: %w", err)
	}
	defer file.Close()

	encoded, err := encodeEvent(event)
	if err != nil {
		return err
	}
	encoded = append(encoded, '\n')

	if _, err := file.Write(encoded); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync audit sink file: %w", err)
	}
	return nil
}
