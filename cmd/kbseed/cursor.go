// Cursor tracks seeding progress so an interrupted run resumes where it stopped.
// Stored as a JSON file next to the data, rewritten every N rows.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Cursor is the persisted position in one dataset.
type Cursor struct {
	Dataset        string    `json:"dataset"`
	RowOffset      int       `json:"row_offset"`
	TotalInserted  int       `json:"total_inserted"`
	TotalDuplicate int       `json:"total_duplicate"`
	TotalFailed    int       `json:"total_failed"`
	Done           bool      `json:"done"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// span is a finished batch [start, end) waiting for the batches before it.
type span struct{ start, end int }

// cursorTracker is safe for concurrent workers. Batches finish out of order;
// RowOffset only moves past a row once every earlier row has finished.
type cursorTracker struct {
	mu        sync.Mutex
	cursor    Cursor
	pending   map[int]span
	path      string
	saveEvery int
	sinceSave int
	dirty     bool
	logger    *zap.Logger
}

// newCursorTracker loads the cursor for dataset from dataDir when one exists.
func newCursorTracker(dataDir, dataset string, saveEvery int, logger *zap.Logger) (*cursorTracker, error) {
	name := strings.TrimSuffix(filepath.Base(dataset), filepath.Ext(dataset))
	path := filepath.Join(filepath.Clean(dataDir), "kbseed-"+name+".cursor.json")
	if saveEvery <= 0 {
		saveEvery = 1
	}
	ct := &cursorTracker{
		cursor:    Cursor{Dataset: filepath.Base(dataset)},
		pending:   make(map[int]span),
		path:      path,
		saveEvery: saveEvery,
		logger:    logger,
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &ct.cursor); err != nil {
			return nil, fmt.Errorf("parse cursor %s: %w", path, err)
		}
		logger.Info("Resuming from cursor",
			zap.String("path", path),
			zap.Int("row_offset", ct.cursor.RowOffset),
			zap.Int("inserted", ct.cursor.TotalInserted),
			zap.Bool("done", ct.cursor.Done),
		)
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read cursor %s: %w", path, err)
	}
	return ct, nil
}

// Get returns a copy of the cursor.
func (ct *cursorTracker) Get() Cursor {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.cursor
}

// Complete records a finished batch covering rows [start, end).
func (ct *cursorTracker) Complete(start, end, inserted, duplicate, failed int) {
	ct.mu.Lock()
	ct.cursor.TotalInserted += inserted
	ct.cursor.TotalDuplicate += duplicate
	ct.cursor.TotalFailed += failed
	ct.pending[start] = span{start: start, end: end}
	for {
		s, ok := ct.pending[ct.cursor.RowOffset]
		if !ok {
			break
		}
		delete(ct.pending, s.start)
		ct.cursor.RowOffset = s.end
	}
	ct.cursor.UpdatedAt = time.Now().UTC()
	ct.dirty = true
	ct.sinceSave += end - start
	shouldSave := ct.sinceSave >= ct.saveEvery
	if shouldSave {
		ct.sinceSave = 0
	}
	ct.mu.Unlock()

	if shouldSave {
		ct.Save()
	}
}

// Finish marks the dataset fully seeded.
func (ct *cursorTracker) Finish() {
	ct.mu.Lock()
	ct.cursor.Done = true
	ct.cursor.UpdatedAt = time.Now().UTC()
	ct.dirty = true
	ct.mu.Unlock()
	ct.Save()
}

// Reset forgets all progress.
func (ct *cursorTracker) Reset() {
	ct.mu.Lock()
	ct.cursor = Cursor{Dataset: ct.cursor.Dataset}
	ct.pending = make(map[int]span)
	ct.dirty = true
	ct.mu.Unlock()
	ct.Save()
}

// Save writes the cursor atomically (temp file + rename).
func (ct *cursorTracker) Save() {
	ct.mu.Lock()
	if !ct.dirty {
		ct.mu.Unlock()
		return
	}
	data, err := json.MarshalIndent(ct.cursor, "", "  ")
	ct.dirty = false
	ct.mu.Unlock()
	if err != nil {
		ct.logger.Error("Cursor marshal failed", zap.Error(err))
		return
	}

	if err := writeFileAtomic(ct.path, data); err != nil {
		ct.logger.Error("Cursor write failed", zap.String("path", ct.path), zap.Error(err))
		ct.mu.Lock()
		ct.dirty = true
		ct.mu.Unlock()
	}
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create cursor dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
