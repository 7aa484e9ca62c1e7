// Streaming dataset reader: a JSON array of rows or one JSON object per line.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// readRowsCallback is called for every row at or after the offset.
// seq is the zero-based row position in the file. Returning false stops reading.
type readRowsCallback func(row *datasetRow, seq int) bool

// datasetReader reads one dataset file.
type datasetReader struct {
	path string
}

func newDatasetReader(path string) (*datasetReader, error) {
	clean := filepath.Clean(path)
	if _, err := os.Stat(clean); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", clean, err)
	}
	return &datasetReader{path: clean}, nil
}

// Read streams rows starting at offset. maxRows=0 means no limit.
// It returns the number of rows passed to cb.
func (r *datasetReader) Read(offset, maxRows int, cb readRowsCallback) (int, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return 0, fmt.Errorf("open dataset: %w", err)
	}
	defer func() { _ = f.Close() }()

	return readRows(f, offset, maxRows, cb)
}

func readRows(src io.Reader, offset, maxRows int, cb readRowsCallback) (int, error) {
	br := bufio.NewReader(src)
	first, err := firstNonSpace(br)
	if errors.Is(err, io.EOF) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("peek dataset: %w", err)
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		if _, err := dec.Token(); err != nil {
			return 0, fmt.Errorf("read array start: %w", err)
		}
	}

	seq, read := 0, 0
	for dec.More() {
		var row datasetRow
		if seq < offset {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return read, fmt.Errorf("skip row %d: %w", seq, err)
			}
			seq++
			continue
		}
		if err := dec.Decode(&row); err != nil {
			return read, fmt.Errorf("decode row %d: %w", seq, err)
		}
		read++
		if !cb(&row, seq) {
			return read, nil
		}
		seq++
		if maxRows > 0 && read >= maxRows {
			return read, nil
		}
	}
	return read, nil
}

// firstNonSpace peeks at the first significant byte without consuming it.
func firstNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err //nolint:wrapcheck // wrapped by caller
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		if err := br.UnreadByte(); err != nil {
			return 0, err //nolint:wrapcheck // wrapped by caller
		}
		return b, nil
	}
}
