package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const arrayDataset = `[
  {"question": "What is 2 + 2?", "answer": 4, "steps": ["Add 2 and 2", "Get 4"], "topic": "arithmetic"},
  {"question": "Differentiate x^2", "answer": "2x", "steps": "Power rule", "difficulty": "easy"},
  {"question": "Integrate 2x", "answer": "x^2 + C", "steps": null}
]`

const linesDataset = `{"question": "What is 2 + 2?", "answer": "4"}
{"question": "Differentiate x^2", "answer": "2x"}

{"question": "Integrate 2x", "answer": "x^2 + C"}
`

func collect(t *testing.T, src string, offset, maxRows int) ([]datasetRow, []int) {
	t.Helper()
	var rows []datasetRow
	var seqs []int
	n, err := readRows(strings.NewReader(src), offset, maxRows, func(row *datasetRow, seq int) bool {
		rows = append(rows, *row)
		seqs = append(seqs, seq)
		return true
	})
	if err != nil {
		t.Fatalf("readRows: %v", err)
	}
	if n != len(rows) {
		t.Fatalf("returned %d, callback saw %d", n, len(rows))
	}
	return rows, seqs
}

func TestReadRows_Array(t *testing.T) {
	rows, seqs := collect(t, arrayDataset, 0, 0)
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].Answer != "4" {
		t.Errorf("numeric answer: got %q", rows[0].Answer)
	}
	if rows[0].Steps != "Add 2 and 2\nGet 4" {
		t.Errorf("list steps: got %q", rows[0].Steps)
	}
	if rows[1].Steps != "Power rule" || rows[1].Difficulty != "easy" {
		t.Errorf("row 1: %+v", rows[1])
	}
	if rows[2].Steps != "" {
		t.Errorf("null steps: got %q", rows[2].Steps)
	}
	if seqs[0] != 0 || seqs[2] != 2 {
		t.Errorf("seqs: %v", seqs)
	}
}

func TestReadRows_Lines(t *testing.T) {
	rows, _ := collect(t, linesDataset, 0, 0)
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[2].Question != "Integrate 2x" {
		t.Errorf("last question: %q", rows[2].Question)
	}
}

func TestReadRows_OffsetAndLimit(t *testing.T) {
	for name, src := range map[string]string{"array": arrayDataset, "lines": linesDataset} {
		t.Run(name, func(t *testing.T) {
			rows, seqs := collect(t, src, 1, 1)
			if len(rows) != 1 {
				t.Fatalf("expected 1 row, got %d", len(rows))
			}
			if seqs[0] != 1 || rows[0].Question != "Differentiate x^2" {
				t.Errorf("got seq %d question %q", seqs[0], rows[0].Question)
			}
		})
	}
}

func TestReadRows_OffsetPastEnd(t *testing.T) {
	rows, _ := collect(t, arrayDataset, 10, 0)
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %d", len(rows))
	}
}

func TestReadRows_Empty(t *testing.T) {
	rows, _ := collect(t, "  \n", 0, 0)
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %d", len(rows))
	}
}

func TestReadRows_StopEarly(t *testing.T) {
	calls := 0
	_, err := readRows(strings.NewReader(arrayDataset), 0, 0, func(*datasetRow, int) bool {
		calls++
		return false
	})
	if err != nil {
		t.Fatalf("readRows: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestReadRows_Malformed(t *testing.T) {
	_, err := readRows(strings.NewReader(`{"question": "a", "answer": "b"}`+"\n{broken"), 0, 0,
		func(*datasetRow, int) bool { return true })
	if err == nil {
		t.Fatal("expected decode error")
	}
}

func TestDatasetReader_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "math.jsonl")
	if err := os.WriteFile(path, []byte(linesDataset), 0o600); err != nil {
		t.Fatal(err)
	}
	r, err := newDatasetReader(path)
	if err != nil {
		t.Fatalf("newDatasetReader: %v", err)
	}
	n, err := r.Read(0, 0, func(*datasetRow, int) bool { return true })
	if err != nil || n != 3 {
		t.Fatalf("Read: n=%d err=%v", n, err)
	}

	if _, err := newDatasetReader(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing dataset")
	}
}
