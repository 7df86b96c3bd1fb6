package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/afero"
	"github.com/valter-silva-au/devassist/pkg/models"
)

// ErrCorruptRecords is wrapped by read errors that skipped malformed content.
// Records that could be decoded are still returned alongside it.
var ErrCorruptRecords = errors.New("corrupt knowledge records skipped")

// maxLineSize bounds a single JSONL line.
const maxLineSize = 4 * 1024 * 1024

// JSONLKnowledgeLog is an append-only knowledge log with one JSONL file per
// record kind under dir.
type JSONLKnowledgeLog struct {
	fs  afero.Fs
	dir string
	mu  sync.RWMutex
}

// NewJSONLKnowledgeLog creates a JSONL knowledge log rooted at dir, usually
// .devassist/knowledge.
func NewJSONLKnowledgeLog(fs afero.Fs, dir string) *JSONLKnowledgeLog {
	return &JSONLKnowledgeLog{fs: fs, dir: dir}
}

// Dir returns the directory holding the kind files.
func (l *JSONLKnowledgeLog) Dir() string { return l.dir }

// KindPath returns the file that holds records of kind.
func (l *JSONLKnowledgeLog) KindPath(kind models.KnowledgeKind) string {
	return filepath.Join(l.dir, string(kind)+".jsonl")
}

// Append writes rec as one line to its kind file and syncs it to disk.
func (l *JSONLKnowledgeLog) Append(rec models.KnowledgeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding knowledge record %s: %w", rec.ID, err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fs.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("creating knowledge directory: %w", err)
	}
	path := l.KindPath(rec.Kind)
	f, err := l.fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("appending to %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	return f.Close()
}

// ReadAll returns every record across all kind files in creation order.
// Malformed lines are skipped; a file that cannot be read counts as empty.
// In both cases the returned error wraps ErrCorruptRecords.
func (l *JSONLKnowledgeLog) ReadAll() ([]models.KnowledgeRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var (
		out      []models.KnowledgeRecord
		problems []string
	)
	for _, kind := range models.AllKinds {
		recs, skipped, err := l.readFile(l.KindPath(kind))
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		if skipped > 0 {
			problems = append(problems, fmt.Sprintf("%s: %d malformed lines", l.KindPath(kind), skipped))
		}
		out = append(out, recs...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if len(problems) > 0 {
		return out, fmt.Errorf("%w: %v", ErrCorruptRecords, problems)
	}
	return out, nil
}

func (l *JSONLKnowledgeLog) readFile(path string) ([]models.KnowledgeRecord, int, error) {
	f, err := l.fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var (
		recs    []models.KnowledgeRecord
		skipped int
	)
	// An oversized line is skipped on its own; the lines after it still decode.
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		line = bytes.TrimRight(line, "\r\n")
		switch {
		case len(line) == 0:
		case len(line) > maxLineSize:
			skipped++
		default:
			if rec, ok := decodeRecord(line); ok {
				recs = append(recs, rec)
			} else {
				skipped++
			}
		}
		if errors.Is(err, io.EOF) {
			return recs, skipped, nil
		}
		if err != nil {
			return recs, skipped + 1, nil
		}
	}
}

// decodeRecord parses one line and rejects records missing an id or kind.
func decodeRecord(line []byte) (models.KnowledgeRecord, bool) {
	var rec models.KnowledgeRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return rec, false
	}
	if rec.ID == "" {
		return rec, false
	}
	if _, ok := models.ParseKind(string(rec.Kind)); !ok {
		return rec, false
	}
	return rec, true
}
