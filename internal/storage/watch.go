package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/valter-silva-au/devassist/pkg/models"
)

// Watch tails the kind files and calls fn for every record appended after
// Watch was called. Existing content is not replayed. It blocks until ctx is
// done or the watcher fails. The log must live on the OS filesystem.
func (l *JSONLKnowledgeLog) Watch(ctx context.Context, fn func(models.KnowledgeRecord)) error {
	if err := l.fs.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("creating knowledge directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watching %s: %w", l.dir, err)
	}

	offsets := make(map[string]int64, len(models.AllKinds))
	for _, kind := range models.AllKinds {
		path := l.KindPath(kind)
		if info, err := l.fs.Stat(path); err == nil {
			offsets[path] = info.Size()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if shouldIgnoreEvent(event) {
				continue
			}
			path := filepath.Clean(event.Name)
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				delete(offsets, path)
				continue
			}
			offsets[path] = l.tail(path, offsets[path], fn)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch error: %w", err)
		}
	}
}

// tail decodes the complete lines written to path after offset and returns
// the offset just past the last complete line.
func (l *JSONLKnowledgeLog) tail(path string, offset int64, fn func(models.KnowledgeRecord)) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	f, err := l.fs.Open(path)
	if err != nil {
		return offset
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.Size() < offset {
		// Truncated or replaced; start over.
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return offset
	}

	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return offset
	}
	for _, line := range bytes.Split(data[:end], []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		if rec, ok := decodeRecord(line); ok {
			fn(rec)
		}
	}
	return offset + int64(end) + 1
}

func shouldIgnoreEvent(event fsnotify.Event) bool {
	if !strings.HasSuffix(event.Name, ".jsonl") {
		return true
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0
}
