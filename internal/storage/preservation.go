package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"github.com/valter-silva-au/devassist/pkg/models"
	"gopkg.in/yaml.v3"
)

type preservationFile struct {
	Version  string                      `yaml:"version"`
	Sessions []models.PreservationRecord `yaml:"sessions"`
}

// YAMLPreservationArchive keeps session roll-ups in preserved.yaml, newest
// first. It satisfies core.PreservationArchive.
type YAMLPreservationArchive struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// NewYAMLPreservationArchive creates an archive stored at dir/preserved.yaml.
func NewYAMLPreservationArchive(fs afero.Fs, dir string) *YAMLPreservationArchive {
	return &YAMLPreservationArchive{fs: fs, path: filepath.Join(dir, "preserved.yaml")}
}

// Prepend adds rec at the front and drops the oldest entries beyond keep.
func (a *YAMLPreservationArchive) Prepend(rec models.PreservationRecord, keep int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	file, err := a.load()
	if err != nil {
		return err
	}
	file.Sessions = append([]models.PreservationRecord{rec}, file.Sessions...)
	if keep > 0 && len(file.Sessions) > keep {
		file.Sessions = file.Sessions[:keep]
	}
	if file.Version == "" {
		file.Version = "1.0"
	}

	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("encoding preservation archive: %w", err)
	}
	if err := a.fs.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("creating knowledge directory: %w", err)
	}
	return writeFileAtomic(a.fs, a.path, data)
}

// List returns the preserved roll-ups, newest first.
func (a *YAMLPreservationArchive) List() ([]models.PreservationRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	file, err := a.load()
	if err != nil {
		return nil, err
	}
	return file.Sessions, nil
}

func (a *YAMLPreservationArchive) load() (preservationFile, error) {
	var file preservationFile
	data, err := afero.ReadFile(a.fs, a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return file, nil
		}
		return file, fmt.Errorf("reading preservation archive: %w", err)
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return file, fmt.Errorf("parsing preservation archive: %w", err)
	}
	return file, nil
}
