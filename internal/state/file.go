package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"icssync/internal/fileutil"
	"icssync/internal/model"
)

// FileStore keeps one JSON file per calendar holding a flat
// identifier -> fingerprint object.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir. The directory is created on
// first Save.
func NewFileStore(dir string) *FileStore {
	if dir == "" {
		dir = "."
	}
	return &FileStore{dir: dir}
}

var calendarIDReplacer = strings.NewReplacer(
	"@", "_",
	".", "_",
	"/", "_",
	"\\", "_",
	":", "_",
)

// Path returns the state file used for calendarID.
func (s *FileStore) Path(calendarID string) string {
	return filepath.Join(s.dir, "last_synced_"+calendarIDReplacer.Replace(calendarID)+".json")
}

// Load reads the saved mapping. A missing file yields an empty map.
func (s *FileStore) Load(_ context.Context, calendarID string) (map[string]string, error) {
	path := s.Path(calendarID)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("%w: read %s: %w", model.ErrRecordIO, path, err)
	}

	out := map[string]string{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", model.ErrRecordIO, path, err)
	}
	return out, nil
}

// Save replaces the saved mapping. The file is written to a temp file in the
// same directory and renamed over the target.
func (s *FileStore) Save(_ context.Context, calendarID string, fingerprints map[string]string) error {
	if fingerprints == nil {
		fingerprints = map[string]string{}
	}
	data, err := json.MarshalIndent(fingerprints, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode state: %w", model.ErrRecordIO, err)
	}
	if err := fileutil.WriteAtomic(s.Path(calendarID), data); err != nil {
		return fmt.Errorf("%w: %w", model.ErrRecordIO, err)
	}
	return nil
}
