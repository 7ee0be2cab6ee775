package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// FileStore keeps session blobs on the local filesystem, one file per
// identity hash. It is the default backend.
type FileStore struct {
	dir    string
	logger zerolog.Logger
}

// NewFileStore creates a FileStore rooted at dir, creating the directory if
// needed.
func NewFileStore(dir string, logger zerolog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating session directory %s: %w", dir, err)
	}
	return &FileStore{
		dir:    dir,
		logger: logger.With().Str("component", "FileStore").Logger(),
	}, nil
}

// Load reads the blob for id.
func (s *FileStore) Load(_ context.Context, id string) ([]byte, error) {
	path := s.path(id)
	blob, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("reading session file %s: %w", path, err)
	}

	s.logger.Info().Str("path", path).Msg("Found existing session file.")
	return blob, nil
}

// Save writes the blob for id, replacing any previous file.
func (s *FileStore) Save(_ context.Context, id string, blob []byte) error {
	path := s.path(id)
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return fmt.Errorf("writing session file %s: %w", path, err)
	}
	return nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, "session."+id+".json")
}
