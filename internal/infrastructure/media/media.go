// Package media stores per-step artifacts on the local filesystem, one
// directory per task.
package media

import (
	"fmt"
	"os"
	"path/filepath"

	"browser-bridge/internal/application/port/output"
	"browser-bridge/internal/domain/entity"
)

type FileStore struct {
	dir string
}

var _ output.MediaStore = (*FileStore)(nil)

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "media"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) SaveScreenshot(taskID string, stepIndex int, shot *entity.Screenshot) (string, error) {
	taskDir := filepath.Join(s.dir, taskID)
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		return "", fmt.Errorf("create task media dir: %w", err)
	}
	ext := shot.Format
	if ext == "" {
		ext = "jpeg"
	}
	path := filepath.Join(taskDir, fmt.Sprintf("step_%03d.%s", stepIndex, ext))
	if err := os.WriteFile(path, shot.Data, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}
