package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/qmsforge/riskflow/internal/application/port"
	"go.uber.org/zap"
)

// LocalFileStorage implements port.FileStorage for the local filesystem.
// Writes go to a temp file in the target directory, are fsynced, and are
// renamed over the target so readers never observe a partial file.
type LocalFileStorage struct {
	baseDir string
	logger  *zap.Logger
}

// NewLocalFileStorage creates a new LocalFileStorage
func NewLocalFileStorage(baseDir string, logger *zap.Logger) *LocalFileStorage {
	return &LocalFileStorage{
		baseDir: baseDir,
		logger:  logger,
	}
}

// Save atomically replaces the file at the relative path with content
func (s *LocalFileStorage) Save(ctx context.Context, path string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPath := s.GetFullPath(path)
	if err := s.validatePath(fullPath); err != nil {
		return err
	}

	parentDir := filepath.Dir(fullPath)
	if err := os.MkdirAll(parentDir, 0o755); err != nil {
		s.logger.Error("Failed to create parent directories",
			zap.String("path", parentDir),
			zap.Error(err))
		return fmt.Errorf("%w: failed to create directories: %w", port.ErrStorage, err)
	}

	tmp, err := os.CreateTemp(parentDir, "."+filepath.Base(fullPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %w", port.ErrStorage, err)
	}
	tmpPath := tmp.Name()

	commit := func() error {
		if _, err := tmp.Write(content); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write temp file: %w", err)
		}
		if err := tmp.Sync(); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("sync temp file: %w", err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("close temp file: %w", err)
		}
		if err := os.Rename(tmpPath, fullPath); err != nil {
			return fmt.Errorf("rename temp file: %w", err)
		}
		return syncDir(parentDir)
	}

	if err := commit(); err != nil {
		_ = os.Remove(tmpPath)
		s.logger.Error("Failed to write file",
			zap.String("path", fullPath),
			zap.Error(err))
		return fmt.Errorf("%w: failed to write file: %w", port.ErrStorage, err)
	}

	s.logger.Debug("File saved successfully",
		zap.String("path", fullPath),
		zap.Int("size", len(content)))

	return nil
}

// Read reads content from the specified relative path
func (s *LocalFileStorage) Read(ctx context.Context, path string) ([]byte, error) {
	fullPath := s.GetFullPath(path)

	if err := s.validatePath(fullPath); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Error("Failed to read file",
				zap.String("path", fullPath),
				zap.Error(err))
		}
		return nil, fmt.Errorf("%w: failed to read file: %w", port.ErrStorage, err)
	}

	return content, nil
}

// Exists checks if a file exists at the specified relative path
func (s *LocalFileStorage) Exists(ctx context.Context, path string) bool {
	_, err := os.Stat(s.GetFullPath(path))
	return err == nil
}

// Delete removes a file or directory tree at the specified relative path
func (s *LocalFileStorage) Delete(ctx context.Context, path string) error {
	fullPath := s.GetFullPath(path)

	if err := s.validatePath(fullPath); err != nil {
		return err
	}

	// Missing target is a successful delete
	if err := os.RemoveAll(fullPath); err != nil {
		s.logger.Error("Failed to delete path",
			zap.String("path", fullPath),
			zap.Error(err))
		return fmt.Errorf("%w: failed to delete: %w", port.ErrStorage, err)
	}

	return nil
}

// List returns the regular files directly inside dir, sorted by name.
// Temp files left by interrupted writes are skipped.
func (s *LocalFileStorage) List(ctx context.Context, dir string) ([]port.FileInfo, error) {
	fullPath := s.GetFullPath(dir)
	if err := s.validatePath(fullPath); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []port.FileInfo{}, nil
		}
		return nil, fmt.Errorf("%w: failed to list directory: %w", port.ErrStorage, err)
	}

	files := make([]port.FileInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to stat %s: %w", port.ErrStorage, entry.Name(), err)
		}
		files = append(files, port.FileInfo{
			Name:    entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	return files, nil
}

// ReplaceDir swaps the directory at dst for the one at src. The previous dst
// is moved aside first and restored if the swap fails.
func (s *LocalFileStorage) ReplaceDir(ctx context.Context, src, dst string) error {
	srcPath := s.GetFullPath(src)
	dstPath := s.GetFullPath(dst)
	for _, p := range []string{srcPath, dstPath} {
		if err := s.validatePath(p); err != nil {
			return err
		}
	}

	retired := ""
	if _, err := os.Stat(dstPath); err == nil {
		retired = fmt.Sprintf("%s.old-%d", dstPath, time.Now().UnixNano())
		if err := os.Rename(dstPath, retired); err != nil {
			return fmt.Errorf("%w: failed to move aside %s: %w", port.ErrStorage, dst, err)
		}
	}

	if err := os.Rename(srcPath, dstPath); err != nil {
		if retired != "" {
			if rbErr := os.Rename(retired, dstPath); rbErr != nil {
				s.logger.Error("Failed to roll back directory swap",
					zap.String("path", dstPath),
					zap.Error(rbErr))
			}
		}
		return fmt.Errorf("%w: failed to swap in %s: %w", port.ErrStorage, dst, err)
	}

	if err := syncDir(filepath.Dir(dstPath)); err != nil {
		return fmt.Errorf("%w: failed to sync %s: %w", port.ErrStorage, dst, err)
	}

	if retired != "" {
		if err := os.RemoveAll(retired); err != nil {
			s.logger.Warn("Failed to remove retired directory",
				zap.String("path", retired),
				zap.Error(err))
		}
	}

	s.logger.Debug("Directory replaced",
		zap.String("src", srcPath),
		zap.String("dst", dstPath))

	return nil
}

// GetFullPath converts a relative path to full path
func (s *LocalFileStorage) GetFullPath(relativePath string) string {
	return filepath.Join(s.baseDir, relativePath)
}

// validatePath checks that the path is safe and within baseDir
func (s *LocalFileStorage) validatePath(fullPath string) error {
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) && absPath != absBase {
		return fmt.Errorf("path escapes base directory: %s", fullPath)
	}

	return nil
}

// syncDir flushes a directory entry so a completed rename survives a crash
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return err
	}
	return nil
}

// Verify interface compliance
var _ port.FileStorage = (*LocalFileStorage)(nil)
