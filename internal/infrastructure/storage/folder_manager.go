package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/qmsforge/riskflow/internal/application/port"
	"go.uber.org/zap"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9\-_]`)

// LocalFolderManager implements port.FolderManager for the local filesystem.
// The backup store keeps one folder per backup id under its base directory.
type LocalFolderManager struct {
	baseDir string
	logger  *zap.Logger
}

// NewLocalFolderManager creates a new LocalFolderManager
func NewLocalFolderManager(baseDir string, logger *zap.Logger) *LocalFolderManager {
	return &LocalFolderManager{
		baseDir: baseDir,
		logger:  logger,
	}
}

// CreateFolder creates a folder with the given name and returns its full path
func (m *LocalFolderManager) CreateFolder(ctx context.Context, name string) (string, error) {
	safeName := m.SanitizeName(name)
	if safeName == "" {
		return "", fmt.Errorf("cannot create folder: empty name")
	}

	folderPath := filepath.Join(m.baseDir, safeName)
	if err := os.MkdirAll(folderPath, 0o755); err != nil {
		m.logger.Error("Failed to create folder",
			zap.String("name", name),
			zap.String("folder_path", folderPath),
			zap.Error(err))
		return "", fmt.Errorf("%w: failed to create folder: %w", port.ErrStorage, err)
	}

	m.logger.Debug("Created folder",
		zap.String("name", name),
		zap.String("folder_path", folderPath))

	return folderPath, nil
}

// GetPath returns the path for a folder without creating it
func (m *LocalFolderManager) GetPath(name string) string {
	return filepath.Join(m.baseDir, m.SanitizeName(name))
}

// Exists checks if the folder already exists
func (m *LocalFolderManager) Exists(name string) bool {
	if m.SanitizeName(name) == "" {
		return false
	}
	info, err := os.Stat(m.GetPath(name))
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Delete removes a folder and all contents
func (m *LocalFolderManager) Delete(ctx context.Context, name string) error {
	if m.SanitizeName(name) == "" {
		return fmt.Errorf("cannot delete folder: empty name")
	}
	folderPath := m.GetPath(name)

	if err := os.RemoveAll(folderPath); err != nil {
		m.logger.Error("Failed to delete folder",
			zap.String("name", name),
			zap.String("folder_path", folderPath),
			zap.Error(err))
		return fmt.Errorf("%w: failed to delete folder: %w", port.ErrStorage, err)
	}

	m.logger.Debug("Deleted folder",
		zap.String("name", name),
		zap.String("folder_path", folderPath))

	return nil
}

// List returns the folder names under the base directory, sorted
func (m *LocalFolderManager) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: failed to list folders: %w", port.ErrStorage, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// SanitizeName returns a filesystem-safe version of the name.
// Path separators and parent references are dropped to prevent traversal.
func (m *LocalFolderManager) SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, "/", "")
	name = strings.ReplaceAll(name, "\\", "")

	return unsafeNameChars.ReplaceAllString(name, "")
}

// Verify interface compliance
var _ port.FolderManager = (*LocalFolderManager)(nil)
