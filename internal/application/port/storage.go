package port

import (
	"context"
	"time"
)

// FileInfo describes a stored file
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// FileStorage defines file storage operations rooted at a base directory
type FileStorage interface {
	// Save atomically replaces the file at path with content
	Save(ctx context.Context, path string, content []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) bool
	Delete(ctx context.Context, path string) error
	// List returns the regular files directly inside dir, sorted by name
	List(ctx context.Context, dir string) ([]FileInfo, error)
	// ReplaceDir swaps the directory at dst for the one at src
	ReplaceDir(ctx context.Context, src, dst string) error
	GetFullPath(relativePath string) string
}

// FolderManager defines folder management operations
type FolderManager interface {
	CreateFolder(ctx context.Context, name string) (string, error)
	GetPath(name string) string
	Exists(name string) bool
	Delete(ctx context.Context, name string) error
	SanitizeName(name string) string
	// List returns the names of the folders under the base directory, sorted
	List(ctx context.Context) ([]string, error)
}
