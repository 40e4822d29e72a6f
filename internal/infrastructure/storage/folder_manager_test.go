package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalFolderManager_CreateFolder(t *testing.T) {
	tempDir := t.TempDir()
	logger, _ := zap.NewDevelopment()
	fm := NewLocalFolderManager(tempDir, logger)
	ctx := context.Background()

	t.Run("creates folder for backup id", func(t *testing.T) {
		path, err := fm.CreateFolder(ctx, "backup-20261017T083000Z-0a1b2c3d")

		require.NoError(t, err)
		assert.DirExists(t, path)
		assert.Equal(t, filepath.Join(tempDir, "backup-20261017T083000Z-0a1b2c3d"), path)
	})

	t.Run("is idempotent", func(t *testing.T) {
		_, err := fm.CreateFolder(ctx, "twice")
		require.NoError(t, err)
		_, err = fm.CreateFolder(ctx, "twice")
		assert.NoError(t, err)
	})

	t.Run("rejects name that sanitizes to empty", func(t *testing.T) {
		_, err := fm.CreateFolder(ctx, "../..")
		assert.Error(t, err)
	})

	t.Run("prevents path traversal", func(t *testing.T) {
		path, err := fm.CreateFolder(ctx, "../../../etc/passwd")

		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(path, tempDir))
		assert.NotContains(t, path, "..")
	})
}

func TestLocalFolderManager_ExistsAndDelete(t *testing.T) {
	tempDir := t.TempDir()
	logger, _ := zap.NewDevelopment()
	fm := NewLocalFolderManager(tempDir, logger)
	ctx := context.Background()

	t.Run("deletes existing folder and contents", func(t *testing.T) {
		path, err := fm.CreateFolder(ctx, "DELETE-ME")
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(path, "manifest.json"), []byte("{}"), 0o644))
		assert.True(t, fm.Exists("DELETE-ME"))

		require.NoError(t, fm.Delete(ctx, "DELETE-ME"))

		assert.NoDirExists(t, path)
		assert.False(t, fm.Exists("DELETE-ME"))
	})

	t.Run("missing folder deletes cleanly", func(t *testing.T) {
		assert.NoError(t, fm.Delete(ctx, "NEVER-EXISTED"))
	})

	t.Run("files are not folders", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(tempDir, "plain"), []byte("x"), 0o644))
		assert.False(t, fm.Exists("plain"))
	})

	t.Run("empty name", func(t *testing.T) {
		assert.False(t, fm.Exists(""))
		assert.Error(t, fm.Delete(ctx, "/"))
	})
}

func TestLocalFolderManager_List(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	ctx := context.Background()

	t.Run("missing base directory lists nothing", func(t *testing.T) {
		fm := NewLocalFolderManager(filepath.Join(t.TempDir(), "absent"), logger)

		names, err := fm.List(ctx)

		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("sorted folders without hidden entries or files", func(t *testing.T) {
		tempDir := t.TempDir()
		fm := NewLocalFolderManager(tempDir, logger)
		for _, name := range []string{"backup-b", "backup-a", ".staging"} {
			require.NoError(t, os.MkdirAll(filepath.Join(tempDir, name), 0o755))
		}
		require.NoError(t, os.WriteFile(filepath.Join(tempDir, "notes.txt"), []byte("x"), 0o644))

		names, err := fm.List(ctx)

		require.NoError(t, err)
		assert.Equal(t, []string{"backup-a", "backup-b"}, names)
	})
}

func TestLocalFolderManager_SanitizeName(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	fm := NewLocalFolderManager(t.TempDir(), logger)

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "keeps backup id",
			input:    "backup-20261017T083000Z-0a1b2c3d",
			expected: "backup-20261017T083000Z-0a1b2c3d",
		},
		{
			name:     "removes path separators",
			input:    "../../../etc/passwd",
			expected: "etcpasswd",
		},
		{
			name:     "removes special characters",
			input:    "test<>:\"|?*file",
			expected: "testfile",
		},
		{
			name:     "preserves underscores and hyphens",
			input:    "test_file-name",
			expected: "test_file-name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, fm.SanitizeName(tt.input))
		})
	}
}
