// internal/storage/file_storage_test.go
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingMirror struct {
	jobs   []ReplicateJob
	reject bool
}

func (m *recordingMirror) Enqueue(job ReplicateJob) bool {
	if m.reject {
		return false
	}
	m.jobs = append(m.jobs, job)
	return true
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLocalFileStorage_MoveToStorage(t *testing.T) {
	logger := zap.NewNop()

	t.Run("copies file and returns storage uri", func(t *testing.T) {
		srcDir, docs := t.TempDir(), t.TempDir()
		src := writeSource(t, srcDir, "scan.pdf", "PDF content")
		fs := NewLocalFileStorage(docs, logger)

		uri, err := fs.MoveToStorage(src, "CA12135_endo_060225.pdf")

		require.NoError(t, err)
		assert.Equal(t, "public://Documents/CA12135_endo_060225.pdf", uri)
		content, err := os.ReadFile(filepath.Join(docs, "CA12135_endo_060225.pdf"))
		require.NoError(t, err)
		assert.Equal(t, "PDF content", string(content))
		assert.FileExists(t, src, "source must stay in the daily folder")
	})

	t.Run("creates storage directory", func(t *testing.T) {
		src := writeSource(t, t.TempDir(), "a.pdf", "x")
		docs := filepath.Join(t.TempDir(), "files", "Documents")
		fs := NewLocalFileStorage(docs, logger)

		_, err := fs.MoveToStorage(src, "a.pdf")

		require.NoError(t, err)
		assert.FileExists(t, filepath.Join(docs, "a.pdf"))
	})

	t.Run("collision appends unix millis", func(t *testing.T) {
		srcDir, docs := t.TempDir(), t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(docs, "a.pdf"), []byte("old"), 0644))
		src := writeSource(t, srcDir, "a.pdf", "new")

		fs := NewLocalFileStorage(docs, logger)
		fs.now = func() time.Time { return time.UnixMilli(1717312345678) }

		uri, err := fs.MoveToStorage(src, "a.pdf")

		require.NoError(t, err)
		assert.Equal(t, "public://Documents/a_1717312345678.pdf", uri)
		old, _ := os.ReadFile(filepath.Join(docs, "a.pdf"))
		assert.Equal(t, "old", string(old), "existing file must not be overwritten")
	})

	t.Run("repeated collision within the same millisecond", func(t *testing.T) {
		srcDir, docs := t.TempDir(), t.TempDir()
		src := writeSource(t, srcDir, "a.pdf", "x")
		fs := NewLocalFileStorage(docs, logger)
		fs.now = func() time.Time { return time.UnixMilli(1000) }

		var uris []string
		for i := 0; i < 3; i++ {
			uri, err := fs.MoveToStorage(src, "a.pdf")
			require.NoError(t, err)
			uris = append(uris, uri)
		}

		assert.Equal(t, []string{
			"public://Documents/a.pdf",
			"public://Documents/a_1000.pdf",
			"public://Documents/a_1000_1.pdf",
		}, uris)
	})

	t.Run("strips directories from the requested name", func(t *testing.T) {
		src := writeSource(t, t.TempDir(), "a.pdf", "x")
		docs := t.TempDir()
		fs := NewLocalFileStorage(docs, logger)

		uri, err := fs.MoveToStorage(src, "../../etc/a.pdf")

		require.NoError(t, err)
		assert.Equal(t, "public://Documents/a.pdf", uri)
		assert.FileExists(t, filepath.Join(docs, "a.pdf"))
	})

	t.Run("missing source", func(t *testing.T) {
		fs := NewLocalFileStorage(t.TempDir(), logger)
		_, err := fs.MoveToStorage("/nonexistent/a.pdf", "a.pdf")
		assert.Error(t, err)
	})

	t.Run("mirror receives stored name size and hash", func(t *testing.T) {
		src := writeSource(t, t.TempDir(), "a.pdf", "hello")
		mirror := &recordingMirror{}
		fs := NewLocalFileStorage(t.TempDir(), logger).WithMirror(mirror)

		_, err := fs.MoveToStorage(src, "a.pdf")

		require.NoError(t, err)
		require.Len(t, mirror.jobs, 1)
		sum := sha256.Sum256([]byte("hello"))
		assert.Equal(t, ReplicateJob{Filename: "a.pdf", Size: 5, Hash: hex.EncodeToString(sum[:])}, mirror.jobs[0])
	})

	t.Run("rejected mirror job does not fail the move", func(t *testing.T) {
		src := writeSource(t, t.TempDir(), "a.pdf", "hello")
		fs := NewLocalFileStorage(t.TempDir(), logger).WithMirror(&recordingMirror{reject: true})

		_, err := fs.MoveToStorage(src, "a.pdf")
		assert.NoError(t, err)
	})
}

func TestLocalFileStorage_Open(t *testing.T) {
	docs := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(docs, "a.pdf"), []byte("abc"), 0644))
	fs := NewLocalFileStorage(docs, zap.NewNop())

	rc, size, err := fs.Open("a.pdf")
	require.NoError(t, err)
	defer rc.Close()

	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)
	assert.Equal(t, "abc", string(content))

	_, _, err = fs.Open("missing.pdf")
	assert.Error(t, err)
}

func TestLocalFileStorage_SaveFile(t *testing.T) {
	tempDir := t.TempDir()
	logger, _ := zap.NewDevelopment()
	fs := NewLocalFileStorage(tempDir, logger)

	t.Run("saves file successfully", func(t *testing.T) {
		fullPath := filepath.Join(tempDir, "logs", "backlog-run.json")
		content := []byte(`{"runId":"x"}`)

		err := fs.SaveFile(fullPath, content)

		require.NoError(t, err)
		savedContent, err := os.ReadFile(fullPath)
		require.NoError(t, err)
		assert.Equal(t, content, savedContent)
	})

	t.Run("overwrites existing file and leaves no temp files", func(t *testing.T) {
		fullPath := filepath.Join(tempDir, "overwrite", "file.txt")

		require.NoError(t, fs.SaveFile(fullPath, []byte("original")))
		require.NoError(t, fs.SaveFile(fullPath, []byte("updated")))

		content, _ := os.ReadFile(fullPath)
		assert.Equal(t, []byte("updated"), content)

		entries, err := os.ReadDir(filepath.Dir(fullPath))
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("saves empty file", func(t *testing.T) {
		fullPath := filepath.Join(tempDir, "empty.txt")
		require.NoError(t, fs.SaveFile(fullPath, []byte{}))

		info, err := os.Stat(fullPath)
		require.NoError(t, err)
		assert.Equal(t, int64(0), info.Size())
	})

	t.Run("rejects path outside base", func(t *testing.T) {
		err := fs.SaveFile(filepath.Join(tempDir, "..", "escape.txt"), []byte("x"))
		assert.Error(t, err)
	})
}

func TestLocalFileStorage_ValidatePath(t *testing.T) {
	tempDir := t.TempDir()
	fs := NewLocalFileStorage(tempDir, zap.NewNop())

	t.Run("accepts valid path within base", func(t *testing.T) {
		assert.NoError(t, fs.ValidatePath(filepath.Join(tempDir, "a.pdf")))
	})

	t.Run("rejects path outside base directory", func(t *testing.T) {
		err := fs.ValidatePath("/etc/passwd")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "escapes base directory")
	})

	t.Run("rejects path traversal attempt", func(t *testing.T) {
		assert.Error(t, fs.ValidatePath(filepath.Join(tempDir, "..", "..", "etc", "passwd")))
	})

	t.Run("rejects path with similar prefix", func(t *testing.T) {
		err := fs.ValidatePath(tempDir + "_malicious/file.txt")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "escapes base directory")
	})
}
