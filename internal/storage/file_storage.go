// internal/storage/file_storage.go
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DocumentsURIPrefix is the storage-scheme prefix of every stored document
const DocumentsURIPrefix = "public://Documents/"

// FileStorage defines the interface for file storage operations
type FileStorage interface {
	// MoveToStorage copies src into the storage directory under filename and
	// returns its storage URI. Existing names are never overwritten.
	MoveToStorage(src, filename string) (string, error)

	// SaveFile atomically writes content to the specified full path.
	// Creates parent directories if needed
	SaveFile(fullPath string, content []byte) error

	// ValidatePath checks path security (no traversal, within base)
	ValidatePath(fullPath string) error
}

// Mirror receives every stored document for off-site replication
type Mirror interface {
	Enqueue(job ReplicateJob) bool
}

// LocalFileStorage implements FileStorage for local filesystem
type LocalFileStorage struct {
	baseDir string
	mirror  Mirror
	now     func() time.Time
	logger  *zap.Logger
}

// NewLocalFileStorage creates a new LocalFileStorage rooted at the documents directory
func NewLocalFileStorage(baseDir string, logger *zap.Logger) *LocalFileStorage {
	return &LocalFileStorage{
		baseDir: baseDir,
		now:     time.Now,
		logger:  logger,
	}
}

// WithMirror enables replication of stored documents
func (s *LocalFileStorage) WithMirror(m Mirror) *LocalFileStorage {
	s.mirror = m
	return s
}

// BaseDir returns the storage directory
func (s *LocalFileStorage) BaseDir() string {
	return s.baseDir
}

// MoveToStorage copies src into the storage directory. On a name collision
// the unix-millis timestamp is appended to the base name: a.pdf -> a_1717312345678.pdf
func (s *LocalFileStorage) MoveToStorage(src, filename string) (string, error) {
	filename = filepath.Base(filename)
	if filename == "." || filename == string(filepath.Separator) {
		return "", fmt.Errorf("invalid storage filename: %q", filename)
	}

	if err := os.MkdirAll(s.baseDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create storage directory: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()

	name := filename
	out, err := s.createExclusive(name)
	if errors.Is(err, fs.ErrExist) {
		name = s.collisionName(filename, 0)
		out, err = s.createExclusive(name)
		for attempt := 1; errors.Is(err, fs.ErrExist) && attempt < 100; attempt++ {
			name = s.collisionName(filename, attempt)
			out, err = s.createExclusive(name)
		}
	}
	if err != nil {
		return "", fmt.Errorf("failed to create destination file: %w", err)
	}

	destPath := filepath.Join(s.baseDir, name)
	hasher := sha256.New()
	size, err := io.Copy(out, io.TeeReader(in, hasher))
	if err != nil {
		out.Close()
		os.Remove(destPath)
		return "", fmt.Errorf("failed to copy file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(destPath)
		return "", fmt.Errorf("failed to close destination file: %w", err)
	}

	if name != filename {
		s.logger.Info("Storage name collision, stored under new name",
			zap.String("requested", filename),
			zap.String("stored", name))
	}

	if s.mirror != nil {
		job := ReplicateJob{Filename: name, Size: size, Hash: hex.EncodeToString(hasher.Sum(nil))}
		if !s.mirror.Enqueue(job) {
			s.logger.Warn("Mirror queue rejected document", zap.String("filename", name))
		}
	}

	return DocumentsURIPrefix + name, nil
}

func (s *LocalFileStorage) createExclusive(name string) (*os.File, error) {
	path := filepath.Join(s.baseDir, name)
	if err := s.ValidatePath(path); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
}

func (s *LocalFileStorage) collisionName(filename string, attempt int) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	stamp := s.now().UnixMilli()
	if attempt > 0 {
		return fmt.Sprintf("%s_%d_%d%s", base, stamp, attempt, ext)
	}
	return fmt.Sprintf("%s_%d%s", base, stamp, ext)
}

// Open returns a reader for a stored document
func (s *LocalFileStorage) Open(filename string) (io.ReadCloser, int64, error) {
	path := filepath.Join(s.baseDir, filepath.Base(filename))
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open stored file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat stored file: %w", err)
	}
	return f, info.Size(), nil
}

// SaveFile writes content through a temp file and rename so readers never
// observe a partially written file
func (s *LocalFileStorage) SaveFile(fullPath string, content []byte) error {
	// Validate path security
	if err := s.ValidatePath(fullPath); err != nil {
		return err
	}

	// Create parent directories
	parentDir := filepath.Dir(fullPath)
	if err := os.MkdirAll(parentDir, 0755); err != nil {
		s.logger.Error("Failed to create parent directories",
			zap.String("path", parentDir),
			zap.Error(err))
		return fmt.Errorf("failed to create directories: %w", err)
	}

	tmp, err := os.CreateTemp(parentDir, "."+filepath.Base(fullPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		s.logger.Error("Failed to write file",
			zap.String("path", fullPath),
			zap.Error(err))
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace file: %w", err)
	}

	s.logger.Debug("File saved successfully",
		zap.String("path", fullPath),
		zap.Int("size", len(content)))

	return nil
}

// ValidatePath checks that the path is safe and within baseDir
func (s *LocalFileStorage) ValidatePath(fullPath string) error {
	// Resolve to absolute path
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base path: %w", err)
	}

	// Proper check: ensure path starts with base + separator or equals base
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) && absPath != absBase {
		return fmt.Errorf("path escapes base directory: %s", fullPath)
	}

	return nil
}
