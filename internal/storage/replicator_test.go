package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memSource struct {
	files map[string]string
}

func (s *memSource) Open(filename string) (io.ReadCloser, int64, error) {
	content, ok := s.files[filename]
	if !ok {
		return nil, 0, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader([]byte(content))), int64(len(content)), nil
}

type memStore struct {
	mu       sync.Mutex
	objects  map[string]string
	failures int
	attempts int
}

func (s *memStore) Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts++
	data, err := io.ReadAll(reader)
	if err != nil {
		return 0, "", err
	}
	if s.failures > 0 {
		s.failures--
		return 0, "", errors.New("connection reset")
	}
	if s.objects == nil {
		s.objects = make(map[string]string)
	}
	s.objects[filename] = string(data)
	sum := sha256.Sum256(data)
	return int64(len(data)), hex.EncodeToString(sum[:]), nil
}

func (s *memStore) get(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.objects[name]
	return v, ok
}

func hashOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestReplicator(t *testing.T) {
	logger := zap.NewNop()

	t.Run("replicates queued documents before stop returns", func(t *testing.T) {
		local := &memSource{files: map[string]string{"a.pdf": "aaa", "b.pdf": "bb"}}
		remote := &memStore{}
		r := NewReplicator(local, remote, 10, 2, 0, logger)
		r.Start(context.Background())

		assert.True(t, r.Enqueue(ReplicateJob{Filename: "a.pdf", Size: 3, Hash: hashOf("aaa")}))
		assert.True(t, r.Enqueue(ReplicateJob{Filename: "b.pdf"}))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, r.Stop(ctx))

		got, ok := remote.get("a.pdf")
		assert.True(t, ok)
		assert.Equal(t, "aaa", got)
		_, ok = remote.get("b.pdf")
		assert.True(t, ok)
	})

	t.Run("retries transient failures", func(t *testing.T) {
		local := &memSource{files: map[string]string{"a.pdf": "aaa"}}
		remote := &memStore{failures: 2}
		r := NewReplicator(local, remote, 10, 1, 3, logger)
		r.Start(context.Background())

		require.True(t, r.Enqueue(ReplicateJob{Filename: "a.pdf"}))
		require.NoError(t, r.Stop(context.Background()))

		_, ok := remote.get("a.pdf")
		assert.True(t, ok)
		assert.Equal(t, 3, remote.attempts)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		local := &memSource{files: map[string]string{"a.pdf": "aaa"}}
		remote := &memStore{failures: 10}
		r := NewReplicator(local, remote, 10, 1, 1, logger)
		r.Start(context.Background())

		require.True(t, r.Enqueue(ReplicateJob{Filename: "a.pdf"}))
		require.NoError(t, r.Stop(context.Background()))

		_, ok := remote.get("a.pdf")
		assert.False(t, ok)
		assert.Equal(t, 2, remote.attempts)
	})

	t.Run("hash mismatch is a failure", func(t *testing.T) {
		r := NewReplicator(&memSource{files: map[string]string{"a.pdf": "aaa"}}, &memStore{}, 1, 1, 0, logger)
		err := r.replicateOnce(context.Background(), ReplicateJob{Filename: "a.pdf", Hash: hashOf("other")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "hash mismatch")
	})

	t.Run("missing local file is a failure", func(t *testing.T) {
		r := NewReplicator(&memSource{}, &memStore{}, 1, 1, 0, logger)
		assert.Error(t, r.replicateOnce(context.Background(), ReplicateJob{Filename: "a.pdf"}))
	})

	t.Run("enqueue after stop is rejected", func(t *testing.T) {
		r := NewReplicator(&memSource{}, &memStore{}, 1, 1, 0, logger)
		r.Start(context.Background())
		require.NoError(t, r.Stop(context.Background()))

		assert.False(t, r.Enqueue(ReplicateJob{Filename: "a.pdf"}))
		assert.NoError(t, r.Stop(context.Background()), "second stop is a no-op")
	})

	t.Run("full queue rejects", func(t *testing.T) {
		r := NewReplicator(&memSource{}, &memStore{}, 1, 1, 0, logger)
		assert.True(t, r.Enqueue(ReplicateJob{Filename: "a.pdf"}))
		assert.False(t, r.Enqueue(ReplicateJob{Filename: "b.pdf"}))
	})
}

func TestObjectName(t *testing.T) {
	name, err := objectName(normalizeBasePath("/Documents/"), "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "Documents/a.pdf", name)

	name, err = objectName("", "/x/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "x/a.pdf", name)

	_, err = objectName("Documents/", "../a.pdf")
	assert.Error(t, err)

	_, err = objectName("Documents/", "  ")
	assert.Error(t, err)
}
