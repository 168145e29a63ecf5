package storage

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// ObjectStore is a remote store documents are mirrored into
type ObjectStore interface {
	Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error)
}

// LocalSource opens stored documents for replication
type LocalSource interface {
	Open(filename string) (io.ReadCloser, int64, error)
}

// ReplicateJob is one stored document waiting to be mirrored
type ReplicateJob struct {
	Filename string
	Size     int64
	Hash     string
	Retries  int
}

// Replicator mirrors stored documents to an object store in the background.
// Mirroring is best effort and never affects the import outcome.
type Replicator struct {
	local  LocalSource
	remote ObjectStore

	queue      chan ReplicateJob
	workerNum  int
	maxRetries int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	logger *zap.Logger
}

// NewReplicator creates a new Replicator
func NewReplicator(local LocalSource, remote ObjectStore, queueSize, workerNum, maxRetries int, logger *zap.Logger) *Replicator {
	if queueSize <= 0 {
		queueSize = 100
	}
	if workerNum <= 0 {
		workerNum = 1
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Replicator{
		local:      local,
		remote:     remote,
		queue:      make(chan ReplicateJob, queueSize),
		workerNum:  workerNum,
		maxRetries: maxRetries,
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger,
	}
}

// Start launches the workers
func (r *Replicator) Start(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.wg.Add(r.workerNum)
	for i := 0; i < r.workerNum; i++ {
		go r.worker()
	}
}

// Stop stops accepting jobs and waits for queued jobs to drain
func (r *Replicator) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		r.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	case <-doneCh:
	}

	r.cancel()
	r.logger.Info("Replicator stopped")
	return nil
}

// Enqueue schedules a job; it returns false when the queue is full or closed
func (r *Replicator) Enqueue(job ReplicateJob) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return false
	}

	select {
	case r.queue <- job:
		return true
	default:
		return false
	}
}

func (r *Replicator) worker() {
	defer r.wg.Done()

	for job := range r.queue {
		if r.ctx.Err() != nil {
			return
		}
		r.handleJob(r.ctx, job)
	}
}

// handleJob retries inline; the queue is closed on Stop so jobs are not requeued
func (r *Replicator) handleJob(ctx context.Context, job ReplicateJob) {
	for {
		err := r.replicateOnce(ctx, job)
		if err == nil {
			return
		}
		if job.Retries >= r.maxRetries || ctx.Err() != nil {
			r.logger.Error("Replication failed, giving up",
				zap.String("filename", job.Filename),
				zap.Int("retries", job.Retries),
				zap.Error(err))
			return
		}
		job.Retries++
		r.logger.Warn("Replication failed, retrying",
			zap.String("filename", job.Filename),
			zap.Int("next_retry", job.Retries),
			zap.Error(err))
	}
}

func (r *Replicator) replicateOnce(ctx context.Context, job ReplicateJob) error {
	rc, size, err := r.local.Open(job.Filename)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer rc.Close()

	if job.Size > 0 {
		size = job.Size
	}

	written, remoteHash, err := r.remote.Save(ctx, rc, job.Filename, size)
	if err != nil {
		return fmt.Errorf("failed to save to remote: %w", err)
	}

	if written <= 0 {
		return fmt.Errorf("remote save wrote zero bytes")
	}

	if job.Hash != "" && remoteHash != "" && job.Hash != remoteHash {
		return fmt.Errorf("hash mismatch: local=%s remote=%s", job.Hash, remoteHash)
	}

	r.logger.Debug("File replicated",
		zap.String("filename", job.Filename),
		zap.Int64("size", written))

	return nil
}
