package duplicate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/garyjia/docman-backlog/internal/models"
)

// Catalog looks documents up in the record store by filename
type Catalog interface {
	// FindByFilename matches either name exactly and returns the record identifier
	FindByFilename(ctx context.Context, exact, lowered string) (fid int64, found bool, err error)
}

// Checker decides whether a document was already imported.
// The storage directory is probed first; the catalog is only consulted on a miss.
type Checker struct {
	storageDir string
	catalog    Catalog
	logger     *zap.Logger
}

// NewChecker creates a new Checker
func NewChecker(storageDir string, catalog Catalog, logger *zap.Logger) *Checker {
	return &Checker{
		storageDir: storageDir,
		catalog:    catalog,
		logger:     logger,
	}
}

// Check never returns an error: an unreachable catalog counts as "not found".
// Metadata in the query is informational only; similar names (endo vs endo2)
// are distinct documents and are not matched.
func (c *Checker) Check(ctx context.Context, q models.DuplicateQuery) models.DuplicateCheckResult {
	if path, ok := c.existsInStorage(q.Filename); ok {
		return models.DuplicateCheckResult{
			IsDuplicate:        true,
			ExistsInFilesystem: true,
			ExistingPath:       path,
			Message:            fmt.Sprintf("File already exists in filesystem: %s", path),
		}
	}

	if c.catalog != nil {
		fid, found, err := c.catalog.FindByFilename(ctx, q.Filename, strings.ToLower(q.Filename))
		if err != nil {
			c.logger.Warn("Catalog lookup failed, treating as not found",
				zap.String("filename", q.Filename),
				zap.Error(err))
		} else if found {
			return models.DuplicateCheckResult{
				IsDuplicate:      true,
				ExistsInDatabase: true,
				ExistingFID:      fid,
				Message:          fmt.Sprintf("File already exists in database with FID: %d", fid),
			}
		}
	}

	return models.DuplicateCheckResult{Message: "No duplicate found"}
}

// existsInStorage probes the exact name, then scans the directory case-insensitively
func (c *Checker) existsInStorage(filename string) (string, bool) {
	if filename == "" || strings.ContainsAny(filename, `/\`) {
		return "", false
	}

	target := filepath.Join(c.storageDir, filename)
	if _, err := os.Stat(target); err == nil {
		return target, true
	} else if !errors.Is(err, fs.ErrNotExist) {
		c.logger.Debug("Storage probe failed", zap.String("path", target), zap.Error(err))
	}

	entries, err := os.ReadDir(c.storageDir)
	if err != nil {
		c.logger.Debug("Storage directory scan failed",
			zap.String("dir", c.storageDir),
			zap.Error(err))
		return "", false
	}

	lowered := strings.ToLower(filename)
	for _, entry := range entries {
		if strings.ToLower(entry.Name()) == lowered {
			return filepath.Join(c.storageDir, entry.Name()), true
		}
	}
	return "", false
}

// CheckBatch checks independent files concurrently, keyed by filename.
// A limit of zero or less checks one file at a time.
func (c *Checker) CheckBatch(ctx context.Context, queries []models.DuplicateQuery, limit int) (map[string]models.DuplicateCheckResult, error) {
	if limit <= 0 {
		limit = 1
	}

	var mu sync.Mutex
	results := make(map[string]models.DuplicateCheckResult, len(queries))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, q := range queries {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			result := c.Check(gCtx, q)

			mu.Lock()
			results[q.Filename] = result
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("failed to check batch: %w", err)
	}
	return results, nil
}
