package backlog

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/docman-backlog/internal/converter"
	"github.com/garyjia/docman-backlog/internal/models"
	"github.com/garyjia/docman-backlog/internal/storage"
	"github.com/garyjia/docman-backlog/pkg/utils"
)

// FolderSource enumerates daily folders on the share
type FolderSource interface {
	DailyFolders(window storage.Window) ([]string, error)
	ResolveFolder(name string) (string, error)
}

// ToolProber reports which external converters are installed
type ToolProber interface {
	ProbeTools(ctx context.Context) converter.ToolStatus
}

// RunNotifier is told about every finished run
type RunNotifier interface {
	RunCompleted(ctx context.Context, log *models.BacklogProcessingLog, paths LogPaths) error
}

// Coordinator runs the orchestrator over a chronologically sorted list of
// daily folders and checkpoints the run log after every folder
type Coordinator struct {
	folders      FolderSource
	orchestrator *Orchestrator
	tools        ToolProber
	logs         *LogWriter
	observer     Observer
	notifier     RunNotifier
	closer       io.Closer
	runIDs       *RunIDGenerator
	logger       *zap.Logger

	releaseOnce sync.Once
}

// NewCoordinator creates a new Coordinator
func NewCoordinator(
	folders FolderSource,
	orchestrator *Orchestrator,
	tools ToolProber,
	logs *LogWriter,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		folders:      folders,
		orchestrator: orchestrator,
		tools:        tools,
		logs:         logs,
		observer:     nopObserver{},
		runIDs:       NewRunIDGenerator(),
		logger:       logger,
	}
}

// WithObserver sets the metrics sink
func (c *Coordinator) WithObserver(o Observer) *Coordinator {
	if o != nil {
		c.observer = o
	}
	return c
}

// WithNotifier sets the run notifier
func (c *Coordinator) WithNotifier(n RunNotifier) *Coordinator {
	c.notifier = n
	return c
}

// WithCloser registers the resources released once the run has ended
func (c *Coordinator) WithCloser(closer io.Closer) *Coordinator {
	c.closer = closer
	return c
}

// DailyFolders lists the folders of a processing window, oldest first
func (c *Coordinator) DailyFolders(window storage.Window) ([]string, error) {
	folders, err := c.folders.DailyFolders(window)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFolderEnumeration, err)
	}
	return folders, nil
}

// RunWindow enumerates a window and processes it. Only an enumeration
// failure is fatal; an empty window still produces a zero-folder log.
func (c *Coordinator) RunWindow(ctx context.Context, window storage.Window) (*models.BacklogProcessingLog, LogPaths, error) {
	folders, err := c.DailyFolders(window)
	if err != nil {
		c.release()
		return nil, LogPaths{}, err
	}

	if len(folders) == 0 {
		c.logger.Warn("No daily folders found", zap.String("window", string(window)))
	} else {
		c.logger.Info("Found daily folders",
			zap.String("window", string(window)),
			zap.Int("folders", len(folders)),
			zap.String("first", storage.FolderDate(folders[0])),
			zap.String("last", storage.FolderDate(folders[len(folders)-1])))
	}

	return c.ProcessBacklog(ctx, folders)
}

// ProcessBacklog processes folders in order. The log is persisted after each
// completed folder, so an interrupted run leaves a log holding exactly the
// folders it finished. A folder interrupted by cancellation is discarded and
// ctx.Err() is returned together with the final log.
func (c *Coordinator) ProcessBacklog(ctx context.Context, folders []string) (*models.BacklogProcessingLog, LogPaths, error) {
	defer c.release()

	runID := c.runIDs.Next()
	logger := utils.WithRun(c.logger, runID)
	orchestrator := c.orchestrator.WithRun(runID)

	status := c.tools.ProbeTools(ctx)
	if missing := status.Missing(); len(missing) > 0 {
		logger.Warn("Some conversion tools are missing, affected files keep their original format",
			zap.Strings("missing", missing))
	}

	log := models.NewBacklogLog(runID, time.Now(), len(folders))
	logger.Info("Backlog run started", zap.Int("folders", len(folders)))

	var runErr error
	for i, folder := range folders {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		logger.Info("Folder started",
			zap.Int("index", i+1),
			zap.Int("total", len(folders)),
			zap.String("folder", folder))

		result, err := orchestrator.ProcessFolder(ctx, folder)
		if err != nil {
			logger.Warn("Run interrupted, discarding partial folder",
				zap.String("folder", folder),
				zap.Int("files_done", result.TotalFiles),
				zap.Error(err))
			runErr = err
			break
		}

		log.AddFolder(result)
		c.observer.FolderCompleted()

		if _, err := c.logs.Write(log); err != nil {
			logger.Error("Checkpoint failed, stopping run", zap.Error(err))
			return log, LogPaths{}, err
		}
	}

	log.Finish(time.Now())
	paths, err := c.logs.Write(log)
	if err != nil {
		logger.Error("Failed to write final log", zap.Error(err))
		return log, LogPaths{}, err
	}

	c.observer.RunFinished(log.Summary, *log.EndTime)

	logger.Info("Backlog run complete",
		zap.String("log", paths.JSON),
		zap.Int("folders", log.Summary.TotalFolders),
		zap.Int("planned_folders", log.Summary.PlannedFolders),
		zap.Int("files", log.Summary.TotalFiles),
		zap.Int("processed", log.Summary.Processed),
		zap.Int("duplicates", log.Summary.Duplicates),
		zap.Int("queued", log.Summary.Queued),
		zap.Int("errors", log.Summary.Errors))

	c.notify(ctx, log, paths)

	return log, paths, runErr
}

// TestFolder processes a single folder and writes a one-folder log. An empty
// name selects the oldest current-year folder.
func (c *Coordinator) TestFolder(ctx context.Context, name string) (*models.BacklogProcessingLog, LogPaths, error) {
	defer c.release()

	folder, err := c.resolveTestFolder(name)
	if err != nil {
		return nil, LogPaths{}, err
	}

	runID := "test-" + c.runIDs.Next()
	logger := utils.WithRun(c.logger, runID)
	logger.Info("Test run", zap.String("folder", folder))

	c.tools.ProbeTools(ctx)

	log := models.NewBacklogLog(runID, time.Now(), 1)
	result, err := c.orchestrator.WithRun(runID).ProcessFolder(ctx, folder)
	if err == nil {
		log.AddFolder(result)
	}
	log.Finish(time.Now())

	paths, werr := c.logs.Write(log)
	if werr != nil {
		return log, LogPaths{}, werr
	}
	return log, paths, err
}

func (c *Coordinator) resolveTestFolder(name string) (string, error) {
	if name != "" {
		return c.folders.ResolveFolder(name)
	}
	folders, err := c.DailyFolders(storage.WindowCurrent)
	if err != nil {
		return "", err
	}
	if len(folders) == 0 {
		return "", fmt.Errorf("%w in current year", ErrNoFolders)
	}
	return folders[0], nil
}

func (c *Coordinator) notify(ctx context.Context, log *models.BacklogProcessingLog, paths LogPaths) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.RunCompleted(context.WithoutCancel(ctx), log, paths); err != nil {
		c.logger.Warn("Failed to send run notification", zap.Error(err))
	}
}

// release closes held resources exactly once
func (c *Coordinator) release() {
	c.releaseOnce.Do(func() {
		if c.closer == nil {
			return
		}
		if err := c.closer.Close(); err != nil {
			c.logger.Warn("Failed to release resources", zap.Error(err))
		}
	})
}

// RunIDGenerator issues UTC millisecond run IDs (2025-06-02T10-15-30.123)
// that are strictly increasing within a process
type RunIDGenerator struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// RunIDLayout is the time layout of run IDs
const RunIDLayout = "2006-01-02T15-04-05.000"

// NewRunIDGenerator creates a new RunIDGenerator
func NewRunIDGenerator() *RunIDGenerator {
	return &RunIDGenerator{now: time.Now}
}

// Next returns a run ID later than every ID returned before
func (g *RunIDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	t := g.now().UTC().Truncate(time.Millisecond)
	if !t.After(g.last) {
		t = g.last.Add(time.Millisecond)
	}
	g.last = t
	return t.Format(RunIDLayout)
}
