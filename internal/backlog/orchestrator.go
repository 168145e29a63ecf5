package backlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/docman-backlog/internal/duplicate"
	"github.com/garyjia/docman-backlog/internal/models"
	"github.com/garyjia/docman-backlog/internal/storage"
)

// FileParser extracts metadata from a scanned document's filename
type FileParser interface {
	Parse(filename string) models.ParsedFilename
}

// DuplicateChecker reports whether a document was already imported
type DuplicateChecker interface {
	Check(ctx context.Context, q models.DuplicateQuery) models.DuplicateCheckResult
}

// FormatConverter normalizes a file into a format the DMS can display
type FormatConverter interface {
	Convert(ctx context.Context, inputPath, outputDir string) models.ConversionResult
}

// ThumbnailGenerator renders a preview and returns its file name
type ThumbnailGenerator interface {
	Generate(ctx context.Context, path string) string
}

// DocumentMover copies a file into canonical storage and returns its URI
type DocumentMover interface {
	MoveToStorage(src, filename string) (string, error)
}

// RecordWriter is the record store used by the pipeline
type RecordWriter interface {
	InsertDocument(ctx context.Context, doc models.DocumentSubmission) (int64, error)
	LookupClientByPolicy(ctx context.Context, policy string) (string, bool, error)
}

// ProcessingRecorder keeps the per-file processing history
type ProcessingRecorder interface {
	Record(ctx context.Context, file models.ProcessedFile) error
}

// HintProvider suggests a document type for a file whose name did not parse
type HintProvider interface {
	Suggest(ctx context.Context, path, filename string) (models.ClassificationHint, bool)
}

// FileLister lists the eligible files of a daily folder
type FileLister interface {
	ListFiles(folderPath string) ([]string, error)
}

// Observer receives pipeline measurements
type Observer interface {
	FileProcessed(status models.FileStatus, duration time.Duration)
	ConversionAttempted(from string, ok bool)
	FolderCompleted()
	RunFinished(summary models.RunSummary, end time.Time)
}

type nopObserver struct{}

func (nopObserver) FileProcessed(models.FileStatus, time.Duration) {}
func (nopObserver) ConversionAttempted(string, bool)               {}
func (nopObserver) FolderCompleted()                               {}
func (nopObserver) RunFinished(models.RunSummary, time.Time)       {}

// Dependencies are the collaborators of the orchestrator. Reserver,
// ProcessingLog, Hints and Observer are optional.
type Dependencies struct {
	Parser     FileParser
	Checker    DuplicateChecker
	Converter  FormatConverter
	Thumbnails ThumbnailGenerator
	Storage    DocumentMover
	Records    RecordWriter
	Folders    FileLister

	Reserver      duplicate.Reserver
	ProcessingLog ProcessingRecorder
	Hints         HintProvider
	Observer      Observer
}

// Orchestrator drives every file of a daily folder to exactly one terminal
// status. A failing file never stops the folder.
type Orchestrator struct {
	deps       Dependencies
	convertDir string
	runID      string
	logger     *zap.Logger
}

// NewOrchestrator creates a new Orchestrator. Converted files are written
// below convertDir and removed once the file reaches its terminal status.
func NewOrchestrator(deps Dependencies, convertDir string, logger *zap.Logger) *Orchestrator {
	if deps.Reserver == nil {
		deps.Reserver = duplicate.NopReserver{}
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if convertDir == "" {
		convertDir = filepath.Join(os.TempDir(), "dms-convert")
	}
	return &Orchestrator{
		deps:       deps,
		convertDir: convertDir,
		logger:     logger,
	}
}

// WithRun returns a copy of the orchestrator that reserves files for runID
func (o *Orchestrator) WithRun(runID string) *Orchestrator {
	cp := *o
	cp.runID = runID
	cp.logger = o.logger.With(zap.String("run_id", runID))
	return &cp
}

// ProcessFolder processes the eligible files of a folder in name order. The
// returned error is only set when ctx was cancelled; the partial result must
// then be discarded.
func (o *Orchestrator) ProcessFolder(ctx context.Context, folderPath string) (models.FolderProcessingResult, error) {
	folderDate := storage.FolderDate(folderPath)
	logger := o.logger.With(zap.String("folder", folderDate))
	result := models.NewFolderResult(folderPath, folderDate, time.Now())

	files, err := o.deps.Folders.ListFiles(folderPath)
	if err != nil {
		logger.Error("Failed to list folder, recording it as empty", zap.Error(err))
		files = nil
	}

	logger.Info("Processing folder",
		zap.String("path", folderPath),
		zap.Int("files", len(files)))

	for i, filename := range files {
		if err := ctx.Err(); err != nil {
			return *result, err
		}
		logger.Debug("Processing file",
			zap.Int("index", i+1),
			zap.Int("total", len(files)),
			zap.String("filename", filename))

		result.Add(o.ProcessFile(ctx, folderPath, filename))
	}
	if err := ctx.Err(); err != nil {
		return *result, err
	}

	result.Finish(time.Now())

	logger.Info("Folder complete",
		zap.Int("total", result.TotalFiles),
		zap.Int("processed", result.Processed),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("queued", result.Queued),
		zap.Int("errors", result.Errors))

	return *result, nil
}

// ProcessFile runs one file through the pipeline. It never fails: faults,
// including panics, become a status=error outcome naming the last stage reached.
func (o *Orchestrator) ProcessFile(ctx context.Context, folderPath, filename string) (file models.ProcessedFile) {
	start := time.Now()
	sourcePath := filepath.Join(folderPath, filename)

	t := &fileTrace{stage: models.StageStart}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Panic while processing file",
				zap.String("filename", filename),
				zap.String("stage", string(t.stage)),
				zap.Any("panic", r))
			file = models.NewError(filename, sourcePath, t.parsed, models.ErrorOutcome{
				Stage:          t.stage,
				Message:        fmt.Sprintf("panic: %v", r),
				DuplicateCheck: t.check,
				Conversion:     t.conversion,
			})
		}
		if t.reserved {
			if err := o.deps.Reserver.Release(context.WithoutCancel(ctx), filename); err != nil {
				o.logger.Warn("Failed to release reservation", zap.String("filename", filename), zap.Error(err))
			}
		}
		if t.cleanup != "" {
			if err := os.Remove(t.cleanup); err != nil && !os.IsNotExist(err) {
				o.logger.Debug("Failed to remove converted file", zap.String("path", t.cleanup), zap.Error(err))
			}
		}
		o.finish(ctx, file, time.Since(start))
	}()

	t.parsed = o.deps.Parser.Parse(filename)
	t.stage = models.StageParsed

	if !t.parsed.ParseSuccess {
		return o.queueForReview(ctx, sourcePath, filename, t)
	}
	return o.importParsed(ctx, sourcePath, filename, t)
}

// fileTrace is the progress of one file, read by the recovery handler
type fileTrace struct {
	stage      models.Stage
	parsed     models.ParsedFilename
	check      *models.DuplicateCheckResult
	conversion *models.ConversionResult
	reserved   bool
	cleanup    string
}

func (t *fileTrace) fail(filename, sourcePath string, err error) models.ProcessedFile {
	return models.NewError(filename, sourcePath, t.parsed, models.ErrorOutcome{
		Stage:          t.stage,
		Message:        err.Error(),
		DuplicateCheck: t.check,
		Conversion:     t.conversion,
	})
}

// queueForReview imports a file whose policy number is unknown with a
// needs-review type and zero confidence so it is not silently dropped
func (o *Orchestrator) queueForReview(ctx context.Context, sourcePath, filename string, t *fileTrace) models.ProcessedFile {
	t.stage = models.StageQueuedForReview

	suggested := t.parsed.TypeLabel()
	if suggested == "" {
		suggested = models.UnknownValue
	}
	if o.deps.Hints != nil {
		if hint, ok := o.deps.Hints.Suggest(ctx, sourcePath, filename); ok && hint.DocumentType != "" {
			suggested = hint.DocumentType
		}
	}

	thumb := o.deps.Thumbnails.Generate(ctx, sourcePath)

	uri, err := o.deps.Storage.MoveToStorage(sourcePath, filename)
	if err != nil {
		return t.fail(filename, sourcePath, fmt.Errorf("failed to move file: %w", err))
	}

	fid, err := o.deps.Records.InsertDocument(ctx, models.DocumentSubmission{
		Filename:      filename,
		PolicyNumber:  models.UnknownPolicy,
		DocumentType:  models.NeedsReviewType,
		SuggestedType: suggested,
		Confidence:    models.NoConfidence,
		Client:        models.UnknownValue,
		ThumbnailPath: thumb,
		FilePath:      uri,
		FileSize:      fileSize(sourcePath),
		MimeType:      mimeType(t.parsed.Extension),
	})
	if err != nil {
		return t.fail(filename, sourcePath, fmt.Errorf("failed to insert record: %w", err))
	}

	return models.NewQueued(filename, sourcePath, t.parsed, models.QueuedOutcome{
		FID:           fid,
		StorageURI:    uri,
		ThumbnailName: thumb,
		Reason:        t.parsed.ParseError,
		SuggestedType: suggested,
	})
}

func (o *Orchestrator) importParsed(ctx context.Context, sourcePath, filename string, t *fileTrace) models.ProcessedFile {
	check := o.deps.Checker.Check(ctx, models.DuplicateQuery{
		Filename:     filename,
		PolicyNumber: t.parsed.Policy(),
		DocumentType: t.parsed.TypeCode(),
		DateCode:     t.parsed.Code(),
	})
	t.check = &check
	t.stage = models.StageDuplicateChecked

	if check.IsDuplicate {
		return models.NewDuplicate(filename, sourcePath, t.parsed, check)
	}

	reserved, err := o.deps.Reserver.Reserve(ctx, filename, o.runID)
	if err != nil {
		return t.fail(filename, sourcePath, fmt.Errorf("failed to reserve filename: %w", err))
	}
	if !reserved {
		check.IsDuplicate = true
		check.Message = fmt.Sprintf("File is reserved by another import run: %s", filename)
		return models.NewDuplicate(filename, sourcePath, t.parsed, check)
	}
	t.reserved = true
	t.stage = models.StageReserved

	conv := o.deps.Converter.Convert(ctx, sourcePath, o.convertDir)
	t.conversion = &conv
	if conv.Tool != "" || !conv.Success {
		o.deps.Observer.ConversionAttempted(conv.ConvertedFrom, conv.Success)
	}
	fileToProcess := sourcePath
	if conv.Success {
		fileToProcess = conv.OutputPath
	}
	if conv.Converted() {
		t.cleanup = conv.OutputPath
	}
	t.stage = models.StageConverted

	thumb := o.deps.Thumbnails.Generate(ctx, fileToProcess)
	t.stage = models.StageThumbnailed

	client := models.UnknownValue
	if name, found, err := o.deps.Records.LookupClientByPolicy(ctx, t.parsed.Policy()); err != nil {
		o.logger.Warn("Client lookup failed, using Unknown",
			zap.String("policy", t.parsed.Policy()),
			zap.Error(err))
	} else if found {
		client = name
	}
	t.stage = models.StageClientLookedUp

	finalName := filename
	if conv.Converted() {
		finalName = strings.TrimSuffix(filename, filepath.Ext(filename)) + filepath.Ext(conv.OutputPath)
	}

	uri, err := o.deps.Storage.MoveToStorage(fileToProcess, finalName)
	if err != nil {
		return t.fail(filename, sourcePath, fmt.Errorf("failed to move file: %w", err))
	}
	t.stage = models.StageMoved

	label := t.parsed.TypeLabel()
	if label == "" {
		label = models.UnknownValue
	}
	fid, err := o.deps.Records.InsertDocument(ctx, models.DocumentSubmission{
		Filename:      finalName,
		PolicyNumber:  t.parsed.Policy(),
		DocumentType:  label,
		SuggestedType: label,
		Confidence:    models.FullConfidence,
		Client:        client,
		ThumbnailPath: thumb,
		FilePath:      uri,
		FileSize:      fileSize(fileToProcess),
		MimeType:      mimeType(strings.TrimPrefix(filepath.Ext(finalName), ".")),
	})
	if err != nil {
		return t.fail(filename, sourcePath, fmt.Errorf("failed to insert record: %w", err))
	}
	t.stage = models.StageRecorded

	return models.NewSuccess(filename, sourcePath, t.parsed, models.SuccessOutcome{
		FID:            fid,
		StorageURI:     uri,
		ThumbnailName:  thumb,
		Client:         client,
		DuplicateCheck: t.check,
		Conversion:     t.conversion,
	})
}

func (o *Orchestrator) finish(ctx context.Context, file models.ProcessedFile, elapsed time.Duration) {
	fields := []zap.Field{
		zap.String("filename", file.Filename),
		zap.String("status", string(file.Status)),
		zap.Duration("elapsed", elapsed),
	}
	if fid, ok := file.FID(); ok {
		fields = append(fields, zap.Int64("fid", fid))
	}
	if text := file.ErrorText(); text != "" {
		fields = append(fields, zap.String("detail", text))
	}

	if file.Status == models.StatusError {
		o.logger.Error("File failed", fields...)
	} else {
		o.logger.Info("File processed", fields...)
	}

	o.deps.Observer.FileProcessed(file.Status, elapsed)

	if o.deps.ProcessingLog != nil {
		if err := o.deps.ProcessingLog.Record(context.WithoutCancel(ctx), file); err != nil {
			o.logger.Warn("Failed to record processing log",
				zap.String("filename", file.Filename),
				zap.Error(err))
		}
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

var mimeTypes = map[string]string{
	"pdf":  "application/pdf",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"heic": "image/heic",
	"txt":  "text/plain",
	"msg":  "application/vnd.ms-outlook",
}

func mimeType(ext string) string {
	if m, ok := mimeTypes[strings.ToLower(ext)]; ok {
		return m
	}
	return "application/octet-stream"
}
