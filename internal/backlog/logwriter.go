package backlog

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/docman-backlog/internal/models"
	"github.com/garyjia/docman-backlog/pkg/utils"
)

// ArtifactSaver atomically writes a file
type ArtifactSaver interface {
	SaveFile(fullPath string, content []byte) error
}

// LogPaths are the files written for one run
type LogPaths struct {
	JSON string `json:"json"`
	CSV  string `json:"csv"`
	XLSX string `json:"xlsx"`
}

// LogInfo describes a stored run log
type LogInfo struct {
	RunID   string    `json:"runId"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

var (
	csvHeader  = []string{"Folder", "Filename", "Status", "PolicyNumber", "DocType", "Date", "FID", "Error"}
	runIDRegex = regexp.MustCompile(`^(test-)?\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}\.\d{3}$`)
)

const (
	logPrefix    = "backlog-"
	filesSheet   = "Files"
	summarySheet = "Summary"
)

// LogWriter persists run logs as backlog-<runID>.{json,csv,xlsx}
type LogWriter struct {
	dir    string
	files  ArtifactSaver
	logger *zap.Logger
}

// NewLogWriter creates a new LogWriter
func NewLogWriter(dir string, files ArtifactSaver, logger *zap.Logger) *LogWriter {
	return &LogWriter{
		dir:    dir,
		files:  files,
		logger: logger,
	}
}

// Dir returns the log directory
func (w *LogWriter) Dir() string {
	return w.dir
}

// Write replaces the artifacts of the run with the current state of log
func (w *LogWriter) Write(log *models.BacklogProcessingLog) (LogPaths, error) {
	base := filepath.Join(w.dir, logPrefix+log.RunID)
	paths := LogPaths{JSON: base + ".json", CSV: base + ".csv", XLSX: base + ".xlsx"}

	content, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return LogPaths{}, fmt.Errorf("%w: %v", ErrLogWrite, err)
	}
	if err := w.files.SaveFile(paths.JSON, content); err != nil {
		return LogPaths{}, fmt.Errorf("%w: %v", ErrLogWrite, err)
	}

	rows := logRows(log)

	csvContent, err := renderCSV(rows)
	if err != nil {
		return LogPaths{}, fmt.Errorf("%w: %v", ErrLogWrite, err)
	}
	if err := w.files.SaveFile(paths.CSV, csvContent); err != nil {
		return LogPaths{}, fmt.Errorf("%w: %v", ErrLogWrite, err)
	}

	// the spreadsheet is a convenience copy; JSON and CSV are authoritative
	xlsxContent, err := renderXLSX(log, rows)
	if err == nil {
		err = w.files.SaveFile(paths.XLSX, xlsxContent)
	}
	if err != nil {
		w.logger.Warn("Failed to write spreadsheet log", zap.String("path", paths.XLSX), zap.Error(err))
		paths.XLSX = ""
	}

	w.logger.Debug("Processing log written",
		zap.String("run_id", log.RunID),
		zap.Int("folders", len(log.Folders)))

	return paths, nil
}

// logRows flattens the log into one row per file
func logRows(log *models.BacklogProcessingLog) [][]string {
	var rows [][]string
	for _, folder := range log.Folders {
		for _, file := range folder.Files {
			fid := ""
			if v, ok := file.FID(); ok {
				fid = strconv.FormatInt(v, 10)
			}
			rows = append(rows, []string{
				folder.FolderDate,
				file.Filename,
				string(file.Status),
				file.Parsed.Policy(),
				file.Parsed.TypeCode(),
				file.Parsed.Date(),
				fid,
				utils.SanitizeCSVField(file.ErrorText()),
			})
		}
	}
	return rows
}

func renderCSV(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(csvHeader); err != nil {
		return nil, err
	}
	if err := cw.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderXLSX(log *models.BacklogProcessingLog, rows [][]string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", filesSheet); err != nil {
		return nil, err
	}
	if err := setRow(f, filesSheet, 1, csvHeader); err != nil {
		return nil, err
	}
	for i, row := range rows {
		if err := setRow(f, filesSheet, i+2, row); err != nil {
			return nil, err
		}
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}
	end := ""
	if log.EndTime != nil {
		end = log.EndTime.Format(time.RFC3339)
	}
	summary := [][]string{
		{"Run ID", log.RunID},
		{"Start", log.StartTime.Format(time.RFC3339)},
		{"End", end},
		{"Folders", fmt.Sprintf("%d / %d", log.Summary.TotalFolders, log.Summary.PlannedFolders)},
		{"Total Files", strconv.Itoa(log.Summary.TotalFiles)},
		{"Processed", strconv.Itoa(log.Summary.Processed)},
		{"Duplicates", strconv.Itoa(log.Summary.Duplicates)},
		{"Queued for Review", strconv.Itoa(log.Summary.Queued)},
		{"Errors", strconv.Itoa(log.Summary.Errors)},
	}
	for i, row := range summary {
		if err := setRow(f, summarySheet, i+1, row); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func setRow(f *excelize.File, sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return f.SetSheetRow(sheet, cell, &cells)
}

// ListLogs returns the stored run logs, newest first
func (w *LogWriter) ListLogs() ([]LogInfo, error) {
	entries, err := os.ReadDir(w.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []LogInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read log directory: %w", err)
	}

	logs := []LogInfo{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, logPrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		runID := strings.TrimSuffix(strings.TrimPrefix(name, logPrefix), ".json")
		if !runIDRegex.MatchString(runID) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		logs = append(logs, LogInfo{
			RunID:   runID,
			Path:    filepath.Join(w.dir, name),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(logs, func(i, j int) bool {
		return runSortKey(logs[i].RunID) > runSortKey(logs[j].RunID)
	})
	return logs, nil
}

// runSortKey orders test runs alongside regular runs by their timestamp
func runSortKey(runID string) string {
	return strings.TrimPrefix(runID, "test-")
}

// LoadLog reads the JSON log of a run
func (w *LogWriter) LoadLog(runID string) (*models.BacklogProcessingLog, error) {
	if !runIDRegex.MatchString(runID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRun, runID)
	}

	content, err := os.ReadFile(filepath.Join(w.dir, logPrefix+runID+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrLogNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}

	var log models.BacklogProcessingLog
	if err := json.Unmarshal(content, &log); err != nil {
		return nil, fmt.Errorf("failed to parse log %s: %w", runID, err)
	}
	return &log, nil
}
