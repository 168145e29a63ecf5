package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// FileStatus is the terminal outcome of one file in a backlog run
type FileStatus string

// File statuses
const (
	StatusSuccess   FileStatus = "success"
	StatusDuplicate FileStatus = "duplicate"
	StatusQueued    FileStatus = "queued"
	StatusError     FileStatus = "error"
)

// Stage names a step of the per-file pipeline
type Stage string

// Pipeline stages in the order a successful file passes through them
const (
	StageStart            Stage = "start"
	StageParsed           Stage = "parsed"
	StageDuplicateChecked Stage = "duplicate-checked"
	StageConverted        Stage = "converted"
	StageThumbnailed      Stage = "thumbnailed"
	StageClientLookedUp   Stage = "client-looked-up"
	StageMoved            Stage = "moved"
	StageRecorded         Stage = "recorded"
	StageQueuedForReview  Stage = "queued-for-review"
	StageReserved         Stage = "reserved"
)

// SuccessOutcome is the payload of a file that was imported
type SuccessOutcome struct {
	FID            int64
	StorageURI     string
	ThumbnailName  string
	Client         string
	DuplicateCheck *DuplicateCheckResult
	Conversion     *ConversionResult
}

// DuplicateOutcome is the payload of a file that already exists
type DuplicateOutcome struct {
	Check DuplicateCheckResult
}

// QueuedOutcome is the payload of a file imported for manual review
type QueuedOutcome struct {
	FID           int64
	StorageURI    string
	ThumbnailName string
	Reason        string
	SuggestedType string
}

// ErrorOutcome is the payload of a file whose processing failed
type ErrorOutcome struct {
	Stage          Stage
	Message        string
	DuplicateCheck *DuplicateCheckResult
	Conversion     *ConversionResult
}

// ProcessedFile is the terminal record of the pipeline's decision for one file.
// Exactly one outcome is set and it always matches Status; use the New*
// constructors to build one.
type ProcessedFile struct {
	Filename   string
	SourcePath string
	Status     FileStatus
	Parsed     ParsedFilename

	success   *SuccessOutcome
	duplicate *DuplicateOutcome
	queued    *QueuedOutcome
	failure   *ErrorOutcome
}

// NewSuccess builds a successful file outcome
func NewSuccess(filename, sourcePath string, parsed ParsedFilename, outcome SuccessOutcome) ProcessedFile {
	return ProcessedFile{Filename: filename, SourcePath: sourcePath, Status: StatusSuccess, Parsed: parsed, success: &outcome}
}

// NewDuplicate builds a duplicate file outcome
func NewDuplicate(filename, sourcePath string, parsed ParsedFilename, check DuplicateCheckResult) ProcessedFile {
	return ProcessedFile{Filename: filename, SourcePath: sourcePath, Status: StatusDuplicate, Parsed: parsed, duplicate: &DuplicateOutcome{Check: check}}
}

// NewQueued builds a queued-for-review file outcome
func NewQueued(filename, sourcePath string, parsed ParsedFilename, outcome QueuedOutcome) ProcessedFile {
	return ProcessedFile{Filename: filename, SourcePath: sourcePath, Status: StatusQueued, Parsed: parsed, queued: &outcome}
}

// NewError builds a failed file outcome
func NewError(filename, sourcePath string, parsed ParsedFilename, outcome ErrorOutcome) ProcessedFile {
	return ProcessedFile{Filename: filename, SourcePath: sourcePath, Status: StatusError, Parsed: parsed, failure: &outcome}
}

// Success returns the success payload
func (f ProcessedFile) Success() (*SuccessOutcome, bool) { return f.success, f.success != nil }

// Duplicate returns the duplicate payload
func (f ProcessedFile) Duplicate() (*DuplicateOutcome, bool) { return f.duplicate, f.duplicate != nil }

// Queued returns the queued payload
func (f ProcessedFile) Queued() (*QueuedOutcome, bool) { return f.queued, f.queued != nil }

// Failure returns the error payload
func (f ProcessedFile) Failure() (*ErrorOutcome, bool) { return f.failure, f.failure != nil }

// FID returns the record identifier assigned to the file, if any
func (f ProcessedFile) FID() (int64, bool) {
	switch {
	case f.success != nil:
		return f.success.FID, true
	case f.queued != nil:
		return f.queued.FID, true
	}
	return 0, false
}

// ErrorText returns the error or review reason recorded for the file
func (f ProcessedFile) ErrorText() string {
	switch {
	case f.failure != nil:
		return f.failure.Message
	case f.queued != nil:
		return f.queued.Reason
	}
	return ""
}

// processedFileJSON is the flat log shape of a ProcessedFile
type processedFileJSON struct {
	Filename       string                `json:"filename"`
	SourcePath     string                `json:"sourcePath"`
	Status         FileStatus            `json:"status"`
	Parsed         ParsedFilename        `json:"parsed"`
	DuplicateCheck *DuplicateCheckResult `json:"duplicateCheck,omitempty"`
	Conversion     *ConversionResult     `json:"conversion,omitempty"`
	FID            *int64                `json:"fid,omitempty"`
	StorageURI     string                `json:"storageUri,omitempty"`
	Thumbnail      string                `json:"thumbnail,omitempty"`
	Client         string                `json:"client,omitempty"`
	SuggestedType  string                `json:"suggestedType,omitempty"`
	Stage          Stage                 `json:"stage,omitempty"`
	Error          string                `json:"error,omitempty"`
}

// MarshalJSON flattens the outcome into the run log format
func (f ProcessedFile) MarshalJSON() ([]byte, error) {
	out := processedFileJSON{
		Filename:   f.Filename,
		SourcePath: f.SourcePath,
		Status:     f.Status,
		Parsed:     f.Parsed,
	}

	switch {
	case f.success != nil:
		fid := f.success.FID
		out.FID = &fid
		out.DuplicateCheck = f.success.DuplicateCheck
		out.Conversion = f.success.Conversion
		out.StorageURI = f.success.StorageURI
		out.Thumbnail = f.success.ThumbnailName
		out.Client = f.success.Client
	case f.duplicate != nil:
		check := f.duplicate.Check
		out.DuplicateCheck = &check
	case f.queued != nil:
		fid := f.queued.FID
		out.FID = &fid
		out.StorageURI = f.queued.StorageURI
		out.Thumbnail = f.queued.ThumbnailName
		out.SuggestedType = f.queued.SuggestedType
		out.Error = f.queued.Reason
	case f.failure != nil:
		out.DuplicateCheck = f.failure.DuplicateCheck
		out.Conversion = f.failure.Conversion
		out.Stage = f.failure.Stage
		out.Error = f.failure.Message
	}

	return json.Marshal(out)
}

// UnmarshalJSON rebuilds the outcome variant from the flat log format
func (f *ProcessedFile) UnmarshalJSON(data []byte) error {
	var in processedFileJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	var fid int64
	if in.FID != nil {
		fid = *in.FID
	}

	switch in.Status {
	case StatusSuccess:
		*f = NewSuccess(in.Filename, in.SourcePath, in.Parsed, SuccessOutcome{
			FID:            fid,
			StorageURI:     in.StorageURI,
			ThumbnailName:  in.Thumbnail,
			Client:         in.Client,
			DuplicateCheck: in.DuplicateCheck,
			Conversion:     in.Conversion,
		})
	case StatusDuplicate:
		var check DuplicateCheckResult
		if in.DuplicateCheck != nil {
			check = *in.DuplicateCheck
		}
		*f = NewDuplicate(in.Filename, in.SourcePath, in.Parsed, check)
	case StatusQueued:
		*f = NewQueued(in.Filename, in.SourcePath, in.Parsed, QueuedOutcome{
			FID:           fid,
			StorageURI:    in.StorageURI,
			ThumbnailName: in.Thumbnail,
			Reason:        in.Error,
			SuggestedType: in.SuggestedType,
		})
	case StatusError:
		*f = NewError(in.Filename, in.SourcePath, in.Parsed, ErrorOutcome{
			Stage:          in.Stage,
			Message:        in.Error,
			DuplicateCheck: in.DuplicateCheck,
			Conversion:     in.Conversion,
		})
	default:
		return fmt.Errorf("unknown file status: %q", in.Status)
	}
	return nil
}

// StatusCounts are the per-status counters shared by folder results and run summaries
type StatusCounts struct {
	TotalFiles int `json:"totalFiles"`
	Processed  int `json:"processed"`
	Duplicates int `json:"duplicates"`
	Queued     int `json:"queued"`
	Errors     int `json:"errors"`
}

func (c *StatusCounts) count(status FileStatus) {
	switch status {
	case StatusSuccess:
		c.Processed++
	case StatusDuplicate:
		c.Duplicates++
	case StatusQueued:
		c.Queued++
	case StatusError:
		c.Errors++
	}
}

func (c *StatusCounts) add(other StatusCounts) {
	c.TotalFiles += other.TotalFiles
	c.Processed += other.Processed
	c.Duplicates += other.Duplicates
	c.Queued += other.Queued
	c.Errors += other.Errors
}

// Consistent reports whether the status counters add up to the total
func (c StatusCounts) Consistent() bool {
	return c.Processed+c.Duplicates+c.Queued+c.Errors == c.TotalFiles
}

// FolderProcessingResult aggregates every file outcome of one daily folder
type FolderProcessingResult struct {
	FolderPath string     `json:"folderPath"`
	FolderDate string     `json:"folderDate"`
	StartTime  time.Time  `json:"startTime"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	StatusCounts
	Files []ProcessedFile `json:"files"`
}

// NewFolderResult starts a folder result
func NewFolderResult(folderPath, folderDate string, start time.Time) *FolderProcessingResult {
	return &FolderProcessingResult{
		FolderPath: folderPath,
		FolderDate: folderDate,
		StartTime:  start,
		Files:      []ProcessedFile{},
	}
}

// Add appends a terminal file outcome and bumps the matching counter
func (r *FolderProcessingResult) Add(file ProcessedFile) {
	r.Files = append(r.Files, file)
	r.TotalFiles++
	r.count(file.Status)
}

// Finish stamps the folder end time
func (r *FolderProcessingResult) Finish(end time.Time) {
	r.EndTime = &end
}

// RunSummary mirrors the folder counters, totalled over a run
type RunSummary struct {
	TotalFolders   int `json:"totalFolders"`
	PlannedFolders int `json:"plannedFolders"`
	StatusCounts
}

// BacklogProcessingLog aggregates all folder results of one backlog run
type BacklogProcessingLog struct {
	RunID     string                   `json:"runId"`
	StartTime time.Time                `json:"startTime"`
	EndTime   *time.Time               `json:"endTime,omitempty"`
	Folders   []FolderProcessingResult `json:"folders"`
	Summary   RunSummary               `json:"summary"`
}

// NewBacklogLog starts a run log for the given number of planned folders
func NewBacklogLog(runID string, start time.Time, plannedFolders int) *BacklogProcessingLog {
	return &BacklogProcessingLog{
		RunID:     runID,
		StartTime: start,
		Folders:   []FolderProcessingResult{},
		Summary:   RunSummary{PlannedFolders: plannedFolders},
	}
}

// AddFolder appends a completed folder and folds its counters into the summary
func (l *BacklogProcessingLog) AddFolder(folder FolderProcessingResult) {
	l.Folders = append(l.Folders, folder)
	l.Summary.TotalFolders++
	l.Summary.add(folder.StatusCounts)
}

// Finish stamps the run end time
func (l *BacklogProcessingLog) Finish(end time.Time) {
	l.EndTime = &end
}
