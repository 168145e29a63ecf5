package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/docman-backlog/pkg/utils"
)

// Window selects which daily folders a backlog run covers
type Window string

// Processing windows
const (
	WindowCurrent Window = "current"
	WindowArchive Window = "archive"
	WindowAll     Window = "all"
)

// ParseWindow accepts a window name or one of the configured years
func ParseWindow(s string, currentYear, archiveYear int) (Window, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(WindowCurrent), fmt.Sprint(currentYear):
		return WindowCurrent, nil
	case string(WindowArchive), fmt.Sprint(archiveYear):
		return WindowArchive, nil
	case string(WindowAll):
		return WindowAll, nil
	}
	return "", fmt.Errorf("unknown processing window %q (want current, archive, all, %d or %d)", s, currentYear, archiveYear)
}

// AllowedExtensions are the source formats picked up from daily folders
var AllowedExtensions = map[string]bool{
	"pdf":  true,
	"jpg":  true,
	"jpeg": true,
	"png":  true,
	"heic": true,
	"txt":  true,
	"msg":  true,
}

var folderDatePattern = regexp.MustCompile(`(\d{2})-(\d{2})-(\d{4})`)

// FolderManager enumerates the daily scan folders of the company share.
// Current-year folders sit directly under the root (MM-DD-YYYY); the archive
// year lives under "<root>/<year> Archive".
type FolderManager struct {
	baseDir     string
	currentYear int
	archiveYear int
	logger      *zap.Logger
}

// NewFolderManager creates a new FolderManager
func NewFolderManager(baseDir string, currentYear, archiveYear int, logger *zap.Logger) *FolderManager {
	return &FolderManager{
		baseDir:     baseDir,
		currentYear: currentYear,
		archiveYear: archiveYear,
		logger:      logger,
	}
}

// ArchiveDir returns the archive directory of the configured archive year
func (m *FolderManager) ArchiveDir() string {
	return filepath.Join(m.baseDir, fmt.Sprintf("%d Archive", m.archiveYear))
}

// DailyFolders lists the folders of a window sorted chronologically.
// An unreadable root is an error; a missing archive directory is logged and
// contributes no folders.
func (m *FolderManager) DailyFolders(window Window) ([]string, error) {
	var folders []string

	switch window {
	case WindowCurrent, WindowAll:
		current, err := m.listYear(m.baseDir, m.currentYear)
		if err != nil {
			return nil, err
		}
		folders = append(folders, current...)
	case WindowArchive:
	default:
		return nil, fmt.Errorf("unknown processing window %q", window)
	}

	if window == WindowArchive || window == WindowAll {
		archived, err := m.listYear(m.ArchiveDir(), m.archiveYear)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
			m.logger.Warn("Archive directory not found", zap.String("dir", m.ArchiveDir()))
		}
		folders = append(folders, archived...)
	}

	SortChronologically(folders)
	return folders, nil
}

func (m *FolderManager) listYear(dir string, year int) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	pattern := regexp.MustCompile(fmt.Sprintf(`^\d{2}-\d{2}-%04d$`, year))

	var folders []string
	for _, entry := range entries {
		if entry.IsDir() && pattern.MatchString(entry.Name()) {
			folders = append(folders, filepath.Join(dir, entry.Name()))
		}
	}
	return folders, nil
}

// FolderDate returns the MM-DD-YYYY part of a folder path, or "unknown"
func FolderDate(folderPath string) string {
	if m := folderDatePattern.FindString(filepath.Base(folderPath)); m != "" {
		return m
	}
	if m := folderDatePattern.FindString(folderPath); m != "" {
		return m
	}
	return "unknown"
}

// SortKey reorders MM-DD-YYYY into YYYY-MM-DD so keys compare chronologically
func SortKey(folderPath string) string {
	m := folderDatePattern.FindStringSubmatch(filepath.Base(folderPath))
	if m == nil {
		return ""
	}
	return m[3] + "-" + m[1] + "-" + m[2]
}

// SortChronologically orders folder paths by their date, oldest first
func SortChronologically(folders []string) {
	sort.SliceStable(folders, func(i, j int) bool {
		ki, kj := SortKey(folders[i]), SortKey(folders[j])
		if ki != kj {
			return ki < kj
		}
		return folders[i] < folders[j]
	})
}

// ListFiles returns the eligible file names of a folder in name order
func (m *FolderManager) ListFiles(folderPath string) ([]string, error) {
	entries, err := os.ReadDir(folderPath)
	if err != nil {
		m.logger.Error("Failed to read folder",
			zap.String("folder", folderPath),
			zap.Error(err))
		return nil, fmt.Errorf("failed to read folder: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(entry.Name()), "."))
		if AllowedExtensions[ext] {
			files = append(files, entry.Name())
		}
	}
	return files, nil
}

// FolderExists checks if a folder exists
func (m *FolderManager) FolderExists(folderPath string) bool {
	info, err := os.Stat(folderPath)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// ResolveFolder maps a bare MM-DD-YYYY name onto its location on the share
func (m *FolderManager) ResolveFolder(name string) (string, error) {
	if filepath.IsAbs(name) {
		if !m.FolderExists(name) {
			return "", fmt.Errorf("folder not found: %s", name)
		}
		return name, nil
	}

	if !utils.IsDailyFolderName(name) {
		return "", fmt.Errorf("invalid folder name %q, expected MM-DD-YYYY", name)
	}

	candidates := []string{
		filepath.Join(m.baseDir, name),
		filepath.Join(m.ArchiveDir(), name),
	}
	for _, c := range candidates {
		if m.FolderExists(c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("folder not found: %s", name)
}

// FolderInfo summarizes a daily folder for listings
type FolderInfo struct {
	Path      string `json:"path"`
	Date      string `json:"date"`
	FileCount int    `json:"fileCount"`
}

// Describe counts the eligible files of each folder
func (m *FolderManager) Describe(folders []string) []FolderInfo {
	infos := make([]FolderInfo, 0, len(folders))
	for _, folder := range folders {
		files, err := m.ListFiles(folder)
		if err != nil {
			files = nil
		}
		infos = append(infos, FolderInfo{Path: folder, Date: FolderDate(folder), FileCount: len(files)})
	}
	return infos
}
