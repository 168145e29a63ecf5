package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/docman-backlog/internal/backlog"
	"github.com/garyjia/docman-backlog/internal/config"
	"github.com/garyjia/docman-backlog/internal/converter"
	"github.com/garyjia/docman-backlog/internal/models"
	"github.com/garyjia/docman-backlog/internal/services"
	"github.com/garyjia/docman-backlog/internal/storage"
)

// checkConcurrency bounds the parallel duplicate checks of list --check
const checkConcurrency = 8

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [current|archive|all|<year>]",
		Short: "Process every daily folder of a window, oldest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			arg := string(storage.WindowCurrent)
			if len(args) == 1 {
				arg = args[0]
			}
			window, err := storage.ParseWindow(arg, cfg.Backlog.CurrentYear, cfg.Backlog.ArchiveYear)
			if err != nil {
				return err
			}

			infra, err := services.NewInfrastructure(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer infra.Close()

			container, err := services.NewContainer(cfg, infra, logger)
			if err != nil {
				return err
			}

			log, paths, runErr := container.Coordinator.RunWindow(cmd.Context(), window)
			if log != nil {
				printSummary(log, paths)
				writeTextfile(infra, cfg.Metrics.TextfilePath, logger)
			}
			return runErr
		},
	}
}

func newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test [MM-DD-YYYY]",
		Short: "Process a single folder (the oldest current-year folder by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			folder := ""
			if len(args) == 1 {
				folder = args[0]
			}

			infra, err := services.NewInfrastructure(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer infra.Close()

			container, err := services.NewContainer(cfg, infra, logger)
			if err != nil {
				return err
			}

			log, paths, runErr := container.Coordinator.TestFolder(cmd.Context(), folder)
			if log != nil {
				printSummary(log, paths)
				printFiles(log)
			}
			return runErr
		},
	}
}

func newListCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "list [current|archive|all|<year>]",
		Short: "List the daily folders of a window with their file counts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			arg := string(storage.WindowAll)
			if len(args) == 1 {
				arg = args[0]
			}
			window, err := storage.ParseWindow(arg, cfg.Backlog.CurrentYear, cfg.Backlog.ArchiveYear)
			if err != nil {
				return err
			}

			folders := storage.NewFolderManager(cfg.Backlog.BaseDir, cfg.Backlog.CurrentYear, cfg.Backlog.ArchiveYear, logger)
			paths, err := folders.DailyFolders(window)
			if err != nil {
				return fmt.Errorf("%w: %v", backlog.ErrFolderEnumeration, err)
			}

			var imported map[string]int
			if check {
				imported, err = countImported(cmd, cfg, folders, paths, logger)
				if err != nil {
					return err
				}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			if check {
				fmt.Fprintln(w, "DATE\tFILES\tIMPORTED\tPATH")
			} else {
				fmt.Fprintln(w, "DATE\tFILES\tPATH")
			}
			total := 0
			for _, info := range folders.Describe(paths) {
				if check {
					fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", info.Date, info.FileCount, imported[info.Path], info.Path)
				} else {
					fmt.Fprintf(w, "%s\t%d\t%s\n", info.Date, info.FileCount, info.Path)
				}
				total += info.FileCount
			}
			w.Flush()
			fmt.Printf("\n%d folders, %d files\n", len(paths), total)
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Count files already present in the document store")
	return cmd
}

// countImported runs the duplicate checker over every listed folder and
// returns the number of already imported files per folder path.
func countImported(cmd *cobra.Command, cfg *config.Config, folders *storage.FolderManager, paths []string, logger *zap.Logger) (map[string]int, error) {
	infra, err := services.NewInfrastructure(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, err
	}
	defer infra.Close()

	container, err := services.NewContainer(cfg, infra, logger)
	if err != nil {
		return nil, err
	}

	imported := make(map[string]int, len(paths))
	for _, folder := range paths {
		files, err := folders.ListFiles(folder)
		if err != nil {
			continue
		}
		queries := make([]models.DuplicateQuery, 0, len(files))
		for _, file := range files {
			queries = append(queries, models.DuplicateQuery{Filename: filepath.Base(file)})
		}
		results, err := container.Checker.CheckBatch(cmd.Context(), queries, checkConcurrency)
		if err != nil {
			return nil, err
		}
		for _, result := range results {
			if result.IsDuplicate {
				imported[folder]++
			}
		}
	}
	return imported, nil
}

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Report which external conversion tools are installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			runner := converter.NewExecRunner(cfg.Converter.Timeout, logger)
			status := converter.NewConverter(runner, cfg.Converter.ScratchDir, logger).ProbeTools(cmd.Context())

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TOOL\tINSTALLED")
			fmt.Fprintf(w, "%s\t%t\n", converter.ToolWkhtmltopdf, status.Wkhtmltopdf)
			fmt.Fprintf(w, "%s\t%t\n", converter.ToolLibreOffice, status.LibreOffice)
			fmt.Fprintf(w, "%s\t%t\n", converter.ToolImageMagick, status.ImageMagick)
			fmt.Fprintf(w, "%s\t%t\n", converter.ToolMsgConvert, status.MsgConvert)
			w.Flush()

			if missing := status.Missing(); len(missing) > 0 {
				fmt.Printf("\nFiles needing %v keep their original format.\n", missing)
			}
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the review queue and processing history counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			infra, err := services.NewInfrastructure(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer infra.Close()

			pending, err := infra.Repositories.Documents.PendingReviewCount(cmd.Context())
			if err != nil {
				return err
			}
			counts, err := infra.Repositories.ProcessingLog.StatusCounts(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Documents pending review: %d\n\n", pending)

			statuses := make([]string, 0, len(counts))
			for status := range counts {
				statuses = append(statuses, status)
			}
			sort.Strings(statuses)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STATUS\tFILES")
			for _, status := range statuses {
				fmt.Fprintf(w, "%s\t%d\n", status, counts[status])
			}
			return w.Flush()
		},
	}
}

func newLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs [runId]",
		Short: "List stored run logs, or show the summary of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			logs := backlog.NewLogWriter(cfg.Backlog.LogsDir, storage.NewLocalFileStorage(cfg.Backlog.LogsDir, logger), logger)

			if len(args) == 1 {
				log, err := logs.LoadLog(args[0])
				if errors.Is(err, backlog.ErrLogNotFound) {
					return fmt.Errorf("no log for run %s in %s", args[0], logs.Dir())
				}
				if err != nil {
					return err
				}
				printSummary(log, backlog.LogPaths{})
				return nil
			}

			infos, err := logs.ListLogs()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSIZE\tWRITTEN")
			for _, info := range infos {
				fmt.Fprintf(w, "%s\t%d\t%s\n", info.RunID, info.Size, info.ModTime.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
}

func printSummary(log *models.BacklogProcessingLog, paths backlog.LogPaths) {
	s := log.Summary
	fmt.Printf("Run %s\n", log.RunID)
	fmt.Printf("  Folders:    %d / %d\n", s.TotalFolders, s.PlannedFolders)
	fmt.Printf("  Files:      %d\n", s.TotalFiles)
	fmt.Printf("  Imported:   %d\n", s.Processed)
	fmt.Printf("  Duplicates: %d\n", s.Duplicates)
	fmt.Printf("  Queued:     %d\n", s.Queued)
	fmt.Printf("  Errors:     %d\n", s.Errors)
	if paths.JSON != "" {
		fmt.Printf("  Log:        %s\n", paths.JSON)
	}
	if paths.CSV != "" {
		fmt.Printf("  CSV:        %s\n", paths.CSV)
	}
	if paths.XLSX != "" {
		fmt.Printf("  XLSX:       %s\n", paths.XLSX)
	}
}

func printFiles(log *models.BacklogProcessingLog) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nFILE\tSTATUS\tPOLICY\tTYPE\tDETAIL")
	for _, folder := range log.Folders {
		for _, file := range folder.Files {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				file.Filename, file.Status, file.Parsed.Policy(), file.Parsed.TypeLabel(), file.ErrorText())
		}
	}
	w.Flush()
}

func writeTextfile(infra *services.Infrastructure, path string, logger *zap.Logger) {
	if path == "" {
		return
	}
	if err := infra.Metrics.WriteTextfile(path); err != nil {
		logger.Warn("Failed to write metrics textfile", zap.String("path", path), zap.Error(err))
	}
}
