package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/docman-backlog/internal/backlog"
	"github.com/garyjia/docman-backlog/internal/models"
)

// CardSender delivers an interactive card to a Lark chat or user
type CardSender interface {
	SendCard(ctx context.Context, receiveIDType, receiveID string, card interface{}) (string, error)
}

// PendingCounter reports how many imported documents still need manual review
type PendingCounter interface {
	PendingReviewCount(ctx context.Context) (int64, error)
}

// PendingGauge receives the pending review count after each run
type PendingGauge interface {
	SetPendingReview(n int64)
}

// RunNotifier posts a summary card to Lark when a backlog run ends
type RunNotifier struct {
	sender        CardSender
	receiveIDType string
	receiveID     string
	pending       PendingCounter
	gauge         PendingGauge
	logger        *zap.Logger
}

// NewRunNotifier creates a new run notifier
func NewRunNotifier(sender CardSender, receiveIDType, receiveID string, logger *zap.Logger) *RunNotifier {
	return &RunNotifier{
		sender:        sender,
		receiveIDType: receiveIDType,
		receiveID:     receiveID,
		logger:        logger,
	}
}

// WithPending adds the review backlog to the card and the gauge
func (n *RunNotifier) WithPending(counter PendingCounter, gauge PendingGauge) *RunNotifier {
	n.pending = counter
	n.gauge = gauge
	return n
}

// RunCompleted implements backlog.RunNotifier
func (n *RunNotifier) RunCompleted(ctx context.Context, log *models.BacklogProcessingLog, paths backlog.LogPaths) error {
	pending := int64(-1)
	if n.pending != nil {
		count, err := n.pending.PendingReviewCount(ctx)
		if err != nil {
			n.logger.Warn("Failed to count documents pending review", zap.Error(err))
		} else {
			pending = count
			if n.gauge != nil {
				n.gauge.SetPendingReview(count)
			}
		}
	}

	card := BuildRunCard(log, paths, pending)
	messageID, err := n.sender.SendCard(ctx, n.receiveIDType, n.receiveID, card)
	if err != nil {
		return fmt.Errorf("failed to send run summary: %w", err)
	}

	n.logger.Info("Run summary sent",
		zap.String("run_id", log.RunID),
		zap.String("message_id", messageID))
	return nil
}

// Card templates
const (
	templateGreen  = "green"
	templateOrange = "orange"
	templateRed    = "red"
)

// BuildRunCard renders the run summary as a Lark interactive card. A
// negative pending count omits the review line.
func BuildRunCard(log *models.BacklogProcessingLog, paths backlog.LogPaths, pending int64) map[string]interface{} {
	s := log.Summary

	template := templateGreen
	status := "completed"
	switch {
	case s.TotalFolders < s.PlannedFolders:
		template = templateRed
		status = "interrupted"
	case s.Errors > 0 || s.Queued > 0:
		template = templateOrange
		status = "completed with items to review"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Status:** %s\n", status)
	fmt.Fprintf(&b, "**Folders:** %d / %d\n", s.TotalFolders, s.PlannedFolders)
	if len(log.Folders) > 0 {
		fmt.Fprintf(&b, "**Range:** %s to %s\n", log.Folders[0].FolderDate, log.Folders[len(log.Folders)-1].FolderDate)
	}
	if log.EndTime != nil {
		fmt.Fprintf(&b, "**Duration:** %s\n", log.EndTime.Sub(log.StartTime).Round(time.Second))
	}
	fmt.Fprintf(&b, "**Files:** %d\n", s.TotalFiles)
	fmt.Fprintf(&b, "- Imported: %d\n", s.Processed)
	fmt.Fprintf(&b, "- Duplicates: %d\n", s.Duplicates)
	fmt.Fprintf(&b, "- Queued for review: %d\n", s.Queued)
	fmt.Fprintf(&b, "- Errors: %d", s.Errors)
	if pending >= 0 {
		fmt.Fprintf(&b, "\n**Pending review in DMS:** %d", pending)
	}

	elements := []interface{}{
		map[string]interface{}{
			"tag":  "div",
			"text": map[string]interface{}{"tag": "lark_md", "content": b.String()},
		},
	}
	if paths.JSON != "" {
		elements = append(elements,
			map[string]interface{}{"tag": "hr"},
			map[string]interface{}{
				"tag": "note",
				"elements": []interface{}{
					map[string]interface{}{"tag": "plain_text", "content": "Log: " + paths.JSON},
				},
			})
	}

	return map[string]interface{}{
		"config": map[string]interface{}{"wide_screen_mode": true},
		"header": map[string]interface{}{
			"template": template,
			"title":    map[string]interface{}{"tag": "plain_text", "content": "Backlog run " + log.RunID},
		},
		"elements": elements,
	}
}
