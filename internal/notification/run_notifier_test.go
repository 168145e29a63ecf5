package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/docman-backlog/internal/backlog"
	"github.com/garyjia/docman-backlog/internal/models"
)

type mockSender struct {
	receiveIDType string
	receiveID     string
	cards         []interface{}
	err           error
}

func (m *mockSender) SendCard(ctx context.Context, receiveIDType, receiveID string, card interface{}) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.receiveIDType = receiveIDType
	m.receiveID = receiveID
	m.cards = append(m.cards, card)
	return "om_123", nil
}

type mockPending struct {
	count int64
	err   error
}

func (m mockPending) PendingReviewCount(ctx context.Context) (int64, error) {
	return m.count, m.err
}

type mockGauge struct{ value int64 }

func (g *mockGauge) SetPendingReview(n int64) { g.value = n }

func runLog(planned int, folders ...models.StatusCounts) *models.BacklogProcessingLog {
	start := time.Date(2025, 6, 3, 8, 0, 0, 0, time.UTC)
	log := models.NewBacklogLog("2025-06-03T08-00-00.000", start, planned)
	for i, counts := range folders {
		folder := models.NewFolderResult("/share", []string{"06-02-2025", "06-03-2025", "06-04-2025"}[i], start)
		folder.StatusCounts = counts
		log.AddFolder(*folder)
	}
	log.Finish(start.Add(90 * time.Second))
	return log
}

func cardContent(t *testing.T, card map[string]interface{}) (string, string) {
	t.Helper()
	header := card["header"].(map[string]interface{})
	elements := card["elements"].([]interface{})
	div := elements[0].(map[string]interface{})
	text := div["text"].(map[string]interface{})
	return header["template"].(string), text["content"].(string)
}

func TestBuildRunCard(t *testing.T) {
	t.Run("clean run is green", func(t *testing.T) {
		log := runLog(2,
			models.StatusCounts{TotalFiles: 3, Processed: 2, Duplicates: 1},
			models.StatusCounts{TotalFiles: 1, Processed: 1})

		template, content := cardContent(t, BuildRunCard(log, backlog.LogPaths{JSON: "/logs/backlog-x.json"}, 4))

		assert.Equal(t, templateGreen, template)
		assert.Contains(t, content, "**Folders:** 2 / 2")
		assert.Contains(t, content, "**Range:** 06-02-2025 to 06-03-2025")
		assert.Contains(t, content, "**Duration:** 1m30s")
		assert.Contains(t, content, "- Imported: 3")
		assert.Contains(t, content, "**Pending review in DMS:** 4")
	})

	t.Run("review items are orange", func(t *testing.T) {
		log := runLog(1, models.StatusCounts{TotalFiles: 2, Processed: 1, Queued: 1})

		template, _ := cardContent(t, BuildRunCard(log, backlog.LogPaths{}, -1))

		assert.Equal(t, templateOrange, template)
	})

	t.Run("interrupted run is red", func(t *testing.T) {
		log := runLog(3, models.StatusCounts{TotalFiles: 1, Processed: 1})

		template, content := cardContent(t, BuildRunCard(log, backlog.LogPaths{}, -1))

		assert.Equal(t, templateRed, template)
		assert.Contains(t, content, "interrupted")
		assert.NotContains(t, content, "Pending review")
	})

	t.Run("log path note", func(t *testing.T) {
		log := runLog(1, models.StatusCounts{})

		withPath := BuildRunCard(log, backlog.LogPaths{JSON: "/logs/backlog-x.json"}, -1)
		withoutPath := BuildRunCard(log, backlog.LogPaths{}, -1)

		assert.Len(t, withPath["elements"], 3)
		assert.Len(t, withoutPath["elements"], 1)
	})
}

func TestRunNotifier_RunCompleted(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()
	log := runLog(1, models.StatusCounts{TotalFiles: 1, Processed: 1})

	t.Run("sends card and updates gauge", func(t *testing.T) {
		sender := &mockSender{}
		gauge := &mockGauge{}
		n := NewRunNotifier(sender, "chat_id", "oc_abc", logger).WithPending(mockPending{count: 7}, gauge)

		require.NoError(t, n.RunCompleted(ctx, log, backlog.LogPaths{}))

		assert.Equal(t, "chat_id", sender.receiveIDType)
		assert.Equal(t, "oc_abc", sender.receiveID)
		require.Len(t, sender.cards, 1)
		_, content := cardContent(t, sender.cards[0].(map[string]interface{}))
		assert.Contains(t, content, "**Pending review in DMS:** 7")
		assert.Equal(t, int64(7), gauge.value)
	})

	t.Run("pending count failure still sends", func(t *testing.T) {
		sender := &mockSender{}
		n := NewRunNotifier(sender, "chat_id", "oc_abc", logger).WithPending(mockPending{err: errors.New("db down")}, nil)

		require.NoError(t, n.RunCompleted(ctx, log, backlog.LogPaths{}))

		_, content := cardContent(t, sender.cards[0].(map[string]interface{}))
		assert.NotContains(t, content, "Pending review")
	})

	t.Run("send failure is returned", func(t *testing.T) {
		n := NewRunNotifier(&mockSender{err: errors.New("rate limited")}, "chat_id", "oc_abc", logger)

		err := n.RunCompleted(ctx, log, backlog.LogPaths{})

		assert.ErrorContains(t, err, "rate limited")
	})
}
