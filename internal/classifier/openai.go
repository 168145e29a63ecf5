package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/garyjia/docman-backlog/internal/models"
	"github.com/garyjia/docman-backlog/pkg/utils"
)

// SourceOpenAI marks hints produced by the language model
const SourceOpenAI = "openai"

// promptTextLimit is how much document text goes into the prompt
const promptTextLimit = 500

// chatClient is the subset of *openai.Client the classifier calls
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIConfig configures the model backed classifier
type OpenAIConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	Temperature       float32
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerMinute int
	BreakerFailures   uint32
	BreakerOpenPeriod time.Duration
}

// OpenAIClassifier asks a chat model for the document type. Calls are rate
// limited and go through a circuit breaker so an unavailable backend is not
// hit once per queued file.
type OpenAIClassifier struct {
	client  chatClient
	cfg     OpenAIConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[models.ClassificationHint]
	logger  *zap.Logger
}

// NewOpenAIClassifier creates a new OpenAIClassifier
func NewOpenAIClassifier(cfg OpenAIConfig, logger *zap.Logger) *OpenAIClassifier {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return newOpenAIClassifier(openai.NewClientWithConfig(clientCfg), cfg, logger)
}

func newOpenAIClassifier(client chatClient, cfg OpenAIConfig, logger *zap.Logger) *OpenAIClassifier {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 200
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 3
	}
	if cfg.BreakerOpenPeriod <= 0 {
		cfg.BreakerOpenPeriod = time.Minute
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	breaker := gobreaker.NewCircuitBreaker[models.ClassificationHint](gobreaker.Settings{
		Name:        "openai-classifier",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &OpenAIClassifier{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		breaker: breaker,
		logger:  logger,
	}
}

// Classify returns the model's document type for the text and filename
func (c *OpenAIClassifier) Classify(ctx context.Context, text, filename string) (models.ClassificationHint, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return models.ClassificationHint{}, fmt.Errorf("rate limiter: %w", err)
	}

	hint, err := c.breaker.Execute(func() (models.ClassificationHint, error) {
		return c.classify(ctx, text, filename)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return models.ClassificationHint{}, fmt.Errorf("classifier unavailable: %w", err)
	}
	return hint, err
}

func (c *OpenAIClassifier) classify(ctx context.Context, text, filename string) (models.ClassificationHint, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a document classification assistant.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildPrompt(text, filename),
			},
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return models.ClassificationHint{}, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return models.ClassificationHint{}, fmt.Errorf("no response from OpenAI")
	}

	hint, err := parseHint(resp.Choices[0].Message.Content)
	if err != nil {
		c.logger.Warn("Failed to parse classifier response",
			zap.String("filename", filename),
			zap.String("content", resp.Choices[0].Message.Content),
			zap.Error(err))
		return models.ClassificationHint{}, err
	}
	return hint, nil
}

func buildPrompt(text, filename string) string {
	if r := []rune(text); len(r) > promptTextLimit {
		text = string(r[:promptTextLimit])
	}

	return fmt.Sprintf(`You are a document classifier for an insurance company.

Given the following document text and filename, classify the document type and extract the client name if present.

Available document types:
%s

Filename: %s

Document text (first %d chars):
%s

Respond ONLY with valid JSON in this exact format:
{
  "documentType": "one of the available types",
  "confidence": 85,
  "client": "extracted client name or null",
  "notes": "brief reasoning"
}`, strings.Join(DocumentTypes, ", "), filename, promptTextLimit, text)
}

type modelAnswer struct {
	DocumentType string  `json:"documentType"`
	Confidence   int     `json:"confidence"`
	Client       *string `json:"client"`
	Notes        string  `json:"notes"`
}

// parseHint reads the first JSON object in the model's answer, which may be
// wrapped in prose or a markdown fence
func parseHint(content string) (models.ClassificationHint, error) {
	start := findJSONStart(content)
	end := findJSONEnd(content, start)
	if start < 0 || end <= start {
		return models.ClassificationHint{}, fmt.Errorf("no JSON object in response")
	}

	var answer modelAnswer
	if err := json.Unmarshal([]byte(content[start:end]), &answer); err != nil {
		return models.ClassificationHint{}, fmt.Errorf("failed to parse response: %w", err)
	}

	hint := models.ClassificationHint{
		DocumentType: strings.TrimSpace(answer.DocumentType),
		Confidence:   answer.Confidence,
		Notes:        answer.Notes,
		Source:       SourceOpenAI,
	}
	if hint.DocumentType == "" {
		hint.DocumentType = models.UnknownValue
	}
	if err := utils.ValidateConfidence(hint.Confidence); err != nil || hint.Confidence == 0 {
		hint.Confidence = 50
	}
	if answer.Client != nil && *answer.Client != "null" {
		hint.Client = strings.TrimSpace(*answer.Client)
	}
	return hint, nil
}

// findJSONStart finds the start of JSON content
func findJSONStart(content string) int {
	return strings.IndexByte(content, '{')
}

// findJSONEnd returns the index after the brace matching content[start]
func findJSONEnd(content string, start int) int {
	if start < 0 || start >= len(content) || content[start] != '{' {
		return -1
	}

	depth := 0
	inString := false
	escapeNext := false

	for i := start; i < len(content); i++ {
		ch := content[i]
		if escapeNext {
			escapeNext = false
			continue
		}
		if ch == '\\' {
			escapeNext = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}
