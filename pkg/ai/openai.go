package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	gradingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "grading_duration_seconds",
		Help:      "Duration of AI grading requests including retries",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
	}, []string{"model"})

	gradingFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "grading_failures_total",
		Help:      "Number of AI grading failures",
	}, []string{"model"})

	gradingRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "grading_retries_total",
		Help:      "Number of retried AI grading attempts",
	}, []string{"model"})
)

// Supported providers.
const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
)

// ErrGraderNotConfigured indicates the provider credentials are missing.
var ErrGraderNotConfigured = errors.New("ai grader not configured")

// OpenAIConfig defines configuration options for the OpenAI grader.
type OpenAIConfig struct {
	Provider        string
	APIKey          string
	Model           string
	BaseURL         string
	AzureEndpoint   string
	AzureDeployment string
	AzureAPIVersion string
	MaxTokens       int
	Temperature     float32
	Retry           RetryPolicy
	Logger          zerolog.Logger
}

// chatClient is the part of the go-openai client used by the grader.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIGrader implements Grader against the OpenAI or Azure OpenAI chat completion API.
type OpenAIGrader struct {
	client chatClient
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIGrader builds a grader from the provided configuration.
func NewOpenAIGrader(cfg OpenAIConfig) (*OpenAIGrader, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: api key is required", ErrGraderNotConfigured)
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4000
	}

	var config openai.ClientConfig
	switch strings.ToLower(cfg.Provider) {
	case ProviderAzure:
		if cfg.AzureEndpoint == "" {
			return nil, fmt.Errorf("%w: azure endpoint is required", ErrGraderNotConfigured)
		}
		config = openai.DefaultAzureConfig(cfg.APIKey, cfg.AzureEndpoint)
		if cfg.AzureAPIVersion != "" {
			config.APIVersion = cfg.AzureAPIVersion
		}
		if cfg.AzureDeployment != "" {
			deployment := cfg.AzureDeployment
			config.AzureModelMapperFunc = func(string) string { return deployment }
		}
	case "", ProviderOpenAI:
		config = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			config.BaseURL = cfg.BaseURL
		}
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrGraderNotConfigured, cfg.Provider)
	}

	return newOpenAIGrader(openai.NewClientWithConfig(config), cfg), nil
}

func newOpenAIGrader(client chatClient, cfg OpenAIConfig) *OpenAIGrader {
	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}
	return &OpenAIGrader{
		client: client,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-grader/pkg/ai/openai"),
		logger: logger.With().Str("component", "openai_grader").Logger(),
	}
}

// Grade sends the grading request and parses the structured response. Transient API
// failures are retried according to the configured policy.
func (g *OpenAIGrader) Grade(parent context.Context, req GradingRequest) (GradingResponse, error) {
	ctx, span := g.tracer.Start(parent, "openai.grade", trace.WithAttributes(
		attribute.String("model", g.cfg.Model),
		attribute.Int("criteria", len(req.Criteria)),
		attribute.Int("files", len(req.Files)),
		attribute.Int("images", len(req.Images)),
	))
	defer span.End()

	prompt, err := BuildPrompt(req)
	if err != nil {
		return GradingResponse{}, g.fail(span, err)
	}

	parts := make([]openai.ChatMessagePart, 0, len(req.Images)+1)
	parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: prompt})
	for _, image := range req.Images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    image.DataURL(),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}

	request := openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: parts,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	policy := g.cfg.Retry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		gradingRetries.WithLabelValues(g.cfg.Model).Inc()
		g.logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("retrying grading request")
	}

	start := time.Now()
	var resp openai.ChatCompletionResponse
	err = Retry(ctx, policy, func(ctx context.Context) error {
		var callErr error
		resp, callErr = g.client.CreateChatCompletion(ctx, request)
		return callErr
	})
	gradingDuration.WithLabelValues(g.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		return GradingResponse{}, g.fail(span, fmt.Errorf("openai grade: %w", err))
	}

	if len(resp.Choices) == 0 {
		return GradingResponse{}, g.fail(span, fmt.Errorf("%w: no choices returned from openai", ErrInvalidResponse))
	}

	result, err := ParseGradingResponse([]byte(resp.Choices[0].Message.Content))
	if err != nil {
		return GradingResponse{}, g.fail(span, err)
	}

	for _, malformed := range result.Malformed {
		g.logger.Warn().Int("position", malformed.Position).Str("reason", malformed.Reason).Msg("dropping unreadable grade entry")
	}

	span.SetAttributes(attribute.Int("grades", len(result.Grades)), attribute.Int("malformed_grades", len(result.Malformed)))
	g.logger.Info().
		Int("grades", len(result.Grades)).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("grading completed")

	return result, nil
}

func (g *OpenAIGrader) fail(span trace.Span, err error) error {
	gradingFailures.WithLabelValues(g.cfg.Model).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
