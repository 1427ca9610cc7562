package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ReportReadyEvent announces a report that can be downloaded.
type ReportReadyEvent struct {
	ReportID       string    `json:"report_id"`
	CorrelationID  string    `json:"correlation_id,omitempty"`
	Project        string    `json:"project"`
	FileName       string    `json:"file_name"`
	GradingSkipped bool      `json:"grading_skipped"`
	GradingFailed  bool      `json:"grading_failed"`
	Criteria       int       `json:"criteria"`
	Graded         int       `json:"graded"`
	ExpiresAt      time.Time `json:"expires_at"`
	SentAt         time.Time `json:"sent_at"`
}

// ReportEvents publishes report lifecycle events.
type ReportEvents interface {
	ReportReady(ctx context.Context, event ReportReadyEvent)
}

type reportEvents struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
}

// NewReportEvents publishes to the Redis channel and NATS subject that are configured.
// Either transport may be nil.
func NewReportEvents(redisClient *redis.Client, redisChannel string, natsConn *nats.Conn, natsSubject string, logger zerolog.Logger) ReportEvents {
	return &reportEvents{
		redis:        redisClient,
		redisChannel: redisChannel,
		nats:         natsConn,
		natsSubject:  natsSubject,
		logger:       logger.With().Str("component", "report_events").Logger(),
	}
}

// ReportReady is best effort; failures are logged and never fail the analysis.
func (e *reportEvents) ReportReady(ctx context.Context, event ReportReadyEvent) {
	if event.SentAt.IsZero() {
		event.SentAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		e.logger.Warn().Err(err).Msg("failed to encode report event")
		return
	}

	if e.redis != nil && e.redisChannel != "" {
		if err := e.redis.Publish(ctx, e.redisChannel, payload).Err(); err != nil {
			e.logger.Warn().Err(err).Str("report_id", event.ReportID).Msg("failed to publish report event to redis")
		}
	}

	if e.nats != nil && e.natsSubject != "" {
		if err := e.nats.Publish(e.natsSubject, payload); err != nil {
			e.logger.Warn().Err(err).Str("report_id", event.ReportID).Msg("failed to publish report event to nats")
		}
	}
}
