package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestReportEventsPublishesToRedis(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, "grader:reports")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	events := NewReportEvents(client, "grader:reports", nil, "", zerolog.Nop())
	events.ReportReady(ctx, ReportReadyEvent{ReportID: "abc", Project: "todo-app", Criteria: 3, Graded: 2})

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got ReportReadyEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	require.Equal(t, "abc", got.ReportID)
	require.Equal(t, "todo-app", got.Project)
	require.Equal(t, 2, got.Graded)
	require.False(t, got.SentAt.IsZero())
}

func TestReportEventsWithoutTransportsIsNoop(t *testing.T) {
	events := NewReportEvents(nil, "", nil, "", zerolog.Nop())
	require.NotPanics(t, func() {
		events.ReportReady(context.Background(), ReportReadyEvent{ReportID: "abc"})
	})
}
