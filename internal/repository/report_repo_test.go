package repository

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func sampleReport() StoredReport {
	return StoredReport{
		FileName:  "todo-app_Grading_Report.xlsx",
		Workbook:  []byte{0x50, 0x4b, 0x03, 0x04},
		CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestRedisReportRepositoryTakesOnce(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	repo := NewRedisReportRepository(client, "test:reports", time.Minute)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "abc", sampleReport()))
	require.True(t, server.Exists("test:reports:abc"))

	got, err := repo.Take(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, sampleReport(), got)

	_, err = repo.Take(ctx, "abc")
	require.ErrorIs(t, err, ErrReportNotFound)
}

func TestRedisReportRepositoryExpires(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	repo := NewRedisReportRepository(client, "", time.Minute)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "abc", sampleReport()))
	require.Equal(t, time.Minute, server.TTL("gema:reports:abc"))

	server.FastForward(2 * time.Minute)

	_, err = repo.Take(ctx, "abc")
	require.ErrorIs(t, err, ErrReportNotFound)
}

func TestMemoryReportRepositoryTakesOnce(t *testing.T) {
	repo := NewMemoryReportRepository(time.Minute, 4)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "abc", sampleReport()))

	got, err := repo.Take(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, sampleReport(), got)

	_, err = repo.Take(ctx, "abc")
	require.ErrorIs(t, err, ErrReportNotFound)

	_, err = repo.Take(ctx, "missing")
	require.ErrorIs(t, err, ErrReportNotFound)
}

func TestMemoryReportRepositoryCapacity(t *testing.T) {
	repo := NewMemoryReportRepository(time.Minute, 2)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "a", sampleReport()))
	require.NoError(t, repo.Save(ctx, "b", sampleReport()))
	require.ErrorIs(t, repo.Save(ctx, "c", sampleReport()), ErrReportStoreFull)

	_, err := repo.Take(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, "c", sampleReport()))
}

func TestMemoryReportRepositoryExpires(t *testing.T) {
	repo := NewMemoryReportRepository(20*time.Millisecond, 1)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "a", sampleReport()))
	time.Sleep(40 * time.Millisecond)

	_, err := repo.Take(ctx, "a")
	require.ErrorIs(t, err, ErrReportNotFound)
	require.NoError(t, repo.Save(ctx, "b", sampleReport()))
}
