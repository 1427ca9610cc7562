package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrReportNotFound indicates the report expired, was already downloaded or never existed.
	ErrReportNotFound = errors.New("report not found")
	// ErrReportStoreFull indicates the in-memory store reached its capacity.
	ErrReportStoreFull = errors.New("report store is full")
)

const defaultReportTTL = 15 * time.Minute

// StoredReport is a generated workbook awaiting download.
type StoredReport struct {
	FileName  string    `json:"file_name"`
	Workbook  []byte    `json:"workbook"`
	CreatedAt time.Time `json:"created_at"`
}

// ReportRepository hands generated reports over to the download endpoint. Reports can
// be taken once and expire after the configured TTL.
type ReportRepository interface {
	Save(ctx context.Context, id string, report StoredReport) error
	Take(ctx context.Context, id string) (StoredReport, error)
}

type redisReportRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisReportRepository stores reports in Redis under prefix.
func NewRedisReportRepository(client *redis.Client, prefix string, ttl time.Duration) ReportRepository {
	if ttl <= 0 {
		ttl = defaultReportTTL
	}
	if prefix == "" {
		prefix = "gema:reports"
	}
	return &redisReportRepository{client: client, prefix: prefix, ttl: ttl}
}

func (r *redisReportRepository) key(id string) string {
	return fmt.Sprintf("%s:%s", r.prefix, id)
}

func (r *redisReportRepository) Save(ctx context.Context, id string, report StoredReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(id), payload, r.ttl).Err()
}

func (r *redisReportRepository) Take(ctx context.Context, id string) (StoredReport, error) {
	payload, err := r.client.GetDel(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return StoredReport{}, ErrReportNotFound
	}
	if err != nil {
		return StoredReport{}, err
	}

	var report StoredReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return StoredReport{}, fmt.Errorf("decode stored report: %w", err)
	}
	return report, nil
}

type memoryReportRepository struct {
	mu       sync.Mutex
	cache    *gocache.Cache
	capacity int
}

// NewMemoryReportRepository keeps at most capacity reports in process memory.
func NewMemoryReportRepository(ttl time.Duration, capacity int) ReportRepository {
	if ttl <= 0 {
		ttl = defaultReportTTL
	}
	if capacity <= 0 {
		capacity = 256
	}
	return &memoryReportRepository{
		cache:    gocache.New(ttl, ttl),
		capacity: capacity,
	}
}

func (r *memoryReportRepository) Save(_ context.Context, id string, report StoredReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cache.ItemCount() >= r.capacity {
		r.cache.DeleteExpired()
		if r.cache.ItemCount() >= r.capacity {
			return ErrReportStoreFull
		}
	}
	r.cache.SetDefault(id, report)
	return nil
}

func (r *memoryReportRepository) Take(_ context.Context, id string) (StoredReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	value, ok := r.cache.Get(id)
	if !ok {
		return StoredReport{}, ErrReportNotFound
	}
	r.cache.Delete(id)

	report, ok := value.(StoredReport)
	if !ok {
		return StoredReport{}, ErrReportNotFound
	}
	return report, nil
}
