// Package cache двухуровневое хранилище чанков: горячий слой (Redis) перед
// постоянным ChunkStore с отложенной записью (Write-Behind).
package cache

import (
	"context"
	"errors"
	"time"
)

// HotTier горячий слой кеша. Значения: закодированные блобы чанков.
type HotTier interface {
	// Get возвращает ErrCacheMiss, если ключа нет
	Get(ctx context.Context, key string) ([]byte, error)

	// Set сохраняет значение с TTL; 0 означает отсутствие истечения
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	Close() error
}

// Ошибки кеша
var (
	ErrCacheMiss = errors.New("cache miss")
	ErrClosed    = errors.New("cache closed")
)

// IsCacheMiss проверяет, является ли ошибка промахом кеша.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// Metrics метрики производительности кеша.
type Metrics struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	HitRatio      float64 `json:"hit_ratio"`

	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MaxLatencyMs float64 `json:"max_latency_ms"`

	// Write-Behind
	PendingWrites int64 `json:"pending_writes"`
	Flushed       int64 `json:"flushed"`
	FlushErrors   int64 `json:"flush_errors"`

	LastUpdate time.Time `json:"last_update"`
}

// Options параметры TieredStore
type Options struct {
	TTL                 time.Duration // время жизни записи в горячем слое
	WriteBehind         bool          // false: запись сразу в оба слоя
	WriteBehindInterval time.Duration
	WriteBehindBatch    int // сброс при накоплении стольких чанков
}

func (o *Options) applyDefaults() {
	if o.TTL <= 0 {
		o.TTL = 10 * time.Minute
	}
	if o.WriteBehindInterval <= 0 {
		o.WriteBehindInterval = 5 * time.Second
	}
	if o.WriteBehindBatch <= 0 {
		o.WriteBehindBatch = 100
	}
}
