package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/voxel-stream/internal/logging"
	"github.com/annel0/voxel-stream/internal/storage"
	"github.com/annel0/voxel-stream/internal/world"
	"github.com/prometheus/client_golang/prometheus"
)

// pendingWrite чанк, ожидающий записи в постоянное хранилище
type pendingWrite struct {
	id     world.ChunkID
	level  string
	voxels []byte
	solid  int
	queued time.Time
}

// TieredStore реализует storage.ChunkStore: чтение сквозь горячий слой
// (Read-Through), запись в горячий слой сразу, а в постоянное хранилище
// пачками (Write-Behind). Непереписанные чанки читаются из очереди, поэтому
// истечение TTL в горячем слое не возвращает устаревшие данные.
type TieredStore struct {
	hot  HotTier
	cold storage.ChunkStore
	opts Options
	log  *logging.Logger

	mu      sync.Mutex
	pending map[string]pendingWrite
	closed  bool

	kick chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup

	requests    atomic.Int64
	hits        atomic.Int64
	misses      atomic.Int64
	flushed     atomic.Int64
	flushErrors atomic.Int64

	latencySum   atomic.Int64 // в наносекундах
	latencyCount atomic.Int64
	maxLatency   atomic.Int64
}

// NewTieredStore оборачивает cold горячим слоем hot. Закрытие TieredStore
// закрывает оба слоя.
func NewTieredStore(hot HotTier, cold storage.ChunkStore, opts Options) *TieredStore {
	opts.applyDefaults()
	s := &TieredStore{
		hot:     hot,
		cold:    cold,
		opts:    opts,
		log:     logging.GetStorageLogger(),
		pending: make(map[string]pendingWrite),
		kick:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	if opts.WriteBehind {
		s.wg.Add(1)
		go s.writeBehindLoop()
		s.log.Info("✍️ Write-Behind запущен (интервал: %v, пачка: %d)", opts.WriteBehindInterval, opts.WriteBehindBatch)
	}
	return s
}

func (s *TieredStore) Exists(ctx context.Context, id world.ChunkID, level string) (bool, error) {
	key := storage.ChunkKey(level, id)
	s.mu.Lock()
	_, queued := s.pending[key]
	s.mu.Unlock()
	if queued {
		return true, nil
	}

	if _, err := s.hot.Get(ctx, key); err == nil {
		return true, nil
	} else if !IsCacheMiss(err) {
		s.log.Warn("⚠️ Горячий слой недоступен для %s: %v", key, err)
	}
	return s.cold.Exists(ctx, id, level)
}

func (s *TieredStore) Load(ctx context.Context, id world.ChunkID, level string) ([]byte, int, error) {
	start := time.Now()
	defer s.recordLatency(start)
	s.requests.Add(1)

	key := storage.ChunkKey(level, id)
	s.mu.Lock()
	w, queued := s.pending[key]
	s.mu.Unlock()
	if queued {
		s.hits.Add(1)
		return copyVoxels(w.voxels), w.solid, nil
	}

	blob, err := s.hot.Get(ctx, key)
	switch {
	case err == nil:
		voxels, solid, derr := storage.DecodeVoxels(blob)
		if derr == nil {
			s.hits.Add(1)
			return voxels, solid, nil
		}
		s.log.Warn("⚠️ Повреждённый блоб %s в горячем слое: %v", key, derr)
		_ = s.hot.Delete(ctx, key)
	case !IsCacheMiss(err):
		s.log.Warn("⚠️ Горячий слой недоступен для %s: %v", key, err)
	}
	s.misses.Add(1)

	voxels, solid, err := s.cold.Load(ctx, id, level)
	if err != nil {
		return nil, 0, err
	}
	if blob, err := storage.EncodeVoxels(voxels, solid); err == nil {
		if err := s.hot.Set(ctx, key, blob, s.opts.TTL); err != nil {
			s.log.Debug("Не удалось прогреть %s: %v", key, err)
		}
	}
	return voxels, solid, nil
}

func (s *TieredStore) Save(ctx context.Context, id world.ChunkID, level string, voxels []byte, solidCount int) error {
	blob, err := storage.EncodeVoxels(voxels, solidCount)
	if err != nil {
		return err
	}
	key := storage.ChunkKey(level, id)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if !s.opts.WriteBehind {
		s.mu.Unlock()
		if err := s.cold.Save(ctx, id, level, voxels, solidCount); err != nil {
			return err
		}
		if err := s.hot.Set(ctx, key, blob, s.opts.TTL); err != nil {
			s.log.Warn("⚠️ Запись %s в горячий слой: %v", key, err)
		}
		return nil
	}

	s.pending[key] = pendingWrite{id: id, level: level, voxels: copyVoxels(voxels), solid: solidCount, queued: time.Now()}
	full := len(s.pending) >= s.opts.WriteBehindBatch
	s.mu.Unlock()

	if err := s.hot.Set(ctx, key, blob, s.opts.TTL); err != nil {
		s.log.Warn("⚠️ Запись %s в горячий слой: %v", key, err)
	}
	if full {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Flush переносит накопленные чанки в постоянное хранилище. Неудачные
// записи возвращаются в очередь, если их не перекрыла более новая.
func (s *TieredStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return nil
	}
	batch := s.pending
	s.pending = make(map[string]pendingWrite, len(batch))
	s.mu.Unlock()

	start := time.Now()
	var errs []error
	for key, w := range batch {
		if err := s.cold.Save(ctx, w.id, w.level, w.voxels, w.solid); err != nil {
			s.flushErrors.Add(1)
			errs = append(errs, fmt.Errorf("flush %s: %w", key, err))
			s.mu.Lock()
			if _, newer := s.pending[key]; !newer {
				s.pending[key] = w
			}
			s.mu.Unlock()
			continue
		}
		s.flushed.Add(1)
	}

	if len(errs) > 0 {
		s.log.Error("❌ Write-Behind: %d из %d чанков не записаны", len(errs), len(batch))
	} else {
		s.log.Debug("Write-Behind: %d чанков записано за %v", len(batch), time.Since(start))
	}
	return errors.Join(errs...)
}

func (s *TieredStore) writeBehindLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.WriteBehindInterval)
	defer ticker.Stop()

	flush := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = s.Flush(ctx)
	}

	for {
		select {
		case <-ticker.C:
			flush()
		case <-s.kick:
			flush()
		case <-s.stop:
			return
		}
	}
}

// Close останавливает Write-Behind, сбрасывает очередь и закрывает оба слоя
func (s *TieredStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	flushErr := s.Flush(ctx)
	if flushErr != nil {
		s.log.Error("❌ Чанки потеряны при закрытии кеша: %v", flushErr)
	}

	return errors.Join(flushErr, s.hot.Close(), s.cold.Close())
}

// Metrics снимок метрик кеша
func (s *TieredStore) Metrics() Metrics {
	hits, misses := s.hits.Load(), s.misses.Load()
	m := Metrics{
		TotalRequests: s.requests.Load(),
		CacheHits:     hits,
		CacheMisses:   misses,
		Flushed:       s.flushed.Load(),
		FlushErrors:   s.flushErrors.Load(),
		MaxLatencyMs:  float64(s.maxLatency.Load()) / 1e6,
		LastUpdate:    time.Now(),
	}
	if total := hits + misses; total > 0 {
		m.HitRatio = float64(hits) / float64(total)
	}
	if n := s.latencyCount.Load(); n > 0 {
		m.AvgLatencyMs = float64(s.latencySum.Load()) / float64(n) / 1e6
	}
	s.mu.Lock()
	m.PendingWrites = int64(len(s.pending))
	s.mu.Unlock()
	return m
}

// RegisterMetrics публикует метрики кеша в Prometheus
func (s *TieredStore) RegisterMetrics(reg prometheus.Registerer) error {
	opts := func(name, help string) prometheus.GaugeOpts {
		return prometheus.GaugeOpts{Namespace: "voxel", Subsystem: "cache", Name: name, Help: help}
	}
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(opts("hit_ratio", "Доля попаданий в горячий слой"),
			func() float64 { return s.Metrics().HitRatio }),
		prometheus.NewGaugeFunc(opts("pending_writes", "Чанки в очереди Write-Behind"),
			func() float64 { return float64(s.Metrics().PendingWrites) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "voxel", Subsystem: "cache", Name: "flushed_total",
			Help: "Чанки, записанные Write-Behind в постоянное хранилище",
		}, func() float64 { return float64(s.flushed.Load()) }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// recordLatency записывает latency метрику.
func (s *TieredStore) recordLatency(start time.Time) {
	latency := time.Since(start).Nanoseconds()
	s.latencySum.Add(latency)
	s.latencyCount.Add(1)
	for {
		current := s.maxLatency.Load()
		if latency <= current || s.maxLatency.CompareAndSwap(current, latency) {
			return
		}
	}
}

func copyVoxels(v []byte) []byte {
	if v == nil {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}
