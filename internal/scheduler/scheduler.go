// Package scheduler ведёт единую очередь изменений областей всех стадий,
// принимает готовую работу и отправляет её в пул воркеров.
//
// Две роли: планирующая (Run/Step) крутит очередь и только читает состояние
// чанков; ведущая (Tick) отправляет принятые задачи и применяет завершённые
// через OnJobComplete. Ведущая роль единственная меняет уровень.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/voxel-stream/internal/aperture"
	"github.com/annel0/voxel-stream/internal/logging"
	"github.com/annel0/voxel-stream/internal/world"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrStopped планировщик уже остановлен
var ErrStopped = errors.New("scheduler stopped")

// DefaultIdleInterval пауза планировщика, когда в очереди нет продвижения
const DefaultIdleInterval = 5 * time.Millisecond

// Options необязательные параметры планировщика
type Options struct {
	IdleInterval time.Duration
	Metrics      *Metrics
	Tracer       trace.Tracer
}

// Stats снимок состояния планировщика
type Stats struct {
	Queued     int `json:"queued"`
	InFlight   int `json:"in_flight"`
	Accepted   int `json:"accepted"`
	Dispatched int `json:"dispatched"`
	Foci       int `json:"foci"`
}

type accepted struct {
	stage aperture.Stage
	adj   aperture.Adjustment
}

type dispatch struct {
	stage  aperture.Stage
	adj    aperture.Adjustment
	handle Handle
}

// Scheduler очередь с приоритетом и множества принятых, отправленных и
// выполняемых задач
type Scheduler struct {
	level     *world.Level
	apertures []aperture.Aperture
	exec      Executor
	metrics   *Metrics
	tracer    trace.Tracer
	idle      time.Duration
	log       *logging.Logger

	queue workQueue

	// focusMu сериализует синхронизацию фокусов с их добавлением и снятием
	focusMu sync.Mutex
	foci    map[int]struct{}

	// driverMu держит ведущую роль в одной горутине: Tick и Stop не
	// пересекаются
	driverMu sync.Mutex
	stopped  atomic.Bool

	mu         sync.Mutex
	inFlight   map[world.ChunkID]struct{}
	accepted   []accepted
	dispatched []dispatch
}

// New создаёт планировщик. Стадии передаются в порядке приоритета:
// индекс в срезе совпадает со Stage.
func New(level *world.Level, apertures []aperture.Aperture, exec Executor, opts Options) (*Scheduler, error) {
	if len(apertures) == 0 {
		return nil, fmt.Errorf("scheduler: no apertures")
	}
	for i, ap := range apertures {
		if int(ap.Stage()) != i {
			return nil, fmt.Errorf("scheduler: aperture %s at position %d, want %d", ap.Stage(), i, int(ap.Stage()))
		}
	}
	if exec == nil {
		exec = InlineExecutor{}
	}
	if opts.IdleInterval <= 0 {
		opts.IdleInterval = DefaultIdleInterval
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/annel0/voxel-stream/internal/scheduler")
	}

	return &Scheduler{
		level:     level,
		apertures: apertures,
		exec:      exec,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		idle:      opts.IdleInterval,
		log:       logging.GetSchedulerLogger(),
		foci:      make(map[int]struct{}),
		inFlight:  make(map[world.ChunkID]struct{}),
	}, nil
}

// Aperture стадия по её приоритету
func (s *Scheduler) Aperture(stage aperture.Stage) aperture.Aperture {
	return s.apertures[stage]
}

// AddFocus регистрирует фокус в уровне. Области стадий строятся на
// следующем шаге планировщика.
func (s *Scheduler) AddFocus(f world.Focus) int {
	s.focusMu.Lock()
	defer s.focusMu.Unlock()
	return s.level.AddFocus(f)
}

// RemoveFocus снимает фокус с уровня. Стадии, следящие за выходом,
// выгрузят его область на следующем шаге.
func (s *Scheduler) RemoveFocus(id int) bool {
	s.focusMu.Lock()
	defer s.focusMu.Unlock()
	return s.level.RemoveFocus(id)
}

// Requeue ставит изменение стадии в очередь с текущим приоритетом
func (s *Scheduler) Requeue(stage aperture.Stage, adj aperture.Adjustment) {
	s.enqueue(stage, adj)
}

func (s *Scheduler) enqueue(stage aperture.Stage, adj aperture.Adjustment) {
	ap := s.apertures[stage]
	p := WorkPriority{
		Stage:     stage,
		Distance:  NearestFocusDistance(s.level, adj.Chunk, ap.YWeight()),
		Direction: adj.Direction,
	}
	s.queue.push(p, adj)
}

func (s *Scheduler) enqueueAll(stage aperture.Stage, adjs []aperture.Adjustment) int {
	for _, adj := range adjs {
		s.enqueue(stage, adj)
	}
	return len(adjs)
}

// syncFoci ставит в очередь области новых и сдвинувшихся фокусов и
// выгружает области снятых. Возвращает количество новых изменений.
func (s *Scheduler) syncFoci() int {
	s.focusMu.Lock()
	defer s.focusMu.Unlock()

	n := 0
	live := make(map[int]struct{})
	for _, id := range s.level.FocusIDs() {
		f, ok := s.level.Focus(id)
		if !ok {
			continue
		}
		live[id] = struct{}{}
		cur := f.CurrentChunk()

		if _, known := s.foci[id]; !known {
			for _, ap := range s.apertures {
				n += s.enqueueAll(ap.Stage(), ap.RegionDeltasForFocusInit(id))
			}
			s.foci[id] = struct{}{}
			f.Acknowledge(cur)
			s.log.Debug("🎯 Фокус %d зарегистрирован в %s", id, cur)
			continue
		}

		if cur == f.PreviousChunk() {
			continue
		}
		for _, ap := range s.apertures {
			n += s.enqueueAll(ap.Stage(), ap.RegionDeltasForFocusMove(id))
		}
		f.Acknowledge(cur)
		s.log.Trace("🧭 Фокус %d переместился в %s", id, cur)
	}

	for id := range s.foci {
		if _, ok := live[id]; ok {
			continue
		}
		for _, ap := range s.apertures {
			n += s.enqueueAll(ap.Stage(), ap.ReleaseFocus(id))
		}
		delete(s.foci, id)
		s.log.Debug("👋 Фокус %d снят", id)
	}
	return n
}

type outcome int

const (
	outcomeAccepted outcome = iota
	outcomeDropped
	outcomeRetry
)

func (s *Scheduler) process(it item) outcome {
	stage := it.priority.Stage
	ap := s.apertures[stage]
	id := it.adj.Chunk

	if !ap.IsValidAdjustment(it.adj) {
		s.metrics.dropped.WithLabelValues(stage.String()).Inc()
		return outcomeDropped
	}
	if !ap.IsReady(id) {
		return outcomeRetry
	}

	s.mu.Lock()
	if _, busy := s.inFlight[id]; busy {
		s.mu.Unlock()
		return outcomeRetry
	}
	s.inFlight[id] = struct{}{}
	s.mu.Unlock()

	ap.PrepareJobData(id, it.adj.Direction)

	s.mu.Lock()
	s.accepted = append(s.accepted, accepted{stage: stage, adj: it.adj})
	s.mu.Unlock()
	return outcomeAccepted
}

// Step один проход планирующей роли: синхронизация фокусов и разбор
// очереди. Каждый элемент за проход извлекается не больше одного раза;
// неготовые возвращаются в очередь с новым приоритетом после прохода.
// Возвращает true, если что-то продвинулось.
func (s *Scheduler) Step() bool {
	if s.stopped.Load() {
		return false
	}
	progressed := s.syncFoci() > 0

	var retry []item
	for n := s.queue.len(); n > 0; n-- {
		it, ok := s.queue.pop()
		if !ok {
			break
		}
		switch s.process(it) {
		case outcomeAccepted, outcomeDropped:
			progressed = true
		case outcomeRetry:
			retry = append(retry, it)
		}
	}
	for _, it := range retry {
		s.metrics.requeued.WithLabelValues(it.priority.Stage.String()).Inc()
		s.enqueue(it.priority.Stage, it.adj)
	}

	s.updateGauges()
	return progressed
}

// Run крутит планирующую роль до отмены контекста
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("🚀 Планировщик запущен: %d стадий, пауза %v", len(s.apertures), s.idle)

	timer := time.NewTimer(s.idle)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("🛑 Планировщик остановлен")
			return ctx.Err()
		default:
		}

		if s.Step() {
			continue
		}

		timer.Reset(s.idle)
		select {
		case <-ctx.Done():
			s.log.Info("🛑 Планировщик остановлен")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Tick один такт ведущей роли: принятые задачи отправляются в пул,
// завершённые применяются через OnJobComplete. Незавершённые задачи не
// ждутся. После Stop ничего не делает. Возвращает количество применённых
// результатов.
func (s *Scheduler) Tick(ctx context.Context) int {
	s.driverMu.Lock()
	defer s.driverMu.Unlock()
	if s.stopped.Load() {
		return 0
	}

	s.dispatchAccepted(ctx)
	n := s.drainCompleted()
	s.updateGauges()
	return n
}

func (s *Scheduler) dispatchAccepted(ctx context.Context) {
	s.mu.Lock()
	batch := s.accepted
	s.accepted = nil
	s.mu.Unlock()

	for _, a := range batch {
		job := s.apertures[a.stage].JobFor(a.adj.Chunk, a.adj.Direction)
		handle := s.exec.Submit(func() aperture.Result {
			return s.runJob(ctx, job)
		})
		s.metrics.jobsStarted.WithLabelValues(a.stage.String(), a.adj.Direction.String()).Inc()

		s.mu.Lock()
		s.dispatched = append(s.dispatched, dispatch{stage: a.stage, adj: a.adj, handle: handle})
		s.mu.Unlock()
	}
}

func (s *Scheduler) runJob(ctx context.Context, job aperture.Job) aperture.Result {
	stage := job.Stage().String()
	ctx, span := s.tracer.Start(ctx, "aperture."+stage+"."+job.Direction().String(),
		trace.WithAttributes(attribute.String("chunk", job.Chunk().String())))
	defer span.End()

	start := time.Now()
	res := job.Run(ctx)
	s.metrics.jobDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())

	if err := res.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res
}

func (s *Scheduler) drainCompleted() int {
	s.mu.Lock()
	var done []dispatch
	pending := s.dispatched[:0]
	for _, d := range s.dispatched {
		if d.handle.Done() {
			done = append(done, d)
		} else {
			pending = append(pending, d)
		}
	}
	s.dispatched = pending
	s.mu.Unlock()

	for _, d := range done {
		res, err := d.handle.Result()
		if err != nil {
			panic(fmt.Errorf("scheduler: %s job for %s: %w", d.stage, d.adj, err))
		}
		s.apertures[d.stage].OnJobComplete(res)

		status := "ok"
		if res.Err() != nil {
			status = "error"
		}
		s.metrics.jobsCompleted.WithLabelValues(d.stage.String(), d.adj.Direction.String(), status).Inc()

		// чанк освобождается только после применения результата
		s.mu.Lock()
		delete(s.inFlight, d.adj.Chunk)
		s.mu.Unlock()
	}
	return len(done)
}

// Settle крутит обе роли в текущей горутине, пока работа не иссякнет:
// проход не дал продвижения и выполняемых задач нет. Элементы, которые
// так и не стали готовы, остаются в очереди.
func (s *Scheduler) Settle(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.stopped.Load() {
			return ErrStopped
		}
		progressed := s.Step()
		completed := s.Tick(ctx)
		if progressed || completed > 0 {
			continue
		}
		if s.Stats().InFlight == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

// Stats снимок очереди и множеств
func (s *Scheduler) Stats() Stats {
	s.focusMu.Lock()
	foci := len(s.foci)
	s.focusMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Queued:     s.queue.len(),
		InFlight:   len(s.inFlight),
		Accepted:   len(s.accepted),
		Dispatched: len(s.dispatched),
		Foci:       foci,
	}
}

func (s *Scheduler) updateGauges() {
	st := s.Stats()
	s.metrics.queueDepth.Set(float64(st.Queued))
	s.metrics.inFlight.Set(float64(st.InFlight))
	s.metrics.accepted.Set(float64(st.Accepted))
	s.metrics.workersRunning.Set(float64(s.exec.Running()))
}

// Stop останавливает пул, дождавшись отправленных задач, и применяет их
// результаты. Принятые, но не отправленные задачи отбрасываются.
// Повторный вызов ничего не делает.
func (s *Scheduler) Stop() {
	s.driverMu.Lock()
	defer s.driverMu.Unlock()
	if s.stopped.Load() {
		return
	}
	s.stopped.Store(true)

	s.exec.Stop()
	s.drainCompleted()

	s.mu.Lock()
	if n := len(s.accepted); n > 0 {
		s.log.Warn("⚠️ %d принятых задач не отправлено до остановки", n)
	}
	s.accepted = nil
	s.mu.Unlock()
	s.updateGauges()
}

// Stopped остановлен ли планировщик
func (s *Scheduler) Stopped() bool {
	return s.stopped.Load()
}
