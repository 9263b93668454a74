// Package streamer собирает уровень, стадии разрешения и планировщик в один
// объект исполнения. Runtime создаётся один раз и передаётся явно; хост
// вызывает Tick со своей частотой или отдаёт управление Run.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/annel0/voxel-stream/internal/aperture"
	"github.com/annel0/voxel-stream/internal/config"
	"github.com/annel0/voxel-stream/internal/events"
	"github.com/annel0/voxel-stream/internal/logging"
	"github.com/annel0/voxel-stream/internal/mesh"
	"github.com/annel0/voxel-stream/internal/scheduler"
	"github.com/annel0/voxel-stream/internal/storage"
	"github.com/annel0/voxel-stream/internal/terrain"
	"github.com/annel0/voxel-stream/internal/vec"
	"github.com/annel0/voxel-stream/internal/world"
	"github.com/annel0/voxel-stream/internal/world/voxel"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrFocusNotFound фокус с таким ID не зарегистрирован
	ErrFocusNotFound = errors.New("focus not found")
	// ErrAlreadyRunning Run уже вызван
	ErrAlreadyRunning = errors.New("runtime is already running")
)

// DefaultTickRate частота такта ведущей роли по умолчанию
const DefaultTickRate = 50 * time.Millisecond

// Options зависимости Runtime. Store обязателен.
type Options struct {
	Store      storage.ChunkStore
	Source     terrain.Source        // nil: по cfg.Level.Generator
	Sink       events.Sink           // получатель событий стадий
	Executor   scheduler.Executor    // nil: пул на cfg.Scheduler.Workers
	Registerer prometheus.Registerer // nil: метрики не регистрируются
}

// Stats сводка для API
type Stats struct {
	Level     world.LevelStats `json:"level"`
	Scheduler scheduler.Stats  `json:"scheduler"`
	Active    int              `json:"active"`
}

// Runtime уровень, три стадии, планировщик и очередь команд ведущей роли
type Runtime struct {
	cfg      *config.Config
	level    *world.Level
	store    storage.ChunkStore
	voxels   *aperture.VoxelData
	meshes   *aperture.MeshGeneration
	active   *aperture.ActiveChunkObject
	sched    *scheduler.Scheduler
	tickRate time.Duration
	log      *logging.Logger

	cmdMu    sync.Mutex
	commands []func(*world.Level)

	// runCancel и runDone принадлежат запущенному Run: Stop отменяет его
	// и дожидается выхода обеих ролей
	runMu     sync.Mutex
	runCancel context.CancelFunc
	runDone   chan struct{}
	stopping  bool

	stopOnce sync.Once
	stopErr  error
}

// New собирает Runtime по конфигурации
func New(cfg *config.Config, opts Options) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("streamer: store is required")
	}
	source := opts.Source
	if source == nil {
		var err error
		if source, err = NewSource(cfg.Level); err != nil {
			return nil, err
		}
	}
	sink := opts.Sink
	if sink == nil {
		sink = events.Discard
	}

	b := cfg.Level.Bounds
	level := world.NewLevel(cfg.Level.Name, cfg.Level.Seed, vec.New(b[0], b[1], b[2]))

	stage := func(name string) aperture.Config {
		for _, a := range cfg.Apertures {
			if a.Stage == name {
				return aperture.Config{
					Radius:       a.Radius,
					HeightRadius: a.HeightRadius,
					YWeight:      a.YWeight,
					TrackExits:   a.ExitsTracked(),
				}
			}
		}
		return aperture.Config{}
	}

	r := &Runtime{
		cfg:      cfg,
		level:    level,
		store:    opts.Store,
		tickRate: cfg.Scheduler.TickRate,
		log:      logging.GetComponentLogger("streamer"),
	}
	if r.tickRate <= 0 {
		r.tickRate = DefaultTickRate
	}
	r.voxels = aperture.NewVoxelData(level, stage(config.StageVoxelData), opts.Store, source, sink)
	r.meshes = aperture.NewMeshGeneration(level, stage(config.StageMesh), sink)
	r.active = aperture.NewActiveChunkObject(level, stage(config.StageActiveChunk), r.meshes, sink)

	exec := opts.Executor
	if exec == nil {
		exec = scheduler.NewPoolExecutor(cfg.Scheduler.Workers)
	}
	sched, err := scheduler.New(level, []aperture.Aperture{r.voxels, r.meshes, r.active}, exec, scheduler.Options{
		IdleInterval: cfg.Scheduler.IdleInterval,
		Metrics:      scheduler.NewMetrics(opts.Registerer),
	})
	if err != nil {
		return nil, err
	}
	r.sched = sched

	// перестроенный меш мог появиться у неактивного чанка или опустеть
	// у активного: стадия присутствия сверяется заново
	r.meshes.OnRemesh(func(id world.ChunkID) {
		if r.active.Contains(id) {
			r.sched.Requeue(aperture.StageActive, aperture.Adjustment{Chunk: id, Direction: aperture.InFocus})
		}
	})

	r.log.Info("🌍 Уровень %q создан: %v чанков, seed %d", level.Name, level.ChunkBounds, level.Seed)
	return r, nil
}

// NewSource источник генерации по настройкам уровня
func NewSource(cfg config.LevelConfig) (terrain.Source, error) {
	switch cfg.Generator {
	case "", "perlin":
		return terrain.NewPerlinSource(terrain.DefaultPerlinConfig()), nil
	case "flat":
		return terrain.Flat{Height: cfg.FlatHeight}, nil
	default:
		return nil, fmt.Errorf("streamer: unknown generator %q", cfg.Generator)
	}
}

// Level уровень Runtime
func (r *Runtime) Level() *world.Level { return r.level }

// Scheduler планировщик Runtime
func (r *Runtime) Scheduler() *scheduler.Scheduler { return r.sched }

// ActiveChunks чанки, объявленные активными
func (r *Runtime) ActiveChunks() []world.ChunkID { return r.active.ActiveChunks() }

// Stats сводка уровня и планировщика
func (r *Runtime) Stats() Stats {
	return Stats{
		Level:     r.level.Stats(),
		Scheduler: r.sched.Stats(),
		Active:    len(r.active.ActiveChunks()),
	}
}

// Do ставит изменение уровня в очередь ведущей роли. Команды выполняются
// в начале следующего Tick в порядке постановки.
func (r *Runtime) Do(fn func(*world.Level)) {
	r.cmdMu.Lock()
	r.commands = append(r.commands, fn)
	r.cmdMu.Unlock()
}

func (r *Runtime) runCommands() {
	r.cmdMu.Lock()
	cmds := r.commands
	r.commands = nil
	r.cmdMu.Unlock()

	for _, fn := range cmds {
		fn(r.level)
	}
}

// AddFocus регистрирует фокус в мировой позиции
func (r *Runtime) AddFocus(pos vec.Vec3) (int, *world.TrackedFocus) {
	f := world.NewTrackedFocus(pos)
	id := r.sched.AddFocus(f)
	r.log.Info("🎯 Фокус %d добавлен в %v (чанк %s)", id, pos, f.CurrentChunk())
	return id, f
}

// MoveFocus перемещает фокус в мировую позицию
func (r *Runtime) MoveFocus(id int, pos vec.Vec3) error {
	f, ok := r.level.Focus(id)
	if !ok {
		return fmt.Errorf("move focus %d: %w", id, ErrFocusNotFound)
	}
	tf, ok := f.(*world.TrackedFocus)
	if !ok {
		return fmt.Errorf("move focus %d: focus %T is not movable", id, f)
	}
	tf.SetPosition(pos)
	return nil
}

// RemoveFocus снимает фокус
func (r *Runtime) RemoveFocus(id int) error {
	if !r.sched.RemoveFocus(id) {
		return fmt.Errorf("remove focus %d: %w", id, ErrFocusNotFound)
	}
	r.log.Info("👋 Фокус %d снят", id)
	return nil
}

// SetVoxel пишет воксель через ведущую роль и перестраивает меши чанка
// и тех соседей позади, чей блок марширования читает этот воксель
func (r *Runtime) SetVoxel(pos vec.Vec3, value voxel.ID) {
	r.Do(func(l *world.Level) {
		if err := l.SetVoxel(pos, value); err != nil {
			return
		}
		for _, id := range affectedChunks(pos) {
			if !l.WithinBounds(id) || !r.meshes.Contains(id) {
				continue
			}
			r.meshes.MarkDirty(id)
			r.sched.Requeue(aperture.StageMesh, aperture.Adjustment{Chunk: id, Direction: aperture.InFocus})
		}
	})
}

// affectedChunks чанк вокселя и соседи позади него, для которых чанк
// вокселя передний сосед, а воксель лежит на общей границе
func affectedChunks(pos vec.Vec3) []world.ChunkID {
	id := world.ChunkIDFromWorld(pos)
	local := world.LocalInChunk(pos)

	out := []world.ChunkID{id}
	for _, off := range mesh.ForwardNeighborOffsets {
		if (off.X == 1 && local.X != 0) || (off.Y == 1 && local.Y != 0) || (off.Z == 1 && local.Z != 0) {
			continue
		}
		out = append(out, id.Offset(vec.Zero.Sub(off)))
	}
	return out
}

// Tick один такт ведущей роли: команды, отправка принятых задач и
// применение завершённых
func (r *Runtime) Tick(ctx context.Context) int {
	if r.sched.Stopped() {
		return 0
	}
	r.runCommands()
	return r.sched.Tick(ctx)
}

// Settle прогоняет обе роли в текущей горутине до затухания работы
func (r *Runtime) Settle(ctx context.Context) error {
	r.runCommands()
	return r.sched.Settle(ctx)
}

// Run запускает планирующую роль и такты ведущей роли до отмены контекста
// или Stop. Запускается один раз.
func (r *Runtime) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r.runMu.Lock()
	if r.stopping {
		r.runMu.Unlock()
		cancel()
		return scheduler.ErrStopped
	}
	if r.runDone != nil {
		r.runMu.Unlock()
		cancel()
		return ErrAlreadyRunning
	}
	r.runCancel, r.runDone = cancel, done
	r.runMu.Unlock()

	defer func() {
		cancel()
		close(done)
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.sched.Run(gctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(r.tickRate)
		defer ticker.Stop()
		r.log.Info("⏱️ Такт ведущей роли: %v", r.tickRate)
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				r.Tick(gctx)
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop останавливает Run и дожидается его выхода, затем дожидается задач
// в пуле и сохраняет все загруженные чанки. Повторные вызовы возвращают
// результат первого.
func (r *Runtime) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() {
		r.runMu.Lock()
		r.stopping = true
		cancel, done := r.runCancel, r.runDone
		r.runMu.Unlock()
		if cancel != nil {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
				r.log.Warn("⚠️ Run не завершился до истечения контекста остановки")
			}
		}

		r.sched.Stop()
		r.runCommands()
		r.stopErr = r.SaveAll(ctx)
	})
	return r.stopErr
}

// SaveAll сохраняет все загруженные чанки уровня
func (r *Runtime) SaveAll(ctx context.Context) error {
	var errs []error
	saved := 0
	for _, c := range r.level.Chunks() {
		if !c.IsLoaded() {
			continue
		}
		voxels, solid := c.Voxels()
		if err := r.store.Save(ctx, c.ID, r.level.Name, voxels, solid); err != nil {
			errs = append(errs, fmt.Errorf("save %s: %w", c.ID, err))
			continue
		}
		saved++
	}
	r.log.Info("💾 Сохранено чанков: %d", saved)
	if len(errs) > 0 {
		r.log.Error("❌ Не удалось сохранить %d чанков", len(errs))
	}
	return errors.Join(errs...)
}
