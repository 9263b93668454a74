package aperture

import (
	"fmt"
	"time"

	"github.com/annel0/voxel-stream/internal/events"
	"github.com/annel0/voxel-stream/internal/logging"
	"github.com/annel0/voxel-stream/internal/world"
)

// base общая часть всех стадий: область по фокусам, уровень, получатель событий
type base struct {
	stage  Stage
	cfg    Config
	level  *world.Level
	region *region
	sink   events.Sink
	log    *logging.Logger
}

func newBase(stage Stage, level *world.Level, cfg Config, sink events.Sink) base {
	if sink == nil {
		sink = events.Discard
	}
	return base{
		stage:  stage,
		cfg:    cfg,
		level:  level,
		region: newRegion(cfg.Radius, cfg.heightRadius(), level.ChunkBounds),
		sink:   sink,
		log:    logging.GetApertureLogger(),
	}
}

func (b *base) Stage() Stage { return b.stage }

func (b *base) YWeight() float64 { return b.cfg.yWeight() }

// Config параметры стадии
func (b *base) Config() Config { return b.cfg }

func (b *base) focus(focusID int) world.Focus {
	f, ok := b.level.Focus(focusID)
	if !ok {
		panic(fmt.Errorf("%s: focus %d: %w", b.stage, focusID, ErrUnknownFocus))
	}
	return f
}

func (b *base) RegionDeltasForFocusInit(focusID int) []Adjustment {
	f := b.focus(focusID)
	return b.region.init(focusID, f.CurrentChunk())
}

func (b *base) RegionDeltasForFocusMove(focusID int) []Adjustment {
	f := b.focus(focusID)
	return b.region.move(focusID, f.CurrentChunk(), b.cfg.TrackExits)
}

// ReleaseFocus забывает область снятого с уровня фокуса. Фокус к этому
// моменту уже может отсутствовать в уровне.
func (b *base) ReleaseFocus(focusID int) []Adjustment {
	return b.region.release(focusID, b.cfg.TrackExits)
}

// Tracks есть ли у стадии область для фокуса
func (b *base) Tracks(focusID int) bool {
	return b.region.tracks(focusID)
}

func (b *base) Contains(id world.ChunkID) bool {
	return b.region.contains(id)
}

// isValid общая проверка направления против текущих областей. enter
// проверяет вход в стадию, exit: что стадии есть что снимать.
func (b *base) isValid(adj Adjustment, enter func(world.ChunkID) (bool, *world.Chunk), exit func(world.ChunkID) bool) bool {
	inside := b.region.contains(adj.Chunk)
	switch adj.Direction {
	case InFocus:
		if !inside {
			return false
		}
		ok, _ := enter(adj.Chunk)
		return ok
	case OutOfFocus:
		if inside {
			return false
		}
		return exit(adj.Chunk)
	}
	return false
}

func (b *base) emit(t events.Type, id world.ChunkID, ev events.Event) {
	ev.Type = t
	ev.ChunkID = id
	ev.Level = b.level.Name
	ev.Time = time.Now()
	b.sink.Emit(ev)
}

func (b *base) header(id world.ChunkID, dir Direction) jobHeader {
	return jobHeader{id: id, dir: dir}
}
