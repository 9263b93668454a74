// Package events описывает исходящие события конвейера разрешения чанков.
// Их потребляют представление и физика; ядро ничего не знает о подписчиках.
package events

import (
	"sync"
	"time"

	"github.com/annel0/voxel-stream/internal/mesh"
	"github.com/annel0/voxel-stream/internal/world"
)

// Type тип исходящего события
type Type string

const (
	MeshReady       Type = "MeshReady"
	MeshRemoved     Type = "MeshRemoved"
	ChunkActivate   Type = "ChunkActivate"
	ChunkDeactivate Type = "ChunkDeactivate"
)

// Event событие о чанке. Mesh заполнен только для MeshReady.
type Event struct {
	Type    Type
	Level   string
	ChunkID world.ChunkID
	Mesh    *mesh.VoxelMeshData
	Time    time.Time
}

// Sink получатель событий. Emit вызывается из роли драйвера и не должен блокировать надолго.
type Sink interface {
	Emit(ev Event)
}

// SinkFunc адаптер функции к Sink
type SinkFunc func(ev Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// Fanout рассылает событие всем получателям по порядку
type Fanout []Sink

func (f Fanout) Emit(ev Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(ev)
		}
	}
}

// Discard отбрасывает все события
var Discard Sink = SinkFunc(func(Event) {})

// Recorder запоминает события; используется в тестах и инструментах
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events возвращает копию записанных событий
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count число событий данного типа для чанка
func (r *Recorder) Count(t Type, id world.ChunkID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t && ev.ChunkID == id {
			n++
		}
	}
	return n
}

// CountType число событий данного типа
func (r *Recorder) CountType(t Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// Reset очищает запись
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
