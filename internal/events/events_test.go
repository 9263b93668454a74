package events

import (
	"testing"

	"github.com/annel0/voxel-stream/internal/world"
	"github.com/stretchr/testify/assert"
)

func TestFanoutDeliversToAll(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	var calls int
	sink := Fanout{a, nil, b, SinkFunc(func(Event) { calls++ })}

	id := world.NewChunkID(1, 2, 3)
	sink.Emit(Event{Type: ChunkActivate, ChunkID: id})
	sink.Emit(Event{Type: MeshRemoved, ChunkID: id})

	assert.Equal(t, 1, a.Count(ChunkActivate, id))
	assert.Equal(t, 1, b.Count(MeshRemoved, id))
	assert.Equal(t, 2, calls)
	assert.Len(t, a.Events(), 2)
}

func TestRecorderReset(t *testing.T) {
	r := &Recorder{}
	r.Emit(Event{Type: MeshReady})
	r.Emit(Event{Type: MeshReady})
	assert.Equal(t, 2, r.CountType(MeshReady))

	r.Reset()
	assert.Empty(t, r.Events())
	Discard.Emit(Event{Type: MeshReady})
}
