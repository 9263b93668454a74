package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/annel0/voxel-stream/internal/events"
	"github.com/annel0/voxel-stream/internal/logging"
	"github.com/annel0/voxel-stream/internal/world"
)

// ChunkPayload полезная нагрузка события о чанке. Геометрия меша в шину не
// попадает, только её размер.
type ChunkPayload struct {
	Level     string        `json:"level"`
	Chunk     world.ChunkID `json:"chunk"`
	Vertices  int           `json:"vertices,omitempty"`
	Triangles int           `json:"triangles,omitempty"`
	Empty     bool          `json:"empty,omitempty"`
}

// Priority событий: меши можно потерять при перегрузке, активацию нет
func priorityFor(t events.Type) int {
	switch t {
	case events.ChunkActivate, events.ChunkDeactivate:
		return 7
	default:
		return 3
	}
}

// Publisher превращает события конвейера в конверты шины
type Publisher struct {
	bus     EventBus
	timeout time.Duration
	log     *logging.Logger
}

// NewPublisher создаёт events.Sink поверх шины
func NewPublisher(bus EventBus) *Publisher {
	return &Publisher{bus: bus, timeout: time.Second, log: logging.GetComponentLogger("eventbus")}
}

// Emit сериализует событие и публикует его. Ошибки шины только логируются.
func (p *Publisher) Emit(ev events.Event) {
	payload := ChunkPayload{Level: ev.Level, Chunk: ev.ChunkID}
	if ev.Mesh != nil {
		payload.Vertices = len(ev.Mesh.Vertices)
		payload.Triangles = ev.Mesh.TriangleCount()
		payload.Empty = ev.Mesh.IsEmpty
	}
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("❌ Ошибка сериализации события %s: %v", ev.Type, err)
		return
	}

	env := NewEnvelope(string(ev.Type), ev.Level, priorityFor(ev.Type), data)
	if !ev.Time.IsZero() {
		env.Timestamp = ev.Time.UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.bus.Publish(ctx, env); err != nil {
		p.log.Warn("⚠️ Событие %s для чанка %s не опубликовано: %v", ev.Type, ev.ChunkID, err)
	}
}

// DecodeChunkPayload разбирает полезную нагрузку конверта
func DecodeChunkPayload(env *Envelope) (ChunkPayload, error) {
	var p ChunkPayload
	err := json.Unmarshal(env.Payload, &p)
	return p, err
}
