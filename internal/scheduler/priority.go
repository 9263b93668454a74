package scheduler

import (
	"container/heap"
	"math"
	"sync"

	"github.com/annel0/voxel-stream/internal/aperture"
	"github.com/annel0/voxel-stream/internal/world"
)

// StageWeight вес стадии в приоритете. Запас между стадиями не даёт
// внутренней стадии вытеснить внешнюю.
const StageWeight = 3

// WorkPriority приоритет элемента очереди: меньшее значение выходит раньше
type WorkPriority struct {
	Stage     aperture.Stage
	Distance  int
	Direction aperture.Direction
}

// Value расстояние до фокуса плюс взвешенная стадия
func (p WorkPriority) Value() int {
	return p.Distance + int(p.Stage)*StageWeight
}

// Less сравнивает приоритеты. Если хотя бы одна сторона OutOfFocus,
// сравнение обращено: выгрузка идёт от дальних чанков к ближним.
func (p WorkPriority) Less(other WorkPriority) bool {
	if p.Direction == aperture.OutOfFocus || other.Direction == aperture.OutOfFocus {
		return p.Value() > other.Value()
	}
	return p.Value() < other.Value()
}

// NearestFocusDistance округлённое расстояние от чанка до ближайшего фокуса
// уровня с весом Y. Без фокусов расстояние 0.
func NearestFocusDistance(level *world.Level, id world.ChunkID, yWeight float64) int {
	best := math.Inf(1)
	level.ForEachFocus(func(_ int, f world.Focus) {
		d := id.Coordinate().DistanceYFlattened(f.CurrentChunk().Coordinate(), yWeight)
		if d < best {
			best = d
		}
	})
	if math.IsInf(best, 1) {
		return 0
	}
	return int(math.Round(best))
}

// item элемент очереди
type item struct {
	priority WorkPriority
	adj      aperture.Adjustment
	seq      uint64
}

// itemHeap реализация heap.Interface. При равных приоритетах раньше
// выходит элемент, поставленный раньше.
type itemHeap []item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	a, b := h[i].priority, h[j].priority
	if a.Less(b) {
		return true
	}
	if b.Less(a) {
		return false
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// workQueue потокобезопасная очередь с приоритетом
type workQueue struct {
	mu   sync.Mutex
	h    itemHeap
	next uint64
}

func (q *workQueue) push(p WorkPriority, adj aperture.Adjustment) {
	q.mu.Lock()
	q.next++
	heap.Push(&q.h, item{priority: p, adj: adj, seq: q.next})
	q.mu.Unlock()
}

func (q *workQueue) pop() (item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return item{}, false
	}
	return heap.Pop(&q.h).(item), true
}

func (q *workQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}
