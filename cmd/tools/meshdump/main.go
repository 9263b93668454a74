// meshdump разрешает чанки вокруг одной точки без сервера и сохраняет
// полученные меши в бинарный glTF.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/annel0/voxel-stream/internal/config"
	"github.com/annel0/voxel-stream/internal/events"
	"github.com/annel0/voxel-stream/internal/mesh"
	"github.com/annel0/voxel-stream/internal/scheduler"
	"github.com/annel0/voxel-stream/internal/storage"
	"github.com/annel0/voxel-stream/internal/streamer"
	"github.com/annel0/voxel-stream/internal/vec"
	"github.com/annel0/voxel-stream/internal/world"
)

// collector запоминает последний меш каждого чанка
type collector struct {
	mu     sync.Mutex
	meshes map[world.ChunkID]*mesh.VoxelMeshData
}

func (c *collector) Emit(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev.Type {
	case events.MeshReady:
		c.meshes[ev.ChunkID] = ev.Mesh
	case events.MeshRemoved:
		delete(c.meshes, ev.ChunkID)
	}
}

// sorted меши в порядке координат, чтобы файл был воспроизводимым
func (c *collector) sorted() []*mesh.VoxelMeshData {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]world.ChunkID, 0, len(c.meshes))
	for id := range c.meshes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
	out := make([]*mesh.VoxelMeshData, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.meshes[id])
	}
	return out
}

func main() {
	var (
		configPath = flag.String("config", "", "путь к YAML конфигурации")
		x          = flag.Int("x", 0, "мировая X позиция фокуса")
		y          = flag.Int("y", 0, "мировая Y позиция фокуса")
		z          = flag.Int("z", 0, "мировая Z позиция фокуса")
		out        = flag.String("out", "level.glb", "файл результата")
		persist    = flag.Bool("persist", false, "использовать хранилище из конфигурации вместо памяти")
		timeout    = flag.Duration("timeout", 5*time.Minute, "ограничение времени разрешения")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var store storage.ChunkStore = storage.NewMemoryStore()
	if *persist {
		if store, err = storage.Open(ctx, cfg.Storage); err != nil {
			log.Fatalf("❌ Ошибка открытия хранилища: %v", err)
		}
	}
	defer store.Close()

	sink := &collector{meshes: make(map[world.ChunkID]*mesh.VoxelMeshData)}
	rt, err := streamer.New(cfg, streamer.Options{
		Store:    store,
		Sink:     sink,
		Executor: scheduler.NewPoolExecutor(cfg.Scheduler.Workers),
	})
	if err != nil {
		log.Fatalf("❌ Ошибка создания runtime: %v", err)
	}

	pos := vec.New(*x, *y, *z)
	rt.AddFocus(pos)

	start := time.Now()
	if err := rt.Settle(ctx); err != nil {
		log.Fatalf("❌ Разрешение не завершено: %v", err)
	}
	stats := rt.Stats()
	fmt.Printf("🧊 Фокус %v: загружено %d чанков, мешей %d (пустых %d) за %v\n",
		pos, stats.Level.Loaded, stats.Level.Meshed, stats.Level.EmptyMeshes, time.Since(start).Round(time.Millisecond))

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("❌ Ошибка создания %s: %v", *out, err)
	}
	defer f.Close()

	meshes := sink.sorted()
	if err := mesh.WriteGLB(f, meshes...); err != nil {
		log.Fatalf("❌ Ошибка записи glTF: %v", err)
	}
	fmt.Printf("💾 %d мешей записано в %s\n", len(meshes), *out)

	if err := rt.Stop(ctx); err != nil {
		log.Printf("⚠️ Остановка: %v", err)
	}
}
