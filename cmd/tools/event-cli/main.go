package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/annel0/voxel-stream/internal/api"
	"github.com/annel0/voxel-stream/internal/eventbus"
	"github.com/gorilla/websocket"
)

const (
	defaultServerAddr = "localhost:8088"
	timeFormat        = "15:04:05.000"
)

func main() {
	var (
		serverAddr = flag.String("server", defaultServerAddr, "адрес REST API")
		command    = flag.String("cmd", "tail", "Команда: tail, stats")
		eventTypes = flag.String("types", "", "Фильтр типов событий (через запятую)")
		limit      = flag.Int("limit", 0, "Выйти после N событий (0: без ограничения)")
		timeout    = flag.Duration("timeout", 0, "Выйти через указанное время (0: по Ctrl+C)")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	switch *command {
	case "tail":
		if err := tailEvents(ctx, &TailOptions{
			Server:     *serverAddr,
			EventTypes: parseStringList(*eventTypes),
			Limit:      *limit,
		}); err != nil {
			log.Fatalf("❌ Tail failed: %v", err)
		}

	case "stats":
		if err := showStats(ctx, *serverAddr); err != nil {
			log.Fatalf("❌ Stats failed: %v", err)
		}

	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: tail, stats")
		os.Exit(1)
	}
}

type TailOptions struct {
	Server     string
	EventTypes []string
	Limit      int
}

// streamURL адрес /ws/events с фильтром типов
func streamURL(server string, types []string) string {
	u := url.URL{Scheme: "ws", Host: server, Path: "/ws/events"}
	if len(types) > 0 {
		u.RawQuery = url.Values{"types": {strings.Join(types, ",")}}.Encode()
	}
	return u.String()
}

// tailEvents выводит события в реальном времени
func tailEvents(ctx context.Context, opts *TailOptions) error {
	fmt.Printf("🎬 Tailing events (types: %v, limit: %d)\n", opts.EventTypes, opts.Limit)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, streamURL(opts.Server, opts.EventTypes), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	eventCount := 0
	for {
		var msg api.StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				break
			}
			return fmt.Errorf("stream error: %w", err)
		}

		printEvent(&msg)
		eventCount++

		if opts.Limit > 0 && eventCount >= opts.Limit {
			break
		}
	}

	fmt.Printf("\n📊 Total events: %d\n", eventCount)
	return nil
}

// showStats выводит сводку уровня и планировщика
func showStats(ctx context.Context, server string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+server+"/api/stats", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}

	var out api.GenericResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return err
	}
	pretty, err := json.MarshalIndent(out.Data, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println("📊 Runtime statistics")
	fmt.Println(string(pretty))
	return nil
}

// printEvent выводит событие в читаемом формате
func printEvent(msg *api.StreamMessage) {
	fmt.Printf("[%s] %s [%s] %s\n",
		msg.Timestamp.Local().Format(timeFormat),
		msg.Source,
		msg.Type,
		msg.ID)

	var p eventbus.ChunkPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return
	}
	switch msg.Type {
	case "MeshReady":
		if p.Empty {
			fmt.Printf("  Chunk: %s пустой меш\n", p.Chunk)
		} else {
			fmt.Printf("  Chunk: %s вершин: %d треугольников: %d\n", p.Chunk, p.Vertices, p.Triangles)
		}
	default:
		fmt.Printf("  Chunk: %s\n", p.Chunk)
	}
}

// parseStringList парсит строку с разделителями-запятыми
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
