package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/voxel-stream/internal/api"
	"github.com/annel0/voxel-stream/internal/auth"
	"github.com/annel0/voxel-stream/internal/cache"
	"github.com/annel0/voxel-stream/internal/config"
	"github.com/annel0/voxel-stream/internal/eventbus"
	"github.com/annel0/voxel-stream/internal/events"
	"github.com/annel0/voxel-stream/internal/logging"
	"github.com/annel0/voxel-stream/internal/observability"
	"github.com/annel0/voxel-stream/internal/storage"
	"github.com/annel0/voxel-stream/internal/streamer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (или VOXEL_CONFIG)")
	issueFor := flag.String("token", "", "выпустить токен для оператора и выйти")
	hashPassword := flag.String("hash-password", "", "напечатать bcrypt хеш пароля и выйти")
	flag.Parse()

	if *hashPassword != "" {
		hash, err := auth.HashPassword(*hashPassword)
		if err != nil {
			log.Fatalf("❌ Ошибка хеширования: %v", err)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	logging.Configure(logging.Options{
		Dir:          cfg.Logging.Dir,
		ConsoleLevel: logging.ParseLevel(cfg.Logging.Level),
		FileLevel:    logging.ParseLevel(cfg.Logging.FileLevel),
	})
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	issuer, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		log.Fatalf("❌ Ошибка настройки JWT: %v", err)
	}

	operators := auth.NewOperatorStore()
	for _, op := range cfg.Auth.Operators {
		if _, err := operators.Add(op.Name, op.PasswordHash, op.ReadOnly); err != nil {
			log.Fatalf("❌ Оператор %q: %v", op.Name, err)
		}
	}

	if *issueFor != "" {
		readOnly := false
		if op, err := operators.Get(*issueFor); err == nil {
			readOnly = op.ReadOnly
		}
		if cfg.Auth.JWTSecret == "" {
			logging.Warn("⚠️ auth.jwt_secret пуст: токен будет недействителен после перезапуска")
		}
		token, err := issuer.Issue(*issueFor, readOnly)
		if err != nil {
			log.Fatalf("❌ Ошибка выпуска токена: %v", err)
		}
		fmt.Println(token)
		return
	}

	if err := run(cfg, issuer, operators); err != nil {
		logging.Error("❌ %v", err)
		os.Exit(1)
	}
	logging.Info("👋 Сервер успешно остановлен")
}

func run(cfg *config.Config, issuer *auth.Issuer, operators *auth.OperatorStore) error {
	logging.Info("🧊 Запуск voxel-stream: уровень %q, границы %v", cfg.Level.Name, cfg.Level.Bounds)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === ТЕЛЕМЕТРИЯ ===
	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("телеметрия: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logging.Warn("⚠️ Ошибка остановки телеметрии: %v", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// === ХРАНИЛИЩЕ ===
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("хранилище: %w", err)
	}
	if cc := cfg.Storage.Cache; cc.Enabled {
		tier, err := cache.NewRedisTier(ctx, cache.RedisConfig{
			Addr:     cc.Redis.Addr,
			Password: cc.Redis.Password,
			DB:       cc.Redis.DB,
		})
		if err != nil {
			store.Close()
			return fmt.Errorf("горячий слой: %w", err)
		}
		tiered := cache.NewTieredStore(tier, store, cache.Options{
			TTL:                 cc.TTL,
			WriteBehind:         cc.WriteBehind,
			WriteBehindInterval: cc.WriteBehindInterval,
			WriteBehindBatch:    cc.WriteBehindBatch,
		})
		if err := tiered.RegisterMetrics(registry); err != nil {
			logging.Warn("⚠️ Метрики кеша не зарегистрированы: %v", err)
		}
		store = tiered
	}
	defer store.Close()

	// === ШИНА СОБЫТИЙ ===
	var bus eventbus.EventBus
	if cfg.EventBus.URL != "" {
		js, err := eventbus.NewJetStreamBus(cfg.EventBus.URL, cfg.EventBus.Stream,
			time.Duration(cfg.EventBus.Retention)*time.Hour)
		if err != nil {
			return fmt.Errorf("шина событий: %w", err)
		}
		bus = js
	} else {
		bus = eventbus.NewMemoryBus(1024)
	}
	defer bus.Close()

	if _, err := eventbus.StartLoggingListener(ctx, bus); err != nil {
		logging.Warn("⚠️ LoggingListener не запущен: %v", err)
	}
	busMetrics := eventbus.NewMetricsExporter(bus, registry)
	busMetrics.Start()
	defer busMetrics.Stop()

	// === КОНВЕЙЕР ===
	rt, err := streamer.New(cfg, streamer.Options{
		Store:      store,
		Sink:       events.Fanout{eventbus.NewPublisher(bus)},
		Registerer: registry,
	})
	if err != nil {
		return fmt.Errorf("runtime: %w", err)
	}

	// === HTTP ===
	restPort := fmt.Sprintf(":%d", cfg.Server.GetRESTPort())
	rest := api.NewRestServer(api.Config{
		Port:      restPort,
		Runtime:   rt,
		Bus:       bus,
		Issuer:    issuer,
		Operators: operators,
		Registry:  registry,
	})
	if operators.Len() == 0 {
		logging.Warn("⚠️ Операторы не настроены: изменения через API недоступны")
	}

	metricsAddr := fmt.Sprintf(":%d", cfg.Server.GetMetricsPort())
	metricsServer := &http.Server{
		Addr:              metricsAddr,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 3)
	go func() { errCh <- rest.Start() }()
	go func() {
		logging.Info("📈 Prometheus метрики: http://localhost%s/metrics", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	go func() { errCh <- rt.Run(ctx) }()

	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🌐 REST API: http://localhost%s", restPort)
	logging.Info("   ❤️  Health check: http://localhost%s/health", restPort)

	var runErr error
	select {
	case <-ctx.Done():
		logging.Info("📡 Получен сигнал, завершение работы...")
	case runErr = <-errCh:
		if runErr != nil {
			logging.Error("❌ Сервис остановился с ошибкой: %v", runErr)
		}
	}
	stop()

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := rest.Shutdown(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки сервера метрик: %v", err)
	}
	if err := rt.Stop(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("сохранение чанков: %w", err))
	}
	return runErr
}
