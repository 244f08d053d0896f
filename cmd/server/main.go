package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/voxel-lod/internal/api"
	"github.com/annel0/voxel-lod/internal/config"
	"github.com/annel0/voxel-lod/internal/eventbus"
	"github.com/annel0/voxel-lod/internal/generator"
	"github.com/annel0/voxel-lod/internal/logging"
	"github.com/annel0/voxel-lod/internal/mesher"
	"github.com/annel0/voxel-lod/internal/observability"
	"github.com/annel0/voxel-lod/internal/stream"
	"github.com/annel0/voxel-lod/internal/tasks"
	"github.com/annel0/voxel-lod/internal/terrain"
	"github.com/annel0/voxel-lod/internal/vec"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию VOXEL_CONFIG)")
	orbit := flag.Float64("orbit", 96, "радиус облёта демо-наблюдателя в вокселях, 0 - стоять на месте")
	logLevel := flag.String("log-level", "info", "уровень консольного лога: trace|debug|info|warn|error")
	flag.Parse()

	logging.SetLogsDir("logs")
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	logging.GetLoggerManager().SetConsoleLevel(logging.ParseLevel(*logLevel))
	defer logging.GetLoggerManager().CloseAll()

	if err := run(*configPath, *orbit); err != nil {
		logging.Error("❌ %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
}

func run(configPath string, orbit float64) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("конфигурация: %w", err)
	}
	logging.Info("🧊 Запуск voxel-lod: %d LOD, блок %d, хранилище %q",
		cfg.Terrain.LodCount, 1<<cfg.Terrain.BlockSizePo2, cfg.Storage.Kind)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.InitTelemetry(ctx, observability.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    true,
	})
	if err != nil {
		return fmt.Errorf("телеметрия: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logging.Warn("Остановка телеметрии: %v", err)
		}
	}()

	st, err := stream.Open(ctx, stream.Options{
		Kind:             cfg.Storage.Kind,
		Path:             cfg.Storage.Path,
		RedisURL:         cfg.Storage.RedisURL,
		Prefix:           cfg.Storage.Prefix,
		CompressionLevel: cfg.Storage.CompressionLevel,
	})
	if err != nil {
		return fmt.Errorf("хранилище: %w", err)
	}
	if st != nil {
		defer st.Close()
	}

	bus, err := openBus(cfg.EventBus)
	if err != nil {
		return err
	}
	defer bus.Close()
	if _, err := eventbus.StartLoggingListener(ctx, bus); err != nil {
		logging.Warn("LoggingListener не запущен: %v", err)
	}

	host := terrain.NewHost(terrain.HostConfig{
		Workers:          cfg.Runtime.Workers,
		MainThreadBudget: cfg.Runtime.MainThreadBudget(),
		StatsInterval:    cfg.Runtime.StatsInterval(),
		AutosaveInterval: cfg.Runtime.AutosaveInterval(),
	})
	host.AddObserver(eventbus.NewObserver(bus, cfg.Telemetry.ServiceName))

	gen := cfg.Terrain.Generator
	volume, err := host.AddVolume(terrain.VolumeConfig{
		Settings: cfg.Terrain.LodSettings(),
		Stream:   st,
		Generator: generator.NewNoise(generator.NoiseConfig{
			Seed:       gen.Seed,
			Scale:      gen.Scale,
			Height:     gen.Height,
			BaseHeight: float64(gen.BaseHeight),
		}),
		Mesher: mesher.Blocky{},
	})
	if err != nil {
		_ = host.Close()
		return fmt.Errorf("том: %w", err)
	}
	viewer := host.AddViewer(vec.Vec3Float{Y: gen.Height})

	taskMetrics := tasks.NewMetricsExporter(host.Runtime(), nil)
	taskMetrics.Start(time.Second)
	defer taskMetrics.Stop()
	busMetrics := eventbus.NewMetricsExporter(bus, nil)
	busMetrics.Start(time.Second)
	defer busMetrics.Stop()

	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.GetMetricsPort()),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logging.Info("📈 Prometheus /metrics на %s", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Ошибка Prometheus HTTP сервера: %v", err)
		}
	}()

	rest := api.NewRestServer(api.Config{
		Port: fmt.Sprintf(":%d", cfg.Server.GetRESTPort()),
		Host: host,
		Bus:  bus,
	})
	go func() {
		if err := rest.Start(); err != nil {
			logging.Error("❌ REST API: %v", err)
			stop()
		}
	}()

	logging.Info("✅ Том %d готов, наблюдатель %d", volume.ID(), viewer)
	logging.Info("   curl http://localhost:%d/api/stats/indicator", cfg.Server.GetRESTPort())

	// Основной поток: тики хоста и движение демо-наблюдателя
	ticker := time.NewTicker(cfg.Runtime.TickInterval())
	defer ticker.Stop()
	start := time.Now()
	for running := true; running; {
		select {
		case <-ctx.Done():
			running = false
		case <-ticker.C:
			if orbit > 0 {
				a := time.Since(start).Seconds() * 0.1
				pos := vec.Vec3Float{X: orbit * math.Cos(a), Y: gen.Height, Z: orbit * math.Sin(a)}
				_ = host.SetViewerPosition(viewer, pos)
			}
			host.Tick()
		}
	}

	logging.Info("📡 Получен сигнал завершения, сохраняем данные...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rest.Stop(shutdownCtx); err != nil {
		logging.Warn("Остановка REST API: %v", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Остановка /metrics: %v", err)
	}
	if err := host.Close(); err != nil {
		return err
	}
	logging.Info("👋 Сервер остановлен")
	return nil
}

func openBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	if cfg.URL == "" {
		return eventbus.NewMemoryBus(1024), nil
	}
	bus, err := eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, cfg.RetentionDuration())
	if err != nil {
		return nil, fmt.Errorf("шина событий: %w", err)
	}
	logging.Info("📨 JetStream подключён: %s, стрим %s", cfg.URL, cfg.Stream)
	return bus, nil
}
