package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/worldstream/internal/config"
	"github.com/annel0/worldstream/internal/logging"
	"github.com/annel0/worldstream/internal/metrics"
	"github.com/annel0/worldstream/internal/transition"
	"github.com/annel0/worldstream/internal/vec"
	"github.com/annel0/worldstream/internal/world"
	"github.com/annel0/worldstream/internal/world/chunk"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации")
	ticks := flag.Int("ticks", 200, "число тиков симуляции")
	metricsAddr := flag.String("metrics-addr", "", "адрес /metrics (перекрывает metrics.addr)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	logs := logging.NewLoggerManager(os.Stderr, level)
	logger := logs.GetLogger("worldsim")

	// === МЕТРИКИ ===
	registry := prometheus.NewRegistry()
	stats := metrics.NewStreaming(registry)

	addr := cfg.Metrics.Addr
	if *metricsAddr != "" {
		addr = *metricsAddr
	}
	var server *metrics.Server
	if addr != "" {
		server = metrics.NewServer(addr, registry, logs.GetLogger("metrics"))
		server.Start()
	}

	// === МИР ===
	bounds := world.Unbounded()
	if cfg.World.Width > 0 {
		bounds = world.Bounded(cfg.World.Width, cfg.World.Height)
	}

	manager, err := transition.NewManager(transition.Options{
		Root: cfg.Storage.GetSaveDir(),
		Start: transition.Blueprint{
			Seed:      cfg.World.Seed,
			Generator: cfg.World.Generator,
			Bounds:    bounds,
		},
		Player: world.Bundle{
			Kind:   world.KindPlayer,
			Name:   "explorer",
			Health: &world.Health{Current: 20, Max: 20},
			Speed:  1,
			Contents: []world.Bundle{
				{Kind: world.KindItem, Name: "torch"},
			},
		},
		Radius:           cfg.Streaming.GetRadius(),
		Backend:          cfg.Storage.Backend,
		CompressionLevel: cfg.Storage.CompressionLevel,
		CompactionFactor: cfg.Storage.CompactionFactor,
		Logger:           logs.GetLogger("transition"),
		PassObserver:     stats,
		Observer:         stats,
	})
	if err != nil {
		log.Fatalf("❌ Ошибка инициализации мира: %v", err)
	}

	logger.Info("🎮 Карта %d, радиус окна %d, хранилище %s", manager.Live().ID(), cfg.Streaming.GetRadius(), cfg.Storage.Backend)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	home := manager.Live().ID()
	var dungeon world.MapID
	step := vec.Vec2{X: 3, Y: 0}

loop:
	for tick := 0; tick < *ticks; tick++ {
		select {
		case sig := <-sigCh:
			logger.Info("📡 Получен сигнал %v, остановка", sig)
			break loop
		default:
		}

		switch tick {
		case *ticks / 3:
			dest := transition.Destination{Blueprint: transition.Blueprint{
				Seed:      cfg.World.Seed + int64(manager.MaxMapID()),
				Generator: chunk.KindCave,
				Bounds:    world.Bounded(128, 128),
				Spawn:     vec.Vec2{X: 64, Y: 64},
			}}
			if dungeon != 0 {
				dest = transition.Destination{Map: dungeon}
			}
			if _, err := manager.Transition(dest); err != nil {
				logger.Error("переход в подземелье: %v", err)
				continue
			}
			dungeon = manager.Live().ID()
			manager.SetFlag("dungeon_visits", flagValue(manager, "dungeon_visits")+1)
		case 2 * *ticks / 3:
			if manager.Live().ID() != home {
				if _, err := manager.Transition(transition.Destination{Map: home}); err != nil {
					logger.Error("возврат на карту %d: %v", home, err)
					continue
				}
			}
		}

		w := manager.Live()
		player := w.Player()
		if pos, ok := w.Position(player); ok && !w.Move(player, pos.Add(step)) {
			// Упёрлись в край карты
			step = vec.Vec2{X: -step.X, Y: -step.Y}
			w.Move(player, pos.Add(step))
		}

		report, err := w.Tick()
		if err != nil {
			logger.Error("тик %d прерван: %v", w.Ticks(), err)
			continue
		}
		if !report.Empty() {
			logger.Debug("карта %d, тик %d: %s", w.ID(), w.Ticks(), report)
		}
		if violations := w.CheckResidency(); len(violations) > 0 {
			logger.Warn("нарушена согласованность резидентности: %v", violations)
		}
	}

	if err := manager.Close(); err != nil {
		logger.Error("❌ Ошибка сохранения: %v", err)
	}

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("остановка сервера метрик: %v", err)
		}
	}
	logger.Info("👋 Симуляция завершена, максимальный id карты %d", manager.MaxMapID())
}

func flagValue(m *transition.Manager, name string) int {
	v, _ := m.Flag(name)
	return v
}
