package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tazhate/taskreminder/config"
	"github.com/tazhate/taskreminder/internal/api"
	"github.com/tazhate/taskreminder/internal/clients/caldav"
	"github.com/tazhate/taskreminder/internal/clients/dapr"
	"github.com/tazhate/taskreminder/internal/clients/upstash"
	"github.com/tazhate/taskreminder/internal/events"
	"github.com/tazhate/taskreminder/internal/scheduler"
	"github.com/tazhate/taskreminder/internal/service"
	"github.com/tazhate/taskreminder/internal/storage"
)

func main() {
	// Загрузка конфига
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := mustMakeLogger(cfg.LogLevel)
	slog.SetDefault(log)

	// Хранилище напоминаний
	kv, closeKV := openKV(cfg, log)
	defer closeKV()
	store := storage.NewStore(kv, log)

	// Публикация событий и сервисы
	publisher := events.Select(cfg, log)
	reminderSvc := service.NewReminderService(store, publisher, log)
	taskSvc := service.NewTaskService(publisher, log)

	if publisher.SetLocalSink(reminderSvc.LocalSink(cfg.TaskEventsTopic)) {
		log.Info("no broker configured, task events are looped back locally")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.CalDAVConfigured() {
		if mirror := setupCalendar(ctx, cfg, log); mirror != nil {
			reminderSvc.SetMirror(mirror)
		}
	}

	// Scheduler: периодическое сканирование и, при наличии очереди, чтение task-events
	sched := scheduler.New(reminderSvc, cfg.CronInterval(), log)
	if cfg.QueueConfigured() {
		queue := upstash.NewClient(cfg.QueueURL, cfg.QueueUsername, cfg.QueuePassword)
		queue.SetLogger(log)
		sched.SetConsumer(queue, reminderSvc, scheduler.ConsumerConfig{
			Group:    cfg.QueueGroup,
			Instance: cfg.QueueInstance,
			Topic:    cfg.TaskEventsTopic,
			Interval: cfg.ConsumeInterval(),
		})
	}

	go func() {
		if err := sched.Start(ctx); err != nil {
			log.Error("scheduler error", "error", err)
		}
	}()

	server := api.New(api.Deps{
		Config:    cfg,
		Reminders: reminderSvc,
		Scans:     sched,
		Tasks:     taskSvc,
		Backends:  publisher.BackendNames(),
		Log:       log,
	})
	server.Start()

	log.Info("reminder service started",
		"port", cfg.ServerPort,
		"store", store.Backend(),
		"publisher", publisher.Primary(),
		"scan_interval", cfg.CronInterval())

	// Ожидание сигнала завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")

	cancel()
	sched.Stop()
	taskSvc.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("error stopping server", "error", err)
	}

	log.Info("reminder service stopped")
}

func mustMakeLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(level)))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// openKV picks the reminder store transport: a local SQLite file, the sidecar
// state API, or nothing (memory only).
func openKV(cfg *config.Config, log *slog.Logger) (storage.KV, func()) {
	switch {
	case cfg.StateDBPath != "":
		db, err := storage.NewSQLite(cfg.StateDBPath)
		if err != nil {
			log.Error("failed to open state database", "path", cfg.StateDBPath, "error", err)
			os.Exit(1)
		}
		return db, func() { db.Close() }
	case cfg.SidecarConfigured():
		return storage.NewDaprState(dapr.NewClient(cfg.DaprHTTPPort), cfg.StateStoreName), func() {}
	default:
		return nil, func() {}
	}
}

func setupCalendar(ctx context.Context, cfg *config.Config, log *slog.Logger) *caldav.Client {
	client := caldav.NewClient(cfg.CalDAVURL, cfg.CalDAVUsername, cfg.CalDAVPassword)

	if cfg.CalDAVCalendar != "" {
		client.SetCalendarPath(cfg.CalDAVCalendar)
		log.Info("calendar mirror enabled", "calendar", cfg.CalDAVCalendar)
		return client
	}

	discoverCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	path, err := client.DiscoverCalendarPath(discoverCtx)
	if err != nil {
		log.Warn("calendar mirror disabled, discovery failed", "error", err)
		return nil
	}
	client.SetCalendarPath(path)
	log.Info("calendar mirror enabled", "calendar", path)
	return client
}
