package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tazhate/taskreminder/internal/clients/upstash"
	"github.com/tazhate/taskreminder/internal/domain"
)

const consumeTimeout = 10 * time.Second

// ReminderScanner fires due reminders and reports how many were fired.
type ReminderScanner interface {
	CheckAndTrigger(ctx context.Context) int
}

type EventHandler interface {
	HandleInbound(ctx context.Context, ev *domain.InboundTaskEvent)
}

type QueueConsumer interface {
	Consume(ctx context.Context, group, instance, topic string) ([]upstash.Message, error)
}

// ConsumerConfig describes where task events are pulled from when no sidecar
// pushes them.
type ConsumerConfig struct {
	Group    string
	Instance string
	Topic    string
	Interval time.Duration
}

type Scheduler struct {
	cron         *cron.Cron
	scanner      ReminderScanner
	scanInterval time.Duration
	log          *slog.Logger

	consumer    QueueConsumer
	handler     EventHandler
	consumerCfg ConsumerConfig

	scanMu   sync.Mutex
	running  atomic.Bool
	lastScan atomic.Int64 // unix nanos
}

func New(scanner ReminderScanner, scanInterval time.Duration, log *slog.Logger) *Scheduler {
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{log}),
		cron.SkipIfStillRunning(cronLogger{log}),
	))

	return &Scheduler{
		cron:         c,
		scanner:      scanner,
		scanInterval: scanInterval,
		log:          log,
	}
}

// SetConsumer enables polling the managed queue for task events.
func (s *Scheduler) SetConsumer(consumer QueueConsumer, handler EventHandler, cfg ConsumerConfig) {
	s.consumer = consumer
	s.handler = handler
	s.consumerCfg = cfg
}

func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(every(s.scanInterval), s.scanJob); err != nil {
		return fmt.Errorf("add reminder scan: %w", err)
	}

	if s.consumer != nil {
		if _, err := s.cron.AddFunc(every(s.consumerCfg.Interval), s.consumeJob); err != nil {
			return fmt.Errorf("add queue consumer: %w", err)
		}
	}

	s.cron.Start()
	s.running.Store(true)
	s.log.Info("scheduler started", "scan_interval", s.scanInterval, "consumer", s.consumer != nil)

	<-ctx.Done()
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running.Store(false)
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) Running() bool {
	return s.running.Load()
}

func (s *Scheduler) ScanInterval() time.Duration {
	return s.scanInterval
}

// LastScan returns when the last scan finished, or the zero time.
func (s *Scheduler) LastScan() time.Time {
	n := s.lastScan.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// RunScan runs one reminder scan. Timed and manual scans share a lock, so
// scans never interleave.
func (s *Scheduler) RunScan(ctx context.Context) int {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	fired := s.scanner.CheckAndTrigger(ctx)
	s.lastScan.Store(time.Now().UnixNano())
	return fired
}

// scanJob runs detached from shutdown: a started scan completes, and each
// outbound call is bounded by its client timeout.
func (s *Scheduler) scanJob() {
	s.RunScan(context.Background())
}

func (s *Scheduler) consumeJob() {
	ctx, cancel := context.WithTimeout(context.Background(), consumeTimeout)
	defer cancel()
	s.ConsumeOnce(ctx)
}

// ConsumeOnce pulls one batch of task events and hands each to the handler.
// It returns how many events were handled.
func (s *Scheduler) ConsumeOnce(ctx context.Context) int {
	if s.consumer == nil {
		return 0
	}

	cfg := s.consumerCfg
	msgs, err := s.consumer.Consume(ctx, cfg.Group, cfg.Instance, cfg.Topic)
	if err != nil {
		s.log.Warn("consume task events", "topic", cfg.Topic, "error", err)
		return 0
	}

	handled := 0
	for _, m := range msgs {
		ev, err := domain.ParseCloudEvent([]byte(m.Value))
		if err != nil {
			s.log.Error("skipping malformed task event", "topic", m.Topic, "offset", m.Offset, "error", err)
			continue
		}
		s.handler.HandleInbound(ctx, ev)
		handled++
	}
	return handled
}

func every(d time.Duration) string {
	if d < time.Second {
		d = time.Second
	}
	return "@every " + d.String()
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
