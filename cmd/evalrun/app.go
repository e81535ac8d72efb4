package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-evalrun/internal/config"
	"github.com/ahrav/go-evalrun/internal/dispatch"
	"github.com/ahrav/go-evalrun/internal/mcp"
	"github.com/ahrav/go-evalrun/internal/progress"
	"github.com/ahrav/go-evalrun/internal/queue"
	"github.com/ahrav/go-evalrun/internal/reconcile"
	"github.com/ahrav/go-evalrun/internal/store"
	"github.com/ahrav/go-evalrun/internal/worker"
	"github.com/ahrav/go-evalrun/pkg/events"
)

// app holds the components shared by the commands. Close releases them in
// reverse order of creation.
type app struct {
	cfg        *config.Config
	store      *store.Gorm
	transport  queue.Transport
	sink       events.EventSink
	tracker    *progress.Tracker
	dispatcher *dispatch.Dispatcher

	closers []func() error
}

func openApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.store, err = store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	a.onClose(a.store.Close)

	a.transport, err = queue.New(ctx, cfg.Queue)
	if err != nil {
		return nil, err
	}
	a.onClose(a.transport.Close)

	a.sink, err = a.eventSink()
	if err != nil {
		return nil, err
	}

	a.tracker = progress.New(a.store, a.sink)
	a.dispatcher = dispatch.New(a.store, a.transport, a.tracker, cfg.Dispatch)
	return a, nil
}

func (a *app) onClose(fn func() error) { a.closers = append(a.closers, fn) }

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) eventSink() (events.EventSink, error) {
	switch a.cfg.Events.Sink {
	case config.SinkNone:
		return events.NewNoOpEventSink(), nil
	case config.SinkRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Queue.Redis.Addr,
			Password: a.cfg.Queue.Redis.Password,
			DB:       a.cfg.Queue.Redis.DB,
		})
		a.onClose(client.Close)
		return events.NewRedisStreamSink(client, a.cfg.Events.Stream, a.cfg.Events.MaxLen)
	default:
		return events.NewLogSink(slog.Default()), nil
	}
}

func (a *app) engine() *reconcile.Engine {
	return reconcile.New(a.store, a.transport, a.dispatcher, a.tracker)
}

// executor wires the generation client, the metric registry and, when a
// bridge URL is configured, the MCP tool bridge.
func (a *app) executor(ctx context.Context) (*worker.Executor, error) {
	client, err := worker.InitializeLLMClient(&a.cfg.Config, nil)
	if err != nil {
		return nil, err
	}
	a.onClose(client.Close)

	registry, err := worker.InitializeMetrics(client, a.cfg.Judge)
	if err != nil {
		return nil, err
	}

	deps := worker.Deps{
		Store:      a.store,
		Tracker:    a.tracker,
		Dispatcher: a.dispatcher,
		Generator:  client,
		Metrics:    registry,
	}
	if a.cfg.MCP.URL != "" {
		bridge, err := mcp.New(ctx, a.cfg.MCP)
		if err != nil {
			return nil, fmt.Errorf("connect to mcp bridge: %w", err)
		}
		deps.Bridge = bridge
	}
	return worker.NewExecutor(deps, a.cfg.Worker), nil
}
