// Package daemon implements the tascaded background service: the command
// server wired to the task store, the session context manager and the AI
// provider.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/drewfead/tascade/internal/ai"
	"github.com/drewfead/tascade/internal/config"
	"github.com/drewfead/tascade/internal/control"
	"github.com/drewfead/tascade/internal/logging"
	"github.com/drewfead/tascade/internal/session"
	"github.com/drewfead/tascade/internal/store"
	"github.com/drewfead/tascade/internal/task"
)

// DefaultShutdownTimeout is how long to wait for graceful shutdown.
const DefaultShutdownTimeout = 5 * time.Second

// Daemon is the main service.
type Daemon struct {
	config   *config.Config
	store    *store.Store
	server   *control.Server
	sessions *session.Manager

	aiMu     sync.RWMutex
	provider ai.Provider

	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shutdownOnce sync.Once
}

// New creates a new daemon instance.
func New(cfg *config.Config) (*Daemon, error) {
	st, err := store.New(cfg.Daemon.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return newDaemon(cfg, st, newProvider(cfg.AI)), nil
}

func newDaemon(cfg *config.Config, st *store.Store, provider ai.Provider) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config: cfg,
		store:  st,
		server: control.NewServer(control.ServerOptions{
			Name:    cfg.Server.Name,
			Version: cfg.Server.Version,
			Path:    cfg.Server.Path,
		}),
		sessions:  session.NewManager(session.Options{MaxHistory: cfg.Session.MaxHistory}),
		provider:  provider,
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}

	d.registerTaskHandlers()
	d.registerContextHandlers()
	d.registerServerHandlers()
	d.registerResources()
	return d
}

// newProvider builds the configured AI provider, or nil when none is usable.
func newProvider(cfg config.AIConfig) ai.Provider {
	switch cfg.Provider {
	case "", "none":
		return nil
	case ai.ProviderGemini:
		g, err := ai.NewGemini(ai.GeminiConfig{APIKey: cfg.APIKey, Model: cfg.Model, SystemPrompt: cfg.SystemPrompt})
		if err != nil {
			logging.Warn("AI provider disabled", "provider", cfg.Provider, "error", err)
			return nil
		}
		return g
	default:
		logging.Warn("unknown AI provider", "provider", cfg.Provider)
		return nil
	}
}

// Server returns the command server.
func (d *Daemon) Server() *control.Server { return d.server }

// Sessions returns the context manager.
func (d *Daemon) Sessions() *session.Manager { return d.sessions }

func (d *Daemon) aiProvider() ai.Provider {
	d.aiMu.RLock()
	defer d.aiMu.RUnlock()
	return d.provider
}

func (d *Daemon) setProvider(p ai.Provider) {
	d.aiMu.Lock()
	old := d.provider
	d.provider = p
	d.aiMu.Unlock()
	if c, ok := old.(io.Closer); ok && old != p {
		c.Close()
	}
}

// Start begins serving on the configured address.
func (d *Daemon) Start() error {
	if err := d.server.Start(d.config.Server.Addr()); err != nil {
		return err
	}
	logging.Info("tascaded listening", "addr", d.server.Addr(), "path", d.config.Server.Path)
	return nil
}

// Run starts the daemon and blocks until shutdown.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	return d.signalLoop(sigCh)
}

// signalLoop handles OS signals for graceful shutdown.
func (d *Daemon) signalLoop(sigCh <-chan os.Signal) error {
	for {
		var sig os.Signal
		select {
		case sig = <-sigCh:
		case <-d.ctx.Done():
			d.Shutdown()
			return nil
		}

		switch sig {
		case syscall.SIGHUP:
			logging.Info("received SIGHUP, reloading config")
			if err := d.reloadConfig(); err != nil {
				logging.Error("config reload failed", "error", err)
			}

		case syscall.SIGINT, syscall.SIGTERM:
			logging.Info("received shutdown signal, starting graceful shutdown", "signal", sig.String())

			shutdownDone := make(chan struct{})
			go func() {
				d.Shutdown()
				close(shutdownDone)
			}()

			select {
			case <-shutdownDone:
				logging.Info("graceful shutdown complete")
				return nil
			case sig2 := <-sigCh:
				logging.Warn("received second signal, forcing immediate shutdown", "signal", sig2.String())
				d.forceShutdown()
				return fmt.Errorf("forced shutdown by signal: %s", sig2.String())
			}
		}
	}
}

// Shutdown stops the server, waits for background work and closes the store.
func (d *Daemon) Shutdown() {
	d.shutdownOnce.Do(func() {
		timeout := d.config.Daemon.ShutdownTimeout
		if timeout <= 0 {
			timeout = DefaultShutdownTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := d.server.Stop(ctx); err != nil {
			logging.Warn("server stop", "error", err)
		}
		d.cancel()

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			logging.Warn("shutdown timeout exceeded, background work abandoned")
		}

		d.setProvider(nil)
		if err := d.store.Close(); err != nil {
			logging.Error("error closing database", "error", err)
		}
	})
}

func (d *Daemon) forceShutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	d.server.Stop(ctx)
	d.store.Close()
}

// reloadConfig re-reads the config file and swaps in the AI provider.
func (d *Daemon) reloadConfig() error {
	newCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := newCfg.Validate(); err != nil {
		return err
	}
	d.setProvider(newProvider(newCfg.AI))
	d.config.AI = newCfg.AI
	logging.Info("config reloaded", "ai_provider", newCfg.AI.Provider)
	return nil
}

// safeGo runs a function in a tracked goroutine with panic recovery. It is a
// no-op once shutdown has begun.
func (d *Daemon) safeGo(name string, fn func(ctx context.Context)) {
	if d.ctx.Err() != nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logging.CapturePanic(r, "goroutine", name)
			}
		}()
		fn(d.ctx)
	}()
}

// TaskUpdate is the unsolicited push sent to every connection when a task changes.
type TaskUpdate struct {
	Event     string         `json:"event"`
	Type      task.EventType `json:"type"`
	TaskID    string         `json:"task_id"`
	Task      *task.Task     `json:"task,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// TaskUpdatedEvent names the task change push.
const TaskUpdatedEvent = "task-updated"

func (d *Daemon) broadcastTask(typ task.EventType, id string, t *task.Task) {
	update := TaskUpdate{
		Event:     TaskUpdatedEvent,
		Type:      typ,
		TaskID:    id,
		Task:      t,
		Timestamp: time.Now().UTC().Format(control.TimestampFormat),
	}
	d.safeGo("broadcast-task", func(context.Context) {
		if err := d.server.Broadcast(update); err != nil {
			logging.Warn("task broadcast failed", "task", id, "error", err)
		}
	})
}

func decodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}
