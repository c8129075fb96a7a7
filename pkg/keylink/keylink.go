package keylink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bft-labs/keylink/internal/adapters/badgerstore"
	"github.com/bft-labs/keylink/internal/adapters/crypto"
	"github.com/bft-labs/keylink/internal/adapters/fs"
	"github.com/bft-labs/keylink/internal/adapters/protocol"
	"github.com/bft-labs/keylink/internal/app"
	"github.com/bft-labs/keylink/internal/ports"
	"github.com/bft-labs/keylink/internal/session"
)

// Client issues authenticated commands to one vehicle over a Link.
// Use New() to create an instance, then Start() to begin processing.
type Client struct {
	opts      options
	lifecycle *app.Lifecycle
	emitter   *eventEmitterWrapper
	logger    ports.Logger
	plugins   []Plugin

	mu         sync.RWMutex
	config     Config
	runner     *app.Runner
	runCtx     context.Context
	closeStore func() error
}

// New creates a Client with the given configuration.
// The client is created in StateStopped; call Start() to begin.
// Returns an error if configuration is invalid.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.link == nil {
		return nil, fmt.Errorf("%w: a link is required", ErrInvalidConfig)
	}

	emitter := &eventEmitterWrapper{handler: o.eventHandler}
	return &Client{
		config:    cfg,
		opts:      o,
		lifecycle: app.NewLifecycle(o.logger, emitter),
		emitter:   emitter,
		logger:    o.logger,
		plugins:   o.plugins,
	}, nil
}

// Start loads the controller key and persisted sessions, then runs the
// engine in the background. The provided context bounds the lifetime of
// the engine.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lifecycle.CanStart() {
		return ErrAlreadyRunning
	}
	if c.runner != nil {
		// A crashed run may still be winding down.
		_ = c.lifecycle.WaitWithTimeout(c.config.ShutdownTimeout)
		c.shutdownPlugins(len(c.plugins))
		c.runner, c.runCtx = nil, nil
		c.releaseStore()
	}
	if err := c.lifecycle.TransitionTo(app.StateStarting, "Start() called"); err != nil {
		return err
	}

	runner, err := c.build()
	if err != nil {
		_ = c.lifecycle.TransitionTo(app.StateCrashed, err.Error())
		return err
	}

	runCtx := c.lifecycle.Begin(ctx)

	pluginCfg := PluginConfig{
		StateDir: c.config.StateDir,
		Logger:   c.logger,
		Timing:   c,
	}
	for i, p := range c.plugins {
		if err := p.Initialize(runCtx, pluginCfg); err != nil {
			c.logger.Error("plugin initialization failed",
				ports.String("plugin", p.Name()),
				ports.Err(err))
			c.lifecycle.Cancel()
			c.shutdownPlugins(i)
			c.releaseStore()
			_ = c.lifecycle.TransitionTo(app.StateCrashed, "plugin init failed: "+p.Name())
			return err
		}
		c.logger.Info("plugin initialized", ports.String("plugin", p.Name()))
	}

	c.runner = runner
	c.runCtx = runCtx

	c.lifecycle.Go("link", func() error {
		return c.opts.link.Run(runCtx, runner)
	})
	c.lifecycle.Go("engine", func() error {
		if err := c.lifecycle.TransitionTo(app.StateRunning, "engine starting"); err != nil {
			// Stop arrived first.
			return nil
		}
		return runner.Run(runCtx)
	})

	return nil
}

// build wires a fresh engine and runner. Called with c.mu held.
func (c *Client) build() (*app.Runner, error) {
	priv, err := c.controllerKey()
	if err != nil {
		return nil, err
	}
	sessionCodec, err := crypto.NewCodec(priv)
	if err != nil {
		return nil, err
	}
	messages, err := protocol.NewCodec(protocol.NewAddress())
	if err != nil {
		return nil, err
	}
	store, err := c.openStore()
	if err != nil {
		return nil, err
	}

	emitter := c.opts.emitter
	sessions := session.NewManager(sessionCodec, store, c.opts.clock, c.logger, emitter)
	engine, err := app.NewEngine(app.EngineConfig{
		Timing:    c.config.Timing,
		Transport: c.config.Transport,
	}, app.Dependencies{
		Link:     c.opts.link,
		Messages: messages,
		Payloads: protocol.Payloads{},
		Sessions: sessions,
		Clock:    c.opts.clock,
		Status:   c.opts.statusSink,
		Logger:   c.logger,
		Emitter:  emitter,
	})
	if err != nil {
		c.releaseStore()
		return nil, err
	}

	var poller *app.Poller
	if c.config.Poll.Enabled() {
		poller = app.NewPoller(c.config.Poll, c.logger, c.emitter.wrap(c.opts.pollHandler))
	}
	return app.NewRunner(engine, poller, c.opts.clock, c.config.TickInterval, c.logger), nil
}

func (c *Client) controllerKey() ([]byte, error) {
	if c.config.KeyFile == "" {
		return crypto.GenerateKey()
	}
	return crypto.LoadOrCreateKey(c.config.KeyFile)
}

// openStore returns the session store for this run, or nil for memory.
func (c *Client) openStore() (ports.SessionStore, error) {
	if c.opts.sessionStore != nil {
		return c.opts.sessionStore, nil
	}
	switch c.config.SessionStore {
	case StoreFile:
		return fs.NewSessionFileStore(c.config.StateDir), nil
	case StoreBadger:
		db, err := badgerstore.Open(badgerstore.Config{Dir: badgerDir(c.config.StateDir)}, c.logger)
		if err != nil {
			return nil, err
		}
		c.closeStore = db.Close
		return db, nil
	}
	return nil, nil
}

func (c *Client) releaseStore() {
	if c.closeStore == nil {
		return
	}
	if err := c.closeStore(); err != nil {
		c.logger.Warn("session store close failed", ports.Err(err))
	}
	c.closeStore = nil
}

// Stop cancels queued commands, waits for the engine to exit and shuts
// plugins down. Returns nil on graceful shutdown, ErrShutdownTimeout if the
// engine did not exit within Config.ShutdownTimeout.
func (c *Client) Stop() error {
	c.mu.Lock()

	if !c.lifecycle.CanStop() {
		c.mu.Unlock()
		return ErrNotRunning
	}
	if err := c.lifecycle.TransitionTo(app.StateStopping, "Stop() called"); err != nil {
		c.mu.Unlock()
		return err
	}
	c.lifecycle.Cancel()
	timeout := c.config.ShutdownTimeout
	c.mu.Unlock()

	err := c.lifecycle.WaitWithTimeout(timeout)
	c.shutdownPlugins(len(c.plugins))

	c.mu.Lock()
	c.runner = nil
	c.runCtx = nil
	if err == nil {
		c.releaseStore()
	}
	c.mu.Unlock()

	if err != nil {
		_ = c.lifecycle.TransitionTo(app.StateCrashed, "shutdown timeout")
	} else {
		_ = c.lifecycle.TransitionTo(app.StateStopped, "graceful shutdown")
	}
	return err
}

// shutdownPlugins shuts down the first n plugins in reverse order.
func (c *Client) shutdownPlugins(n int) {
	for i := n - 1; i >= 0; i-- {
		p := c.plugins[i]
		if err := p.Shutdown(context.Background()); err != nil {
			c.logger.Error("plugin shutdown failed",
				ports.String("plugin", p.Name()),
				ports.Err(err))
			continue
		}
		c.logger.Info("plugin shutdown complete", ports.String("plugin", p.Name()))
	}
}

// Status returns the current lifecycle state.
// Safe to call concurrently from any goroutine.
func (c *Client) Status() State {
	return State(c.lifecycle.State())
}

// Err returns the error that crashed the last run, or nil.
func (c *Client) Err() error {
	return c.lifecycle.Err()
}

// call returns the runner together with a context that also ends when the
// engine stops, so calls never wait on an exited runner.
func (c *Client) call(ctx context.Context) (*app.Runner, context.Context, context.CancelFunc, error) {
	c.mu.RLock()
	runner, runCtx := c.runner, c.runCtx
	c.mu.RUnlock()
	if runner == nil || runCtx.Err() != nil {
		return nil, nil, nil, ErrNotRunning
	}

	callCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(runCtx, cancel)
	return runner, callCtx, func() {
		stop()
		cancel()
	}, nil
}

// callErr maps a cancellation caused by the engine stopping to ErrNotRunning.
func callErr(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		return ErrNotRunning
	}
	return err
}

// Enqueue queues a command for the domain that owns its action and returns
// its ID. onDone is called exactly once, from the engine goroutine, with
// the terminal result. Commands still queued when the client stops fail
// with ReasonCanceled.
func (c *Client) Enqueue(ctx context.Context, p Payload, tag string, onDone CompletionFunc) (string, error) {
	spec, err := p.Spec()
	if err != nil {
		return "", err
	}
	runner, callCtx, done, err := c.call(ctx)
	if err != nil {
		return "", err
	}
	defer done()
	id, err := runner.Enqueue(callCtx, spec.Domain, p, tag, c.emitter.wrap(onDone))
	return id, callErr(ctx, err)
}

// Send enqueues a command and waits for its result. The returned error is
// the result's error, an enqueue error, or ctx.Err() if ctx ends first; in
// the last case the command stays queued and still runs.
func (c *Client) Send(ctx context.Context, p Payload, tag string) (Result, error) {
	done := make(chan Result, 1)
	id, err := c.Enqueue(ctx, p, tag, func(r Result) {
		done <- r
	})
	if err != nil {
		return Result{}, err
	}

	select {
	case r := <-done:
		return r, r.Err
	case <-ctx.Done():
		return Result{ID: id, Tag: tag}, ctx.Err()
	}
}

// Timing returns the current command timing and transport configuration.
func (c *Client) Timing() (Timing, TransportConfig) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config.Timing, c.config.Transport
}

// UpdateTiming replaces the command timing and transport timers. On a
// running client the change applies from the next engine tick; otherwise
// it applies on the next Start.
func (c *Client) UpdateTiming(ctx context.Context, t Timing, tc TransportConfig) error {
	if err := (app.EngineConfig{Timing: t, Transport: tc}).Validate(); err != nil {
		return err
	}
	if runner, callCtx, done, err := c.call(ctx); err == nil {
		err = runner.UpdateTiming(callCtx, t, tc)
		done()
		if err = callErr(ctx, err); err != nil && !errors.Is(err, ErrNotRunning) {
			return err
		}
	}

	c.mu.Lock()
	c.config.Timing = t
	c.config.Transport = tc
	c.mu.Unlock()
	return nil
}

// Snapshot returns the queue, session and vehicle state of a running
// client.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	runner, callCtx, done, err := c.call(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	defer done()
	s, err := runner.Snapshot(callCtx)
	return s, callErr(ctx, err)
}

// Clear cancels every queued command and returns how many were canceled.
func (c *Client) Clear(ctx context.Context) (int, error) {
	runner, callCtx, done, err := c.call(ctx)
	if err != nil {
		return 0, err
	}
	defer done()
	n, err := runner.Clear(callCtx)
	return n, callErr(ctx, err)
}
