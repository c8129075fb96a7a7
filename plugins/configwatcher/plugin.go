// Package configwatcher provides config file monitoring for keylink.
// When enabled, it watches the TOML config file and applies changed timing
// and transport settings to the running client.
package configwatcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/keylink/internal/cliconfig"
	"github.com/bft-labs/keylink/pkg/keylink"
	"github.com/bft-labs/keylink/pkg/log"
)

// Plugin implements config watching functionality.
// Only timing and transport settings are reloaded; everything else in the
// file takes effect on the next start.
type Plugin struct {
	mu sync.Mutex

	// Configuration
	path          string
	debounceDelay time.Duration

	// Runtime state
	logger   keylink.Logger
	timing   keylink.TimingController
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	debounce *time.Timer
	reloads  int
}

// Config holds configuration options for the config watcher plugin.
type Config struct {
	// Path is the TOML file to watch.
	// Default: ~/.keylink/config.toml
	Path string

	// DebounceDelay is the delay to wait after a file change before reloading.
	// Default: 100 milliseconds
	DebounceDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Path:          cliconfig.DefaultConfigPath(),
		DebounceDelay: 100 * time.Millisecond,
	}
}

// New creates a new config watcher plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 100 * time.Millisecond
	}
	return &Plugin{
		path:          cfg.Path,
		debounceDelay: cfg.DebounceDelay,
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "configwatcher"
}

// Initialize starts watching the config file.
func (p *Plugin) Initialize(ctx context.Context, cfg keylink.PluginConfig) error {
	p.mu.Lock()
	p.logger = cfg.Logger
	p.timing = cfg.Timing
	if p.logger == nil {
		p.logger = log.NewNoop()
	}
	p.mu.Unlock()

	if p.path == "" || p.timing == nil {
		p.logger.Warn("config watcher disabled: no config path")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info("config watcher plugin initialized", log.String("path", p.path))

	p.wg.Add(1)
	go p.watchLoop(watchCtx, watcher)

	return nil
}

// Shutdown stops the config watcher.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.mu.Unlock()
	return nil
}

// Reloads returns how many times new settings were applied.
func (p *Plugin) Reloads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloads
}

// watchLoop watches the config directory for changes to the file.
func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()
	defer watcher.Close()

	name := filepath.Base(p.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			p.debounceReload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("config watcher error", log.Err(err))
		}
	}
}

func (p *Plugin) debounceReload(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}

	p.debounce = time.AfterFunc(p.debounceDelay, func() {
		p.reload(ctx)
	})
}

// reload applies the timing section of the file. Invalid files are logged
// and the running settings are kept.
func (p *Plugin) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	fc, err := cliconfig.LoadFileConfig(p.path)
	if err != nil {
		p.logger.Warn("config reload failed", log.String("path", p.path), log.Err(err))
		return
	}

	current, currentTransport := p.timing.Timing()
	next, nextTransport := current, currentTransport
	if err := cliconfig.ApplyTiming(fc, &next, &nextTransport); err != nil {
		p.logger.Warn("config reload failed", log.String("path", p.path), log.Err(err))
		return
	}
	if next == current && nextTransport == currentTransport {
		return
	}

	if err := p.timing.UpdateTiming(ctx, next, nextTransport); err != nil {
		p.logger.Warn("config reload rejected", log.Err(err))
		return
	}

	p.mu.Lock()
	p.reloads++
	p.mu.Unlock()
	p.logger.Info("config reloaded",
		log.Duration("exchange_timeout", next.ExchangeTimeout),
		log.Duration("command_timeout", next.CommandTimeout),
		log.Int("max_retries", next.MaxRetries))
}

// Ensure Plugin implements keylink.Plugin.
var _ keylink.Plugin = (*Plugin)(nil)
