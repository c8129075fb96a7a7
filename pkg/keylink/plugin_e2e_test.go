package keylink_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/keylink/internal/adapters/sim"
	"github.com/bft-labs/keylink/pkg/keylink"
)

// =============================================================================
// Test Utilities
// =============================================================================

// testLogger implements keylink.Logger for capturing log output in tests.
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, fields ...keylink.LogField) { l.log("DEBUG", msg) }
func (l *testLogger) Info(msg string, fields ...keylink.LogField)  { l.log("INFO", msg) }
func (l *testLogger) Warn(msg string, fields ...keylink.LogField)  { l.log("WARN", msg) }
func (l *testLogger) Error(msg string, fields ...keylink.LogField) { l.log("ERROR", msg) }

func (l *testLogger) log(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("[%s] %s", level, msg))
}

func (l *testLogger) Contains(want string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages {
		if m == want {
			return true
		}
	}
	return false
}

// trackingPlugin records initialization and shutdown calls.
type trackingPlugin struct {
	name          string
	mu            *sync.Mutex
	initOrder     *[]string
	shutdownOrder *[]string
	initError     error
	shutdownError error
	cfg           keylink.PluginConfig
}

func (p *trackingPlugin) Name() string { return p.name }

func (p *trackingPlugin) Initialize(ctx context.Context, cfg keylink.PluginConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initError != nil {
		return p.initError
	}
	*p.initOrder = append(*p.initOrder, p.name)
	p.cfg = cfg
	return nil
}

func (p *trackingPlugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	*p.shutdownOrder = append(*p.shutdownOrder, p.name)
	return p.shutdownError
}

type pluginSet struct {
	mu            sync.Mutex
	initOrder     []string
	shutdownOrder []string
}

func (s *pluginSet) plugin(name string) *trackingPlugin {
	return &trackingPlugin{
		name:          name,
		mu:            &s.mu,
		initOrder:     &s.initOrder,
		shutdownOrder: &s.shutdownOrder,
	}
}

func newSimLink(t *testing.T) *sim.Vehicle {
	t.Helper()
	v, err := sim.New(sim.Config{})
	require.NoError(t, err)
	return v
}

// =============================================================================
// Plugin Lifecycle Tests
// =============================================================================

func TestPlugin_InitializationOrder(t *testing.T) {
	var set pluginSet
	p1, p2, p3 := set.plugin("plugin1"), set.plugin("plugin2"), set.plugin("plugin3")

	c, err := keylink.New(keylink.Config{StateDir: t.TempDir()},
		keylink.WithLink(newSimLink(t)),
		keylink.WithPlugin(p1),
		keylink.WithPlugin(p2),
		keylink.WithPlugin(p3),
	)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Stop())

	assert.Equal(t, []string{"plugin1", "plugin2", "plugin3"}, set.initOrder)
	assert.Equal(t, []string{"plugin3", "plugin2", "plugin1"}, set.shutdownOrder)
}

func TestPlugin_ReceivesConfig(t *testing.T) {
	var set pluginSet
	p := set.plugin("inspect")
	dir := t.TempDir()

	c, err := keylink.New(keylink.Config{StateDir: dir}, keylink.WithLink(newSimLink(t)), keylink.WithPlugin(p))
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	assert.Equal(t, dir, p.cfg.StateDir)
	assert.NotNil(t, p.cfg.Logger)
	require.NotNil(t, p.cfg.Timing)
	timing, _ := p.cfg.Timing.Timing()
	assert.Equal(t, keylink.DefaultTiming(), timing)
}

func TestPlugin_InitializationFailure_PreventsStart(t *testing.T) {
	var set pluginSet
	good := set.plugin("good")
	bad := set.plugin("bad")
	bad.initError = errors.New("boom")
	never := set.plugin("never")

	logger := &testLogger{}
	c, err := keylink.New(keylink.Config{},
		keylink.WithLink(newSimLink(t)),
		keylink.WithLogger(logger),
		keylink.WithPlugin(good),
		keylink.WithPlugin(bad),
		keylink.WithPlugin(never),
	)
	require.NoError(t, err)

	err = c.Start(context.Background())
	require.ErrorIs(t, err, bad.initError)
	assert.Equal(t, keylink.StateCrashed, c.Status())
	assert.Equal(t, []string{"good"}, set.initOrder)
	assert.Equal(t, []string{"good"}, set.shutdownOrder, "already initialized plugins must be shut down")
	assert.True(t, logger.Contains("[ERROR] plugin initialization failed"))
}

func TestPlugin_ShutdownFailure_ContinuesOtherPlugins(t *testing.T) {
	var set pluginSet
	first := set.plugin("first")
	failing := set.plugin("failing")
	failing.shutdownError = errors.New("shutdown failed")

	c, err := keylink.New(keylink.Config{},
		keylink.WithLink(newSimLink(t)),
		keylink.WithPlugin(first),
		keylink.WithPlugin(failing),
	)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Stop(), "Stop should succeed despite plugin errors")

	assert.Equal(t, []string{"failing", "first"}, set.shutdownOrder)
	assert.Equal(t, keylink.StateStopped, c.Status())
}

func TestPlugin_RestartAfterCrashShutsDownPlugins(t *testing.T) {
	var set pluginSet
	p := set.plugin("watcher")

	c, err := keylink.New(keylink.Config{},
		keylink.WithLink(deadLink{err: errors.New("adapter unplugged")}),
		keylink.WithPlugin(p),
	)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool {
		return c.Status() == keylink.StateCrashed
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Start(context.Background()))

	set.mu.Lock()
	defer set.mu.Unlock()
	assert.Equal(t, []string{"watcher", "watcher"}, set.initOrder)
	assert.Equal(t, []string{"watcher"}, set.shutdownOrder, "the crashed run is shut down before the next one")
}

func TestPlugin_EmptyPluginList(t *testing.T) {
	c, err := keylink.New(keylink.Config{}, keylink.WithLink(newSimLink(t)))
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Stop())
}
