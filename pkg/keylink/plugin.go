package keylink

import "context"

// Plugin extends a Client with optional behaviour. Plugins are initialized
// in registration order by Start and shut down in reverse order by Stop.
type Plugin interface {
	// Name identifies the plugin in logs.
	Name() string

	// Initialize is called by Start. ctx is canceled when the client stops.
	// Returning an error aborts Start.
	Initialize(ctx context.Context, cfg PluginConfig) error

	// Shutdown is called by Stop after the engine has exited.
	Shutdown(ctx context.Context) error
}

// TimingController reads and replaces the timing of a running client.
// *Client implements it.
type TimingController interface {
	Timing() (Timing, TransportConfig)
	UpdateTiming(ctx context.Context, t Timing, tc TransportConfig) error
}

// PluginConfig is what a plugin receives on Initialize.
type PluginConfig struct {
	StateDir string
	Logger   Logger
	Timing   TimingController
}
