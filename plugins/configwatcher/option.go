package configwatcher

import "github.com/bft-labs/keylink/pkg/keylink"

// WithConfigWatcher returns a keylink Option that enables config file watching.
// When enabled, the plugin applies timing and transport changes from the
// file to the running client.
//
// Usage:
//
//	c, err := keylink.New(cfg,
//	    keylink.WithLink(radio),
//	    configwatcher.WithConfigWatcher(configwatcher.Config{
//	        Path:          "/etc/keylink/config.toml",
//	        DebounceDelay: 100 * time.Millisecond,
//	    }),
//	)
func WithConfigWatcher(cfg Config) keylink.Option {
	plugin := New(cfg)
	return keylink.WithPlugin(plugin)
}

// WithDefaultConfigWatcher returns a keylink Option that watches
// ~/.keylink/config.toml with a 100ms debounce.
//
// Usage:
//
//	c, err := keylink.New(cfg, keylink.WithLink(radio), configwatcher.WithDefaultConfigWatcher())
func WithDefaultConfigWatcher() keylink.Option {
	return WithConfigWatcher(DefaultConfig())
}
