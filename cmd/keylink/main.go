package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	logAdapter "github.com/bft-labs/keylink/internal/adapters/log"
	"github.com/bft-labs/keylink/internal/adapters/metrics"
	"github.com/bft-labs/keylink/internal/cliconfig"
	"github.com/bft-labs/keylink/pkg/keylink"
	"github.com/bft-labs/keylink/plugins/configwatcher"
)

const helpDescription = `
Send authenticated commands to a vehicle over a short-range link.

Highlights:
  - One signed session per vehicle domain, refreshed on demand and persisted between runs.
  - Wakes the vehicle when a command needs it and retries until it answers or times out.
  - Configure via file, env (KEYLINK_*), or flags.

The built-in link is an in-process vehicle simulator; use the fault flags
on send and watch to exercise retries, wake-ups and session recovery.
`

var exampleUsage = strings.TrimSpace(`
  keylink actions
  keylink send lock
  keylink send setChargingLimit 80 --asleep
  keylink send soundHorn --drop 3 --log-level debug
  keylink watch --poll-vcsec 5s --poll-data 15s --metrics-addr :9100
  keylink sessions --forget
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// cli carries the resolved configuration shared by every subcommand.
type cli struct {
	cfg     cliconfig.Config
	cfgPath string
	cfgFile string
	log     zerolog.Logger
}

func main() {
	c := &cli{cfg: cliconfig.DefaultConfig()}
	c.log = cliconfig.Logger(c.cfg.LogLevel)

	root := &cobra.Command{
		Use:           "keylink",
		Short:         "Send authenticated commands to a vehicle over a lossy short-range link",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgPath, "config", "", "path to config file (default: $HOME/.keylink/config.toml)")
	flags.StringVar(&c.cfg.StateDir, "state-dir", c.cfg.StateDir, "directory for the controller key and sessions")
	flags.StringVar(&c.cfg.KeyFile, "key-file", c.cfg.KeyFile, "controller key file (default: <state-dir>/controller.key)")
	flags.StringVar(&c.cfg.SessionStore, "session-store", c.cfg.SessionStore, "session store: file, badger or memory")
	flags.StringVar(&c.cfg.LogLevel, "log-level", c.cfg.LogLevel, "log level: debug, info, warn, error")

	flags.DurationVar(&c.cfg.TickInterval, "tick", c.cfg.TickInterval, "engine tick interval when idle")
	flags.DurationVar(&c.cfg.ExchangeTimeout, "exchange-timeout", c.cfg.ExchangeTimeout, "time without progress before a command is retried")
	flags.DurationVar(&c.cfg.CommandTimeout, "command-timeout", c.cfg.CommandTimeout, "total time a command may take")
	flags.IntVar(&c.cfg.MaxRetries, "max-retries", c.cfg.MaxRetries, "retries per command")
	flags.IntVar(&c.cfg.MaxQueueSize, "max-queue", c.cfg.MaxQueueSize, "maximum queued commands")

	flags.IntVar(&c.cfg.UnitSize, "unit-size", c.cfg.UnitSize, "transport unit payload size in bytes")
	flags.IntVar(&c.cfg.MaxMessageSize, "max-message-size", c.cfg.MaxMessageSize, "maximum framed message size in bytes")
	flags.DurationVar(&c.cfg.UnitTimeout, "unit-timeout", c.cfg.UnitTimeout, "time to wait for a unit write confirmation")
	flags.IntVar(&c.cfg.UnitRetries, "unit-retries", c.cfg.UnitRetries, "rewrites of one unit before the message is aborted")
	flags.DurationVar(&c.cfg.RxTimeout, "rx-timeout", c.cfg.RxTimeout, "idle time before a partial inbound message is dropped")
	flags.BoolVar(&c.cfg.AckWrites, "ack-writes", c.cfg.AckWrites, "request link-level write confirmations")

	flags.DurationVar(&c.cfg.PollVCSEC, "poll-vcsec", c.cfg.PollVCSEC, "vehicle status poll interval (0 disables polling)")
	flags.DurationVar(&c.cfg.PollData, "poll-data", c.cfg.PollData, "charge data poll interval while awake")
	flags.DurationVar(&c.cfg.PollActive, "poll-active", c.cfg.PollActive, "charge data poll interval while a user is present")

	flags.StringVar(&c.cfg.MetricsAddr, "metrics-addr", c.cfg.MetricsAddr, "serve Prometheus metrics on this address")
	flags.DurationVar(&c.cfg.ShutdownTimeout, "shutdown-timeout", c.cfg.ShutdownTimeout, "maximum time to wait for a clean stop")
	if err := flags.MarkHidden("tick"); err != nil {
		c.log.Info().Err(err).Msg("failed to hide tick flag")
	}

	root.AddCommand(
		newSendCommand(c),
		newWatchCommand(c),
		newActionsCommand(),
		newSessionsCommand(c),
	)

	if err := root.Execute(); err != nil {
		c.log.Error().Err(err).Msg("keylink")
		os.Exit(1)
	}
}

// load resolves configuration: flags > env > file > defaults.
func (c *cli) load(cmd *cobra.Command) error {
	cfgFile := c.cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(&c.cfg, fc, changed); err != nil {
			return err
		}
		c.cfgFile = cfgFile
	}

	// Environment overrides the file but not flags.
	if err := cliconfig.ApplyEnvConfig(&c.cfg, changed); err != nil {
		return err
	}

	if err := c.cfg.Validate(); err != nil {
		return err
	}
	c.log = cliconfig.Logger(c.cfg.LogLevel)
	c.log.Debug().Interface("config", c.cfg).Msg("configuration")
	return nil
}

// logger returns the library logger for the given component.
func (c *cli) logger(component string) keylink.Logger {
	return logAdapter.NewZerologAdapterWithLogger(c.log).With(component)
}

// start creates and starts a client on link. The returned stop function
// stops the client and the metrics server.
func (c *cli) start(ctx context.Context, link keylink.Link, opts ...keylink.Option) (*keylink.Client, func(), error) {
	opts = append([]keylink.Option{
		keylink.WithLink(link),
		keylink.WithLogger(c.logger("client")),
	}, opts...)

	if c.cfgFile != "" {
		opts = append(opts, configwatcher.WithConfigWatcher(configwatcher.Config{Path: c.cfgFile}))
	}

	var srv *http.Server
	if c.cfg.MetricsAddr != "" {
		emitter := metrics.NewEmitter()
		opts = append(opts, keylink.WithEmitter(emitter))
		srv = &http.Server{
			Addr:              c.cfg.MetricsAddr,
			Handler:           emitter.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.log.Error().Err(err).Str("addr", c.cfg.MetricsAddr).Msg("metrics server failed")
			}
		}()
		c.log.Info().Str("addr", c.cfg.MetricsAddr).Msg("serving metrics")
	}

	closeMetrics := func() {
		if srv == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}

	client, err := keylink.New(c.cfg.Keylink(), opts...)
	if err != nil {
		closeMetrics()
		return nil, nil, fmt.Errorf("create client: %w", err)
	}
	if err := client.Start(ctx); err != nil {
		closeMetrics()
		return nil, nil, fmt.Errorf("start client: %w", err)
	}

	stop := func() {
		if err := client.Stop(); err != nil && !errors.Is(err, keylink.ErrNotRunning) {
			c.log.Error().Err(err).Msg("stop client")
		}
		closeMetrics()
	}
	return client, stop, nil
}

// vehicleKeyPath is where the simulator keeps its key so that persisted
// sessions stay meaningful across runs.
func (c *cli) vehicleKeyPath() string {
	if c.cfg.StateDir == "" {
		return ""
	}
	return filepath.Join(c.cfg.StateDir, "vehicle.key")
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
