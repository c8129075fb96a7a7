// Package keylink provides an embeddable client that issues authenticated
// commands to a vehicle over a slow, lossy, message-size-limited link.
//
// The client keeps one cryptographic session per vehicle domain, wakes the
// vehicle when a command needs it, splits every message into small
// transport units and retries until the vehicle answers or the command
// runs out of time.
//
// # Basic Usage
//
//	client, err := keylink.New(keylink.Config{StateDir: "/var/lib/keylink"},
//	    keylink.WithLink(radio),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := client.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Stop()
//
//	p, _ := keylink.ParsePayload("setChargingLimit", "80")
//	res, err := client.Send(ctx, p, "cli")
//
// # Configuration
//
// A zero [Config] is valid: it keeps the controller key and sessions in
// memory. Set StateDir to persist them. Timing and transport limits default
// to [DefaultTiming] and [DefaultTransportConfig] and can be changed at
// runtime with [Client.UpdateTiming].
//
// # Results
//
// Every accepted command produces exactly one [Result]. A failed result
// carries a [*CommandError]; use errors.Is with ErrRetryExhausted,
// ErrCommandTimeout, ErrKeyNotPaired, ErrVehicleRejected or ErrCanceled to
// tell failures apart.
//
// # Lifecycle States
//
// A Client can be in one of five states: [StateStopped], [StateStarting],
// [StateRunning], [StateStopping], or [StateCrashed]. Use [Client.Status] to
// query the current state.
//
// # Plugins
//
//	import "github.com/bft-labs/keylink/plugins/configwatcher"
//
//	client, err := keylink.New(cfg,
//	    keylink.WithLink(radio),
//	    configwatcher.WithConfigWatcher(configwatcher.Config{Path: path}),
//	)
package keylink
