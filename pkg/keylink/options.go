package keylink

import (
	"context"

	"github.com/bft-labs/keylink/internal/ports"
	"github.com/bft-labs/keylink/pkg/log"
)

// Link is the radio connection to the vehicle. WriteUnit must not block;
// its outcome and every received unit are reported to the sink given to
// Run, which the client calls on Start and cancels on Stop.
type Link interface {
	ports.Link
	Run(ctx context.Context, sink LinkEventSink) error
}

// Option configures optional behavior of a Client.
type Option func(*options)

// options holds the optional configuration for a Client.
type options struct {
	link         Link
	logger       Logger
	eventHandler EventHandler
	statusSink   StatusSink
	pollHandler  CompletionFunc
	emitter      EventEmitter
	sessionStore SessionStore
	clock        ports.Clock
	plugins      []Plugin
}

func defaultOptions() options {
	return options{
		logger: log.NewNoop(),
		clock:  ports.SystemClock{},
	}
}

// WithLink sets the link to the vehicle. It is required.
func WithLink(link Link) Option {
	return func(o *options) {
		o.link = link
	}
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithEventHandler sets a handler for lifecycle and command events.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}

// WithStatusSink receives unsolicited vehicle status pushes.
func WithStatusSink(sink StatusSink) Option {
	return func(o *options) {
		o.statusSink = sink
	}
}

// WithPollHandler receives the result of every poll enabled by Config.Poll.
func WithPollHandler(fn CompletionFunc) Option {
	return func(o *options) {
		o.pollHandler = fn
	}
}

// WithEmitter sets an observer for command and session activity, such as
// the Prometheus emitter.
func WithEmitter(emitter EventEmitter) Option {
	return func(o *options) {
		o.emitter = emitter
	}
}

// WithSessionStore replaces the store selected by Config.SessionStore.
// The client does not close it.
func WithSessionStore(store SessionStore) Option {
	return func(o *options) {
		o.sessionStore = store
	}
}

// WithPlugin registers a plugin to be initialized when the client starts.
func WithPlugin(plugin Plugin) Option {
	return func(o *options) {
		o.plugins = append(o.plugins, plugin)
	}
}
