package app

import (
	"context"
	"fmt"

	"github.com/bft-labs/keylink/internal/domain"
	"github.com/bft-labs/keylink/internal/ports"
	"github.com/bft-labs/keylink/internal/session"
)

// Router dispatches decoded messages to the session manager, the status
// sink, or the head command.
type Router struct {
	sessions *session.Manager
	queue    *Queue
	status   ports.StatusSink
	logger   ports.Logger
}

// NewRouter creates a router. status may be nil.
func NewRouter(sessions *session.Manager, queue *Queue, status ports.StatusSink, logger ports.Logger) *Router {
	return &Router{
		sessions: sessions,
		queue:    queue,
		status:   status,
		logger:   logger,
	}
}

// Route handles one decoded message. Nothing it receives is an error for the
// caller: unmatched messages are logged and dropped.
func (r *Router) Route(ctx context.Context, env domain.Envelope) {
	d := env.From
	if !d.Valid() {
		r.logger.Warn("dropping message from unknown domain", ports.Int("domain", int(d)))
		return
	}
	if env.Vehicle != nil {
		r.queue.ObserveVehicle(*env.Vehicle)
	}

	rejected := env.Status == domain.OperationError && env.Fault.InvalidatesSession()

	switch {
	case env.Kind == domain.EnvelopeSessionInfo:
		// Session info attached to a rejection carries the vehicle's
		// authoritative counter and epoch; adopting it refreshes the session
		// and the rejected command is resent.
		if err := r.sessions.HandleSessionResponse(ctx, d, env.SessionInfo); err != nil {
			// Unusable session info attached to a command reply still
			// answers that command.
			if !r.queue.SignalSessionFailure(d, err) {
				r.queue.SignalFault(d, err)
			}
			return
		}
		if rejected {
			r.queue.SignalFault(d, fmt.Errorf("%w: %s", domain.ErrStaleCounter, env.Fault))
		}
		return

	case rejected:
		r.sessions.Invalidate(ctx, d, env.Fault.String())
		r.queue.SignalFault(d, fmt.Errorf("%w: %s", domain.ErrStaleCounter, env.Fault))
		return

	case env.Unsolicited():
		r.publish(d, env)
		return
	}

	if !r.queue.AcceptResponse(env) {
		r.logger.Debug("response matches no waiting command, dropped",
			ports.Stringer("domain", d),
			ports.Hex("request_id", env.RequestID),
		)
		return
	}
	if env.Vehicle != nil {
		r.publish(d, env)
	}
}

func (r *Router) publish(d domain.Domain, env domain.Envelope) {
	if r.status == nil {
		r.logger.Debug("status push without sink", ports.Stringer("domain", d))
		return
	}
	r.status.OnStatus(d, env.Vehicle, env.Body)
}
