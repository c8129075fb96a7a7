package ports

import (
	"time"

	"github.com/bft-labs/keylink/internal/domain"
)

// EventEmitter observes engine activity. internal/adapters/metrics exports it
// to Prometheus; a nil emitter is replaced with a no-op.
type EventEmitter interface {
	OnCommandCompleted(d domain.Domain, action domain.Action, attempts int, elapsed time.Duration)
	OnCommandFailed(d domain.Domain, action domain.Action, reason domain.FailureReason)
	OnCommandRetry(d domain.Domain, state domain.CommandState)
	OnSessionRefreshed(d domain.Domain)
	OnSessionInvalidated(d domain.Domain)
	OnQueueDepth(depth int)
	OnUnitRetry()
}

// NoopEmitter discards every event.
type NoopEmitter struct{}

func (NoopEmitter) OnCommandCompleted(domain.Domain, domain.Action, int, time.Duration) {}
func (NoopEmitter) OnCommandFailed(domain.Domain, domain.Action, domain.FailureReason)  {}
func (NoopEmitter) OnCommandRetry(domain.Domain, domain.CommandState)                   {}
func (NoopEmitter) OnSessionRefreshed(domain.Domain)                                    {}
func (NoopEmitter) OnSessionInvalidated(domain.Domain)                                  {}
func (NoopEmitter) OnQueueDepth(int)                                                    {}
func (NoopEmitter) OnUnitRetry()                                                        {}
