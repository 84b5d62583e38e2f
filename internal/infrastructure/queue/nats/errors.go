package nats

import (
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/equity-lens/internal/core/domain"
	"github.com/kirillkom/equity-lens/internal/infrastructure/resilience"
)

// connectionErrors mean the broker is unreachable or saturated; the trigger
// or event is worth sending again.
var connectionErrors = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrConnectionDraining,
	nats.ErrConnectionReconnecting,
	nats.ErrDisconnected,
	nats.ErrNoResponders,
	nats.ErrSlowConsumer,
}

// payloadErrors are the caller's fault and must not open the breaker.
var payloadErrors = []error{
	nats.ErrBadSubject,
	nats.ErrMaxPayload,
	nats.ErrInvalidMsg,
}

func classifyNATSError(err error) resilience.ErrorClassification {
	if class, ok := resilience.ClassifyLifecycle(err); ok {
		return class
	}
	if matchesAny(err, connectionErrors) {
		return resilience.Transient
	}
	if matchesAny(err, payloadErrors) {
		return resilience.Ignored
	}
	return resilience.Permanent
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// asTemporary marks broker outages with domain.ErrTemporary so the HTTP layer
// answers 503 instead of 500.
func asTemporary(err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifyNATSError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, "nats", err)
	}
	return err
}
