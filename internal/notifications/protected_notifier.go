package notifications

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

type ProtectedNotifierConfig struct {
	Timeout          time.Duration // hard timeout per send
	FailureThreshold int           // consecutive failures to open circuit
	Cooldown         time.Duration // how long to stay open before half-open
	HalfOpenMaxCalls int           // allow N trial calls in half-open
}

const (
	circuitClosed   = "closed"
	circuitOpen     = "open"
	circuitHalfOpen = "half_open"
)

// ProtectedNotifier bounds every send with a timeout and stops calling a
// failing transport until the cooldown passes.
type ProtectedNotifier struct {
	inner Notifier
	cfg   ProtectedNotifierConfig
	now   func() time.Time
	mu    sync.Mutex

	state string

	consecutiveFailures int
	openedAt            time.Time
	halfOpenInFlight    int
}

func NewProtectedNotifier(inner Notifier, cfg ProtectedNotifierConfig) *ProtectedNotifier {
	//defaults
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}

	return &ProtectedNotifier{
		inner: inner,
		cfg:   cfg,
		now:   time.Now,
		state: circuitClosed,
	}
}

func (n *ProtectedNotifier) SendVerification(ctx context.Context, msg VerificationMessage) (Delivery, error) {
	return n.guard(ctx, func(ctx context.Context) (Delivery, error) {
		return n.inner.SendVerification(ctx, msg)
	})
}

func (n *ProtectedNotifier) SendPinCode(ctx context.Context, msg PinMessage) (Delivery, error) {
	return n.guard(ctx, func(ctx context.Context) (Delivery, error) {
		return n.inner.SendPinCode(ctx, msg)
	})
}

// guard runs one send through the breaker. Both message kinds share the
// circuit since they share the transport.
func (n *ProtectedNotifier) guard(ctx context.Context, send func(ctx context.Context) (Delivery, error)) (Delivery, error) {
	// fail-fast gate
	if !n.allowRequest() {
		return Delivery{Reason: ReasonCircuitOpen}, ErrCircuitOpen
	}

	sendCtx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	d, err := send(sendCtx)

	n.afterRequest(err)

	if err != nil && d.Reason == "" {
		d.Reason = ReasonSendFailed
	}
	return d, err
}

// State is exposed for readiness reporting.
func (n *ProtectedNotifier) State() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *ProtectedNotifier) allowRequest() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.state {
	case circuitClosed:
		return true
	case circuitOpen:
		// cooldown has passed? move to half open
		if n.now().Sub(n.openedAt) >= n.cfg.Cooldown {
			n.state = circuitHalfOpen
			n.halfOpenInFlight = 1
			return true
		}
		return false
	case circuitHalfOpen:
		if n.halfOpenInFlight >= n.cfg.HalfOpenMaxCalls {
			return false
		}
		n.halfOpenInFlight++
		return true
	default:
		return true
	}
}

func (n *ProtectedNotifier) afterRequest(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	// half-open call just finished
	if n.state == circuitHalfOpen && n.halfOpenInFlight > 0 {
		n.halfOpenInFlight--
	}

	if err == nil {
		n.consecutiveFailures = 0
		n.state = circuitClosed
		return
	}

	n.consecutiveFailures++

	// if half-open failed, reopen immediately
	if n.state == circuitHalfOpen {
		n.state = circuitOpen
		n.openedAt = n.now()
		return
	}

	if n.consecutiveFailures >= n.cfg.FailureThreshold {
		n.state = circuitOpen
		n.openedAt = n.now()
	}
}
