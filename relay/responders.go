package relay

import (
	"time"

	"chat-relay/errors"
)

// Reserved names of the always-registered synthetic responders.
const (
	EchoName        = "Echo"
	EchoX2Name      = "EchoX2"
	EchoDelayedName = "EchoDelayed"
)

// DefaultEchoDelay is the interval the delayed responder waits before
// echoing back.
const DefaultEchoDelay = 5 * time.Second

// SyntheticNames lists the reserved names appended to every roster.
func SyntheticNames() []string {
	return []string{EchoName, EchoX2Name, EchoDelayedName}
}

// EchoResponder echoes a message back to its sender once, immediately,
// on the calling goroutine.
type EchoResponder struct {
	registry *Registry
}

func NewEchoResponder(registry *Registry) *EchoResponder {
	return &EchoResponder{registry: registry}
}

func (e *EchoResponder) Name() string { return EchoName }

func (e *EchoResponder) UserID() (int64, bool) { return 0, false }

func (e *EchoResponder) Deliver(sender, text string) error {
	return echoBack(e.registry, EchoName, sender, text, 1)
}

// DoubleEchoResponder echoes a message back to its sender twice.
type DoubleEchoResponder struct {
	registry *Registry
}

func NewDoubleEchoResponder(registry *Registry) *DoubleEchoResponder {
	return &DoubleEchoResponder{registry: registry}
}

func (e *DoubleEchoResponder) Name() string { return EchoX2Name }

func (e *DoubleEchoResponder) UserID() (int64, bool) { return 0, false }

func (e *DoubleEchoResponder) Deliver(sender, text string) error {
	return echoBack(e.registry, EchoX2Name, sender, text, 2)
}

// DelayedEchoResponder echoes a message back to its sender once, after a
// fixed delay, on an independent timer goroutine. The scheduled send is
// fire-and-forget: it is not cancelled when the sender disconnects, and a
// failed send is dropped.
type DelayedEchoResponder struct {
	registry *Registry
	delay    time.Duration
}

func NewDelayedEchoResponder(registry *Registry, delay time.Duration) *DelayedEchoResponder {
	if delay <= 0 {
		delay = DefaultEchoDelay
	}
	return &DelayedEchoResponder{registry: registry, delay: delay}
}

func (e *DelayedEchoResponder) Name() string { return EchoDelayedName }

func (e *DelayedEchoResponder) UserID() (int64, bool) { return 0, false }

func (e *DelayedEchoResponder) Deliver(sender, text string) error {
	time.AfterFunc(e.delay, func() {
		_ = echoBack(e.registry, EchoDelayedName, sender, text, 1)
	})
	return nil
}

// echoBack sends text back to the peer named sender, labeled as coming from
// the responder, count times. Stops at the first failed send.
func echoBack(registry *Registry, responder, sender, text string, count int) error {
	peer, ok := registry.FindByName(sender)
	if !ok {
		return errors.ErrNotConnected
	}
	for i := 0; i < count; i++ {
		if err := peer.Deliver(responder, text); err != nil {
			return err
		}
	}
	return nil
}
