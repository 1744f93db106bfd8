package session

import (
	"context"
	"sync"
)

// InterruptToken is the per-session cancellation handle for the current
// reply. Arming it at the start of a turn yields that turn's context; raising
// it cancels the Brain task and the TTS worker while leaving the transport
// writer untouched.
type InterruptToken struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

// Arm derives a fresh turn context from parent, cancelling any previously
// armed turn first.
func (t *InterruptToken) Arm(parent context.Context) context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	t.cancel = cancel
	return ctx
}

// Cancel raises the token, cancelling the armed turn context. Idempotent and
// safe to call with no turn armed.
func (t *InterruptToken) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}
