package session

import "sync"

// Token is an explicit cancellation handle for one export. Cancel may be
// called from any goroutine, any number of times.
type Token struct {
	once sync.Once
	done chan struct{}
}

// NewToken creates an uncancelled token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel requests the export stop. Idempotent.
func (t *Token) Cancel() {
	t.once.Do(func() { close(t.done) })
}

// Cancelled reports whether Cancel has been called.
func (t *Token) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed on cancellation.
func (t *Token) Done() <-chan struct{} {
	return t.done
}
