// Package cancellation provides a cooperative cancellation primitive.
//
// A Source owns the right to cancel; its Token is handed to the code doing the work,
// which polls IsCancellationRequested or subscribes with OnCancellationRequested.
// Cancellation only signals intent. Nothing is interrupted.
package cancellation

import (
	"context"
	"sync"

	"github.com/guseggert/rpcconn/event"
)

// Token is the observing half of a cancellation pair.
type Token interface {
	IsCancellationRequested() bool
	// OnCancellationRequested registers fn to run once when cancellation is requested.
	// If cancellation was already requested, fn runs immediately.
	OnCancellationRequested(fn func()) event.Disposable
	// Done is closed when cancellation is requested.
	Done() <-chan struct{}
}

// None is a token that is never cancelled.
var None Token = staticToken{done: make(chan struct{})}

// Cancelled is a token that is already cancelled.
var Cancelled Token = func() Token {
	ch := make(chan struct{})
	close(ch)
	return staticToken{cancelled: true, done: ch}
}()

type staticToken struct {
	cancelled bool
	done      chan struct{}
}

func (t staticToken) IsCancellationRequested() bool { return t.cancelled }

func (t staticToken) OnCancellationRequested(fn func()) event.Disposable {
	if t.cancelled && fn != nil {
		fn()
	}
	return event.Noop
}

func (t staticToken) Done() <-chan struct{} { return t.done }

// Source creates and cancels a Token.
type Source struct {
	mut       sync.Mutex
	token     *token
	cancelled bool
	disposed  bool
}

// NewSource returns a source whose token has not been cancelled.
func NewSource() *Source {
	return &Source{}
}

// Token returns the token controlled by this source.
func (s *Source) Token() Token {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.token == nil {
		if s.disposed && !s.cancelled {
			return None
		}
		s.token = newToken()
		if s.cancelled {
			s.token.cancel()
		}
	}
	return s.token
}

// Cancel requests cancellation. Only the first call has an effect.
func (s *Source) Cancel() {
	s.mut.Lock()
	if s.cancelled {
		s.mut.Unlock()
		return
	}
	s.cancelled = true
	t := s.token
	s.mut.Unlock()

	if t != nil {
		t.cancel()
	}
}

// Dispose releases subscribers without cancelling.
func (s *Source) Dispose() {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.disposed = true
	if s.token != nil {
		s.token.emitter.Dispose()
	}
}

type token struct {
	mut       sync.Mutex
	cancelled bool
	done      chan struct{}
	emitter   event.Emitter[struct{}]
}

func newToken() *token {
	return &token{done: make(chan struct{})}
}

func (t *token) cancel() {
	t.mut.Lock()
	if t.cancelled {
		t.mut.Unlock()
		return
	}
	t.cancelled = true
	close(t.done)
	t.mut.Unlock()

	t.emitter.Fire(struct{}{})
	t.emitter.Dispose()
}

func (t *token) IsCancellationRequested() bool {
	t.mut.Lock()
	defer t.mut.Unlock()
	return t.cancelled
}

func (t *token) OnCancellationRequested(fn func()) event.Disposable {
	if fn == nil {
		return event.Noop
	}
	t.mut.Lock()
	if t.cancelled {
		t.mut.Unlock()
		fn()
		return event.Noop
	}
	// subscribe while holding the lock so a concurrent cancel cannot slip between the check and the registration
	d := t.emitter.Subscribe(func(struct{}) { fn() })
	t.mut.Unlock()
	return d
}

func (t *token) Done() <-chan struct{} { return t.done }

// WithContext returns a context that is cancelled when either parent is done or tok is cancelled.
func WithContext(parent context.Context, tok Token) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	if tok == nil || tok == None {
		return ctx, cancel
	}
	d := tok.OnCancellationRequested(cancel)
	return ctx, func() {
		d.Dispose()
		cancel()
	}
}

// FromContext returns a token that is cancelled when ctx is done.
// The returned stop function releases the watcher goroutine.
func FromContext(ctx context.Context) (Token, func()) {
	if ctx.Done() == nil {
		return None, func() {}
	}
	src := NewSource()
	stop := make(chan struct{})
	var once sync.Once
	go func() {
		select {
		case <-ctx.Done():
			src.Cancel()
		case <-stop:
		}
	}()
	return src.Token(), func() { once.Do(func() { close(stop) }) }
}
