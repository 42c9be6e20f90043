package conn

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/guseggert/rpcconn/message"
)

// Pending is an outgoing request awaiting its response.
type Pending struct {
	ID      message.ID
	Method  string
	Created time.Time

	once   sync.Once
	done   chan struct{}
	result json.RawMessage
	err    error

	mut      sync.Mutex
	onSettle []func()
}

func newPending(method string) *Pending {
	return &Pending{
		Method:  method,
		Created: time.Now(),
		done:    make(chan struct{}),
	}
}

// Done is closed once the request has settled.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Result returns the raw result or the rejection. A peer error is a *message.ResponseError.
// Before the request settles it returns ErrNotSettled.
func (p *Pending) Result() (json.RawMessage, error) {
	select {
	case <-p.done:
		return p.result, p.err
	default:
		return nil, ErrNotSettled
	}
}

// Wait blocks until the request settles or ctx is done. Giving up on ctx does not cancel
// the request; use a cancellation token for that.
func (p *Pending) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pending) resolve(result json.RawMessage) { p.settle(result, nil) }

func (p *Pending) reject(err error) { p.settle(nil, err) }

func (p *Pending) settle(result json.RawMessage, err error) {
	p.once.Do(func() {
		p.result, p.err = result, err
		close(p.done)

		p.mut.Lock()
		fns := p.onSettle
		p.onSettle = nil
		p.mut.Unlock()
		for _, fn := range fns {
			fn()
		}
	})
}

// afterSettle runs fn once the request settles, immediately if it already has.
func (p *Pending) afterSettle(fn func()) {
	p.mut.Lock()
	select {
	case <-p.done:
		p.mut.Unlock()
		fn()
		return
	default:
	}
	p.onSettle = append(p.onSettle, fn)
	p.mut.Unlock()
}
