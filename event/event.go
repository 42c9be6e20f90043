// Package event provides an ordered observer registration primitive.
//
// An Emitter keeps its listeners in registration order and invokes them synchronously
// when fired. Registration returns a Disposable that removes the listener again.
package event

import "sync"

// Disposable releases a registration.
type Disposable interface {
	Dispose()
}

// DisposableFunc adapts a function to Disposable.
type DisposableFunc func()

func (f DisposableFunc) Dispose() { f() }

// Noop is a Disposable that does nothing.
var Noop Disposable = DisposableFunc(func() {})

// Event registers a listener and returns its registration.
type Event[T any] func(listener func(T)) Disposable

type listener[T any] struct {
	id int
	fn func(T)
}

// Emitter fans a value out to its listeners in registration order.
// The zero value is ready to use.
type Emitter[T any] struct {
	mut       sync.Mutex
	nextID    int
	listeners []listener[T]
	disposed  bool
}

// Event returns the registration function for this emitter.
func (e *Emitter[T]) Event() Event[T] {
	return e.Subscribe
}

// Subscribe adds a listener. Listeners added after Dispose are ignored.
func (e *Emitter[T]) Subscribe(fn func(T)) Disposable {
	e.mut.Lock()
	defer e.mut.Unlock()
	if e.disposed || fn == nil {
		return Noop
	}
	id := e.nextID
	e.nextID++
	e.listeners = append(e.listeners, listener[T]{id: id, fn: fn})

	var once sync.Once
	return DisposableFunc(func() {
		once.Do(func() { e.remove(id) })
	})
}

func (e *Emitter[T]) remove(id int) {
	e.mut.Lock()
	defer e.mut.Unlock()
	for i, l := range e.listeners {
		if l.id == id {
			e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
			return
		}
	}
}

// Fire calls every listener with v. The listener list is snapshotted first,
// so listeners may subscribe or dispose while being called.
func (e *Emitter[T]) Fire(v T) {
	e.mut.Lock()
	snapshot := make([]listener[T], len(e.listeners))
	copy(snapshot, e.listeners)
	e.mut.Unlock()

	for _, l := range snapshot {
		l.fn(v)
	}
}

// Len returns the number of registered listeners.
func (e *Emitter[T]) Len() int {
	e.mut.Lock()
	defer e.mut.Unlock()
	return len(e.listeners)
}

// Dispose drops all listeners and rejects future registrations.
func (e *Emitter[T]) Dispose() {
	e.mut.Lock()
	defer e.mut.Unlock()
	e.disposed = true
	e.listeners = nil
}
