package notify

import "sync"

// Hub fans a value out to a dynamic set of listeners. Listeners are called
// synchronously, in registration order, outside the hub lock.
type Hub[T any] struct {
	mu        sync.Mutex
	next      int
	order     []int
	listeners map[int]func(T)
}

// Subscribe registers fn and returns a function that removes it.
// The returned cancel func is safe to call more than once.
func (h *Hub[T]) Subscribe(fn func(T)) (cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.listeners == nil {
		h.listeners = make(map[int]func(T))
	}
	id := h.next
	h.next++
	h.listeners[id] = fn
	h.order = append(h.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(id) })
	}
}

func (h *Hub[T]) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.listeners, id)
	for i, v := range h.order {
		if v == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Emit delivers v to every listener registered at the time of the call.
func (h *Hub[T]) Emit(v T) {
	h.mu.Lock()
	fns := make([]func(T), 0, len(h.order))
	for _, id := range h.order {
		fns = append(fns, h.listeners[id])
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the number of registered listeners
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.order)
}
