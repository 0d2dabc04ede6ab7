package memstore

// ring keeps the most recent max items in insertion order. The backing slice
// grows to 2*max before the retained tail is compacted to the front, so push
// is amortized O(1).
type ring[T any] struct {
	items []T
	max   int
}

func newRing[T any](max int) *ring[T] {
	return &ring[T]{
		items: make([]T, 0, max),
		max:   max,
	}
}

func (r *ring[T]) push(v T) {
	r.items = append(r.items, v)
	if len(r.items) >= 2*r.max {
		n := copy(r.items, r.items[len(r.items)-r.max:])
		clear(r.items[n:])
		r.items = r.items[:n]
	}
}

// view returns the retained items, oldest first. Callers must not retain it
// across a push.
func (r *ring[T]) view() []T {
	if len(r.items) > r.max {
		return r.items[len(r.items)-r.max:]
	}
	return r.items
}

func (r *ring[T]) len() int { return len(r.view()) }

// lastMatching returns up to limit of the most recent items accepted by match,
// in insertion order.
func lastMatching[T any](items []T, limit int, match func(T) bool) []T {
	var out []T
	for _, item := range items {
		if match(item) {
			out = append(out, item)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
