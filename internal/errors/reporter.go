package errors

import (
	"reflect"
	"sync"
)

// MaxTracked is how many recently delivered errors a Reporter remembers for
// deduplication. Older entries are forgotten in delivery order.
const MaxTracked = 256

// Reporter delivers terminal errors to subscribers. The same error value is
// delivered at most once while it is among the last MaxTracked deliveries,
// no matter how many code paths report it.
type Reporter struct {
	mu          sync.Mutex
	subscribers []func(error)
	delivered   map[error]struct{}
	order       []error
	count       int
}

// NewReporter creates a reporter
func NewReporter() *Reporter {
	return &Reporter{delivered: make(map[error]struct{})}
}

// Subscribe adds fn to the subscribers
func (r *Reporter) Subscribe(fn func(error)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

// Report delivers err to every subscriber and returns true, or returns false
// if err is nil or was recently delivered. Subscribers run on the caller's goroutine.
func (r *Reporter) Report(err error) bool {
	if err == nil {
		return false
	}

	r.mu.Lock()
	if reflect.TypeOf(err).Comparable() {
		if _, seen := r.delivered[err]; seen {
			r.mu.Unlock()
			return false
		}
		r.track(err)
	}
	r.count++
	subs := append(([]func(error))(nil), r.subscribers...)
	r.mu.Unlock()

	for _, fn := range subs {
		fn(err)
	}
	return true
}

// track records err and evicts the oldest entry past MaxTracked. Caller holds r.mu.
func (r *Reporter) track(err error) {
	r.delivered[err] = struct{}{}
	r.order = append(r.order, err)
	if len(r.order) > MaxTracked {
		oldest := r.order[0]
		r.order[0] = nil
		r.order = r.order[1:]
		delete(r.delivered, oldest)
	}
}

// Delivered returns how many errors were delivered
func (r *Reporter) Delivered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Tracked returns how many delivered errors are remembered for deduplication
func (r *Reporter) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.delivered)
}
