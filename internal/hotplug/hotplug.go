/* USB virtualization bridge - host side
 *
 * Hot-plug event queue: converts the native backend's asynchronous,
 * process-wide hotplug callback into a guest-polled event stream.
 *
 * A process-wide queue is correct here because the native USB
 * library's hotplug registration is itself process-wide: its
 * callback knows nothing about bridge instances and cannot carry
 * per-instance Go state through a C void* userdata.
 */

package hotplug

import (
	"sync"

	"github.com/usbbridge/hostbridge/internal/policy"
)

// Event enumerates hot-plug notification kinds.
type Event int

// Event values.
const (
	Arrived Event = iota
	Left
)

// String renders the event kind for logging.
func (e Event) String() string {
	if e == Arrived {
		return "arrived"
	}
	return "left"
}

// Entry is one queued hot-plug notification. Device is the native
// device reference the producer already incremented; ownership
// passes to whoever calls Drain and it is the caller's job to either
// insert it into a resource table or release it.
type Entry struct {
	Event    Event
	Identity policy.Identity
	Location string
	Device   any
}

// Queue is a mutex-guarded FIFO. Enqueue order is preserved; Drain
// removes and returns every currently queued entry as a single
// batch, which is the queue's only consumption primitive - there is
// no peek, because ownership of Device transfers on Drain, not on
// inspection.
type Queue struct {
	mu    sync.Mutex
	items []Entry
}

// NewQueue creates an empty queue. Most callers want Global instead;
// NewQueue exists for tests that need an isolated queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends e to the queue. Called from the native backend's
// callback, which may run on a dedicated event-pump thread; Enqueue
// itself must not block beyond the mutex, since the pump thread must
// never block.
func (q *Queue) Enqueue(e Entry) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
}

// Drain removes and returns every entry currently queued, in
// arrival order, leaving the queue empty. If the queue is empty,
// Drain returns nil - poll_events never fails, it just may return
// no events.
func (q *Queue) Drain() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}

	items := q.items
	q.items = nil
	return items
}

// Len reports the number of entries currently queued. Diagnostic
// only; never used to gate Drain (Drain must remain atomic).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

var global = NewQueue()

// Global returns the process-wide hot-plug queue shared by every
// bridge instance and the native backend's single hotplug
// registration.
func Global() *Queue {
	return global
}
