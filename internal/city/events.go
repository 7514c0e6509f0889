package city

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type EventKind string

const (
	UpdateBegan      EventKind = "updateBegan"
	UpdateGotNewData EventKind = "updateGotNewData"
	UpdateSucceeded  EventKind = "updateSucceeded"
	UpdateFailed     EventKind = "updateFailed"
)

// Payload keys
const (
	KeyDataChanged  = "dataChanged"
	KeySaveErrors   = "saveErrors"
	KeyFailureError = "failureError"
	KeyChanged      = "changed"
	KeyRejected     = "rejected"
	KeyRetired      = "retired"
)

// Event is one lifecycle notification. Payload carries the keyed values;
// Report is the full cycle report for succeeded and failed events.
type Event struct {
	Kind    EventKind
	City    string
	Time    time.Time
	Payload map[string]interface{}
	Report  *CycleReport
}

type Handler func(Event)

// notifier is the city's own subscriber list
type notifier struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

func newNotifier() *notifier {
	return &notifier{handlers: make(map[int]Handler)}
}

func (n *notifier) subscribe(h Handler) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.handlers[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.handlers, id)
			n.mu.Unlock()
		})
	}
}

// emit calls every handler in subscription order, outside the lock so
// handlers may unsubscribe.
func (n *notifier) emit(e Event) {
	n.mu.RLock()
	ids := make([]int, 0, len(n.handlers))
	for id := range n.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, n.handlers[id])
	}
	n.mu.RUnlock()

	for _, h := range handlers {
		n.dispatch(h, e)
	}
}

// dispatch runs one handler; a panicking handler is logged and skipped.
func (n *notifier) dispatch(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("event", string(e.Kind)).Str("city", e.City).Interface("panic", r).Msg("Event handler panicked")
		}
	}()
	h(e)
}

func (n *notifier) count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.handlers)
}
