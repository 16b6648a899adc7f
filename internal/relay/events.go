package relay

import (
	"sync"

	"github.com/danmuck/lanrelay/internal/discovery"
)

// EventKind identifies a relay lifecycle notification.
type EventKind int

const (
	// EventConnected fires once when a client dial completes.
	EventConnected EventKind = iota
	// EventDisconnected fires when an established session drops.
	EventDisconnected
	// EventDirectoryChanged fires when discovery records a host for the first time.
	EventDirectoryChanged
	// EventClientAccepted fires when the server accepts a session connection.
	EventClientAccepted
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventDirectoryChanged:
		return "directory_changed"
	case EventClientAccepted:
		return "client_accepted"
	default:
		return "unknown"
	}
}

// Event carries one lifecycle notification. Remote and Handle describe
// connection events; Entry is set for directory changes.
type Event struct {
	Kind   EventKind
	Remote string
	Handle string
	Entry  discovery.Entry
}

const eventBuffer = 16

// Notifier fans lifecycle events out to subscribers. Publish never blocks:
// a subscriber whose channel is full misses the event.
type Notifier struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan Event)}
}

// Subscribe returns a buffered event channel and its cancel func. Cancel is
// idempotent and closes the channel.
func (n *Notifier) Subscribe() (<-chan Event, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.next
	n.next++
	ch := make(chan Event, eventBuffer)
	n.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (n *Notifier) Publish(e Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
