package broker

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Listener receives human-readable progress and error notifications.
type Listener func(message string)

type listenerEntry struct {
	id int
	fn Listener
}

// Notifier broadcasts notifications to its listeners in registration order.
type Notifier struct {
	mu        sync.Mutex
	nextID    int
	listeners []listenerEntry
}

// NewNotifier creates a notifier with an initial listener set. Nil listeners are skipped.
func NewNotifier(listeners ...Listener) *Notifier {
	n := &Notifier{}
	for _, l := range listeners {
		n.Register(l)
	}
	return n
}

// Register adds a listener and returns a func that removes it again.
func (n *Notifier) Register(l Listener) (unregister func()) {
	if l == nil {
		return func() {}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	n.listeners = append(n.listeners, listenerEntry{id: id, fn: l})
	return func() { n.unregister(id) }
}

func (n *Notifier) unregister(id int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, e := range n.listeners {
		if e.id == id {
			n.listeners = append(n.listeners[:i:i], n.listeners[i+1:]...)
			return
		}
	}
}

// Notify sends message to every registered listener.
func (n *Notifier) Notify(message string) {
	n.mu.Lock()
	snapshot := make([]listenerEntry, len(n.listeners))
	copy(snapshot, n.listeners)
	n.mu.Unlock()

	logrus.Debugf("notify: %s", message)
	for _, e := range snapshot {
		e.fn(message)
	}
}

// Notifyf formats and sends a message.
func (n *Notifier) Notifyf(format string, args ...interface{}) {
	n.Notify(fmt.Sprintf(format, args...))
}

// Len returns the number of registered listeners.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners)
}
