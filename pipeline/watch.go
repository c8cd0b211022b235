package pipeline

import (
	"context"
	"sync"
)

// watchRegistry maps document ids to the cancel funcs of in-flight
// questions whose retrieved context includes them. RemoveDocument fires
// every cancel registered under the removed id.
type watchRegistry struct {
	mu      sync.Mutex
	nextID  uint64
	watches map[string]map[uint64]context.CancelFunc
}

func newWatchRegistry() *watchRegistry {
	return &watchRegistry{watches: make(map[string]map[uint64]context.CancelFunc)}
}

// register records cancel under every document id and returns the
// matching unregister func.
func (w *watchRegistry) register(documentIDs []string, cancel context.CancelFunc) func() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextID++
	id := w.nextID
	for _, docID := range documentIDs {
		m := w.watches[docID]
		if m == nil {
			m = make(map[uint64]context.CancelFunc)
			w.watches[docID] = m
		}
		m[id] = cancel
	}

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		for _, docID := range documentIDs {
			if m := w.watches[docID]; m != nil {
				delete(m, id)
				if len(m) == 0 {
					delete(w.watches, docID)
				}
			}
		}
	}
}

// cancelAll fires every cancel registered under the document id. The
// cancelled questions unregister themselves as they unwind.
func (w *watchRegistry) cancelAll(documentID string) {
	w.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(w.watches[documentID]))
	for _, c := range w.watches[documentID] {
		cancels = append(cancels, c)
	}
	w.mu.Unlock()

	for _, c := range cancels {
		c()
	}
}
