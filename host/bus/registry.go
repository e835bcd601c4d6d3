package bus

import (
	"fmt"
	"sync"

	"can29/protocol"
)

// Identity names one logical device on a bus.
type Identity struct {
	Address  uint8
	DeviceID uint8
}

func (id Identity) String() string {
	return fmt.Sprintf("%d/%d", id.Address, id.DeviceID)
}

// IdentityOf returns the identity of the device that sent f.
func IdentityOf(f protocol.Frame) Identity {
	return Identity{Address: f.Source, DeviceID: f.DeviceID}
}

// Handler is what the dispatcher needs from a registered component.
type Handler interface {
	// ReceiveMessageHandler gets every unsolicited frame from the
	// component's identity. It runs on the receive loop and must not block.
	ReceiveMessageHandler(f protocol.Frame)

	// LinkFault is called once when the link drains after an I/O failure.
	LinkFault(reason error)
}

// Component is the capability every device-kind client implements.
type Component interface {
	Handler
	Initialize() error
	UnInitialize() error
}

// Registry maps identities to registered handlers.
type Registry struct {
	mu         sync.RWMutex
	components map[Identity]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{components: make(map[Identity]Handler)}
}

// Register adds h under id.
func (r *Registry) Register(id Identity, h Handler) error {
	if h == nil {
		return fmt.Errorf("register %s: handler is nil", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.components[id]; exists {
		return fmt.Errorf("register %s: %w", id, ErrDuplicateIdentity)
	}
	r.components[id] = h
	return nil
}

// Deregister removes id. Removing an unknown identity is not an error.
func (r *Registry) Deregister(id Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.components, id)
}

// Lookup returns the handler registered under id.
func (r *Registry) Lookup(id Identity) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.components[id]
	if !ok {
		return nil, fmt.Errorf("lookup %s: %w", id, ErrNotFound)
	}
	return h, nil
}

// Len returns the number of registered components.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.components)
}

// BroadcastFault calls LinkFault on every registered handler exactly once.
// Handlers are called outside the registry lock, in no particular order.
func (r *Registry) BroadcastFault(reason error) {
	r.mu.RLock()
	handlers := make([]Handler, 0, len(r.components))
	for _, h := range r.components {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		h.LinkFault(reason)
	}
}
