package registry

import "sync"

// Allocator hands out room identifiers and listener ports. Both counters
// only ever increase within a process lifetime, so neither ids nor ports
// are reused and clients holding a stale room id can never be routed to a
// different room.
type Allocator struct {
	mu         sync.Mutex
	nextRoomID int
	nextPort   int
}

// NewAllocator returns an allocator whose first room gets id 1 and port
// basePort+1 (basePort itself belongs to the registry listener).
func NewAllocator(basePort int) *Allocator {
	return &Allocator{
		nextRoomID: 1,
		nextPort:   basePort + 1,
	}
}

// Next allocates a fresh room id and port pair.
func (a *Allocator) Next() (roomID, port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	roomID = a.nextRoomID
	a.nextRoomID++
	port = a.nextPort
	a.nextPort++
	return roomID, port
}
