package transport

import "sync"

// Memory is an in-memory Adapter used by tests and by the in-process
// simulation runtime. Send appends directly to the peer's inbound queue of
// a paired Memory adapter when Wire is used to connect two instances;
// standalone, Send just records what was sent for assertions.
type Memory struct {
	mu      sync.Mutex
	inbound []Inbound
	sent    []Inbound
	peer    *Memory // paired adapter, if any, set by Wire
	id      string  // this adapter's peer id as seen by its pair, set by Wire
	hint    int
}

// NewMemory creates a standalone in-memory adapter with no payload limit.
func NewMemory() *Memory {
	return &Memory{}
}

// Wire connects two Memory adapters so that Send on one enqueues into the
// other's inbound queue, simulating a direct link between two peers. Frames
// sent by a arrive at b tagged with aPeerID, and frames sent by b arrive at
// a tagged with bPeerID.
func Wire(a, b *Memory, aPeerID, bPeerID string) {
	a.mu.Lock()
	a.peer = b
	a.id = aPeerID
	a.mu.Unlock()
	b.mu.Lock()
	b.peer = a
	b.id = bPeerID
	b.mu.Unlock()
}

// SetPayloadHint fixes the value PayloadHint reports, for tests that
// exercise fragmentation paths.
func (m *Memory) SetPayloadHint(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hint = n
}

func (m *Memory) Send(peerID string, payload []byte) error {
	m.mu.Lock()
	peer := m.peer
	from := m.id
	cp := append([]byte(nil), payload...)
	m.sent = append(m.sent, Inbound{PeerID: peerID, Payload: cp})
	m.mu.Unlock()

	if peer != nil {
		peer.EnqueueInbound(from, cp)
	}
	return nil
}

func (m *Memory) Recv() (Inbound, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.inbound) == 0 {
		return Inbound{}, false
	}
	next := m.inbound[0]
	m.inbound = m.inbound[1:]
	return next, true
}

func (m *Memory) EnqueueInbound(peerID string, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbound = append(m.inbound, Inbound{PeerID: peerID, Payload: append([]byte(nil), payload...)})
}

func (m *Memory) PayloadHint() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hint
}

// Sent returns every frame handed to Send so far, for test assertions.
func (m *Memory) Sent() []Inbound {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Inbound(nil), m.sent...)
}
