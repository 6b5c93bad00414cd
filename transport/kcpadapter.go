package transport

import (
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
	kcp "github.com/xtaci/kcp-go/v5"
	"github.com/xtaci/qpp"
	"github.com/xtaci/smux"
)

// frameLenPrefix is the length-prefix width used to carry discrete VEIL
// frames over an smux stream, which is otherwise an unframed byte pipe.
const frameLenPrefix = 4

// qppPads is the pad count for quantum-permutation obfuscation: enough
// pads to defeat simple frequency analysis of the wire without
// materially increasing CPU cost per frame.
const qppPads = 64

// KCP is a concrete Adapter backed by a KCP session carrying a single smux
// stream, with every frame additionally scrambled by a quantum permutation
// pad keyed off the same pre-shared secret used to establish the session.
// It is meant to be used as the fast-lane adapter in cmd/veil-subscriber
// and cmd/veil-publisher.
type KCP struct {
	peerID string
	sess   *smux.Session
	stream *smux.Stream
	pad    *qpp.QuantumPermutationPad

	mu      sync.Mutex
	inbound []Inbound
	closed  bool
}

// DialKCP opens a KCP session to raddr, negotiates a single smux stream
// over it, and wraps the result as an Adapter addressed to peerID.
func DialKCP(raddr, peerID string, dataShards, parityShards int, presharedSecret []byte) (*KCP, error) {
	conn, err := kcp.DialWithOptions(raddr, nil, dataShards, parityShards)
	if err != nil {
		return nil, errors.Wrap(err, "dial KCP session")
	}
	conn.SetStreamMode(true)
	conn.SetWriteDelay(false)
	conn.SetNoDelay(1, 10, 2, 1)

	sess, err := smux.Client(conn, smux.DefaultConfig())
	if err != nil {
		return nil, errors.Wrap(err, "negotiate smux client session")
	}
	stream, err := sess.OpenStream()
	if err != nil {
		return nil, errors.Wrap(err, "open smux stream")
	}

	return newKCPAdapter(peerID, sess, stream, presharedSecret), nil
}

// AcceptKCP wraps an already-accepted KCP connection and its first smux
// stream as a server-side Adapter.
func AcceptKCP(conn net.Conn, peerID string, presharedSecret []byte) (*KCP, error) {
	sess, err := smux.Server(conn, smux.DefaultConfig())
	if err != nil {
		return nil, errors.Wrap(err, "negotiate smux server session")
	}
	stream, err := sess.AcceptStream()
	if err != nil {
		return nil, errors.Wrap(err, "accept smux stream")
	}
	return newKCPAdapter(peerID, sess, stream, presharedSecret), nil
}

func newKCPAdapter(peerID string, sess *smux.Session, stream *smux.Stream, presharedSecret []byte) *KCP {
	a := &KCP{
		peerID: peerID,
		sess:   sess,
		stream: stream,
		pad:    qpp.NewQPP(presharedSecret, qppPads),
	}
	go a.readLoop()
	return a
}

func (a *KCP) readLoop() {
	lenBuf := make([]byte, frameLenPrefix)
	for {
		if _, err := io.ReadFull(a.stream, lenBuf); err != nil {
			a.markClosed()
			return
		}
		a.pad.Decrypt(lenBuf)
		n := binary.BigEndian.Uint32(lenBuf)
		body := make([]byte, n)
		if _, err := io.ReadFull(a.stream, body); err != nil {
			a.markClosed()
			return
		}
		a.pad.Decrypt(body)

		a.mu.Lock()
		a.inbound = append(a.inbound, Inbound{PeerID: a.peerID, Payload: body})
		a.mu.Unlock()
	}
}

func (a *KCP) markClosed() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}

// Send frames payload with a length prefix, scrambles both under the
// session's quantum permutation pad, and writes it to the smux stream.
func (a *KCP) Send(peerID string, payload []byte) error {
	lenBuf := make([]byte, frameLenPrefix)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(payload)))
	a.pad.Encrypt(lenBuf)

	body := append([]byte(nil), payload...)
	a.pad.Encrypt(body)

	if _, err := a.stream.Write(lenBuf); err != nil {
		return errors.Wrap(err, "write frame length")
	}
	if _, err := a.stream.Write(body); err != nil {
		return errors.Wrap(err, "write frame body")
	}
	return nil
}

func (a *KCP) Recv() (Inbound, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.inbound) == 0 {
		return Inbound{}, false
	}
	next := a.inbound[0]
	a.inbound = a.inbound[1:]
	return next, true
}

// EnqueueInbound exists to satisfy Adapter; a live KCP link has no use for
// injected frames, so this is a no-op.
func (a *KCP) EnqueueInbound(string, []byte) {}

// PayloadHint reports smux's configured maximum frame size.
func (a *KCP) PayloadHint() int { return smux.DefaultConfig().MaxFrameSize }

// Close tears down the smux stream and session.
func (a *KCP) Close() error {
	streamErr := a.stream.Close()
	sessErr := a.sess.Close()
	if streamErr != nil {
		return streamErr
	}
	return sessErr
}
