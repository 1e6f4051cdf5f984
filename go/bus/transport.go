package bus

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var ErrClosed = errors.New("transport closed")

// Transport moves raw (topic, payload) frames between processes.
type Transport interface {
	Send(topic string, payload []byte) error
	// Recv blocks for the next frame matching a subscription.
	Recv(ctx context.Context) (topic string, payload []byte, err error)
	// Subscribe adds a topic prefix filter. The empty prefix matches all.
	Subscribe(prefix string) error
	Close() error
}

type frame struct {
	topic   string
	payload []byte
}

// Loopback is an in-process transport. Frames sent on one end of a pair are
// received by the other.
type Loopback struct {
	peer *Loopback
	in   chan frame

	mu     sync.Mutex
	subs   []string
	done   chan struct{}
	closed bool
}

// NewLoopback returns two connected ends.
func NewLoopback() (*Loopback, *Loopback) {
	a := &Loopback{in: make(chan frame, 1024), done: make(chan struct{})}
	b := &Loopback{in: make(chan frame, 1024), done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (l *Loopback) Subscribe(prefix string) error {
	l.mu.Lock()
	l.subs = append(l.subs, prefix)
	l.mu.Unlock()
	return nil
}

func (l *Loopback) match(topic string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.subs {
		if strings.HasPrefix(topic, s) {
			return true
		}
	}
	return false
}

// Send delivers to the peer. Like a PUB socket, frames nobody subscribed to
// are discarded.
func (l *Loopback) Send(topic string, payload []byte) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	if !l.peer.match(topic) {
		return nil
	}
	p := make([]byte, len(payload))
	copy(p, payload)
	select {
	case l.peer.in <- frame{topic, p}:
		return nil
	case <-l.peer.done:
		return nil
	case <-l.done:
		return ErrClosed
	}
}

func (l *Loopback) Recv(ctx context.Context) (string, []byte, error) {
	select {
	case f := <-l.in:
		return f.topic, f.payload, nil
	case <-l.done:
		return "", nil, ErrClosed
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.done)
	}
	return nil
}
