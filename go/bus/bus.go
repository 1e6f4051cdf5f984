// Package bus relays peripheral events between the emulator and external
// device processes over a publish/subscribe transport.
package bus

import (
	"context"
	"sync"

	"github.com/apex/log"
	"github.com/pkg/errors"
)

type Bus struct {
	Registry *Registry

	t    Transport
	pub  *publisher
	rec  *Recorder
	log  log.Interface
	ctx  context.Context
	stop context.CancelFunc

	mu     sync.Mutex
	queues map[string]*Queue[Payload]
	wg     sync.WaitGroup
}

type Option func(b *Bus)

// WithRecorder captures every frame crossing the bus.
func WithRecorder(r *Recorder) Option {
	return func(b *Bus) { b.rec = r }
}

func New(t Transport, reg *Registry, opts ...Option) *Bus {
	if reg == nil {
		reg = NewRegistry()
	}
	b := &Bus{
		Registry: reg,
		t:        t,
		log:      log.WithField("component", "bus"),
		queues:   make(map[string]*Queue[Payload]),
	}
	for _, o := range opts {
		o(b)
	}
	b.ctx, b.stop = context.WithCancel(context.Background())
	b.pub = newPublisher(t, b.rec)
	return b
}

// Start subscribes to every inbound topic in the registry and runs the
// receive loop until ctx is cancelled or Close is called.
func (b *Bus) Start(ctx context.Context) error {
	context.AfterFunc(ctx, b.stop)
	for _, topic := range b.Registry.Topics() {
		if err := b.t.Subscribe(topic); err != nil {
			return errors.Wrapf(err, "subscribe %s", topic)
		}
		b.log.WithField("topic", topic).Debug("subscribed")
	}
	b.wg.Add(1)
	go b.recvLoop()
	return nil
}

func (b *Bus) recvLoop() {
	defer b.wg.Done()
	for {
		topic, data, err := b.t.Recv(b.ctx)
		if err != nil {
			if b.ctx.Err() == nil && errors.Cause(err) != ErrClosed {
				b.log.WithError(err).Error("receive failed")
			}
			return
		}
		if b.rec != nil {
			if err := b.rec.Record(DirRx, topic, data); err != nil {
				b.log.WithError(err).Warn("bus recorder")
			}
		}
		b.Deliver(topic, data)
	}
}

// Deliver decodes one inbound frame and queues it for its topic. Malformed
// frames and topics without a handler are logged and dropped.
func (b *Bus) Deliver(topic string, data []byte) {
	if data == nil {
		b.log.WithField("topic", topic).Warn("dropping frame without payload")
		return
	}
	fn, ok := b.Registry.Handler(topic)
	if !ok {
		b.log.WithField("topic", topic).Warn("no handler for topic")
		return
	}
	p, err := Decode(data)
	if err != nil {
		b.log.WithError(err).WithField("topic", topic).Warn("dropping malformed frame")
		return
	}
	b.queue(topic, fn).Push(p)
}

// queue returns the FIFO for topic, starting its delivery goroutine on
// first use. One goroutine per topic keeps same-topic order while a slow
// model cannot stall the others.
func (b *Bus) queue(topic string, fn RxFunc) *Queue[Payload] {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[topic]; ok {
		return q
	}
	q := NewQueue[Payload]()
	b.queues[topic] = q
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		l := b.log.WithField("topic", topic)
		for {
			p, err := q.Pop(b.ctx)
			if err != nil {
				return
			}
			if err := fn(p); err != nil {
				l.WithError(err).Error("rx handler failed")
			}
		}
	}()
	return q
}

// Publish encodes payload and hands it to the sender. It never blocks on
// the transport.
func (b *Bus) Publish(topic string, p Payload) error {
	data, err := Encode(p)
	if err != nil {
		return errors.Wrapf(err, "encode %s", topic)
	}
	b.log.WithField("topic", topic).Debug("publish")
	return b.pub.Enqueue(topic, data)
}

// Tx publishes event on behalf of model.
func (b *Bus) Tx(model, event string, p Payload) error {
	return b.Publish(MakeTopic(model, event), p)
}

// Close stops delivery, wakes blocked readers and closes the transport.
// Frames already handed to Publish are flushed first.
func (b *Bus) Close() error {
	b.stop()
	b.mu.Lock()
	for _, q := range b.queues {
		q.Close()
	}
	b.mu.Unlock()
	b.pub.Close()
	err := b.t.Close()
	b.wg.Wait()
	if b.rec != nil {
		if e := b.rec.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
