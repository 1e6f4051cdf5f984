package bus

import (
	"github.com/apex/log"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

const publishQueue = 1000

// publisher owns the transport's send side so Publish never blocks the
// caller on the network.
type publisher struct {
	t      Transport
	rec    *Recorder
	closed atomic.Bool
	close  chan chan int
	write  chan frame

	dropped atomic.Uint64
}

func newPublisher(t Transport, rec *Recorder) *publisher {
	p := &publisher{
		t:     t,
		rec:   rec,
		close: make(chan chan int),
		write: make(chan frame, publishQueue),
	}
	go p.run()
	return p
}

func (p *publisher) send(f frame) {
	if err := p.t.Send(f.topic, f.payload); err != nil {
		log.WithError(err).WithField("topic", f.topic).Warn("publish failed")
		return
	}
	if p.rec != nil {
		if err := p.rec.Record(DirTx, f.topic, f.payload); err != nil {
			log.WithError(err).Warn("bus recorder")
		}
	}
}

func (p *publisher) run() {
	for {
		select {
		case f := <-p.write:
			p.send(f)
		case tmp := <-p.close:
			// drain what was queued before Close
		drain:
			for {
				select {
				case f := <-p.write:
					p.send(f)
				default:
					break drain
				}
			}
			tmp <- 1
			return
		}
	}
}

// Enqueue never blocks; a full queue drops the frame.
func (p *publisher) Enqueue(topic string, payload []byte) error {
	if p.closed.Load() {
		return errors.New("publisher is closed")
	}
	select {
	case p.write <- frame{topic, payload}:
		return nil
	default:
		n := p.dropped.Inc()
		log.WithField("topic", topic).Warnf("publish queue full, dropped %d frames", n)
		return nil
	}
}

func (p *publisher) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return errors.New("publisher was already closed")
	}
	tmp := make(chan int)
	p.close <- tmp
	<-tmp
	return nil
}
