package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"
)

const (
	DefaultRxPort = 5555
	DefaultTxPort = 5556
)

// ZMQ is a PUB/SUB socket pair. The emulator side listens on both ports;
// external devices dial them with the ports swapped.
type ZMQ struct {
	pub, sub zmq4.Socket
	ctx      context.Context
	cancel   context.CancelFunc

	recv chan frame
	dead chan struct{}
	err  error
	once sync.Once
}

func endpoint(host string, port int) string {
	return fmt.Sprintf("tcp://%s:%d", host, port)
}

// ListenZMQ receives on rxPort and publishes on txPort.
func ListenZMQ(rxPort, txPort int) (*ZMQ, error) {
	z := newZMQ()
	if err := z.sub.Listen(endpoint("*", rxPort)); err != nil {
		z.Close()
		return nil, errors.Wrapf(err, "listen rx port %d", rxPort)
	}
	if err := z.pub.Listen(endpoint("*", txPort)); err != nil {
		z.Close()
		return nil, errors.Wrapf(err, "listen tx port %d", txPort)
	}
	go z.run()
	return z, nil
}

// DialZMQ connects to an emulator's ports at host. rxPort is the port this
// side receives on (the emulator's tx port).
func DialZMQ(host string, rxPort, txPort int) (*ZMQ, error) {
	z := newZMQ()
	if err := z.sub.Dial(endpoint(host, rxPort)); err != nil {
		z.Close()
		return nil, errors.Wrapf(err, "dial rx port %d", rxPort)
	}
	if err := z.pub.Dial(endpoint(host, txPort)); err != nil {
		z.Close()
		return nil, errors.Wrapf(err, "dial tx port %d", txPort)
	}
	go z.run()
	return z, nil
}

func newZMQ() *ZMQ {
	ctx, cancel := context.WithCancel(context.Background())
	return &ZMQ{
		pub:    zmq4.NewPub(ctx),
		sub:    zmq4.NewSub(ctx),
		ctx:    ctx,
		cancel: cancel,
		recv:   make(chan frame, 1024),
		dead:   make(chan struct{}),
	}
}

func (z *ZMQ) run() {
	defer close(z.dead)
	for {
		msg, err := z.sub.Recv()
		if err != nil {
			z.err = errors.Wrap(err, "zmq recv")
			return
		}
		var f frame
		if len(msg.Frames) == 2 {
			f = frame{string(msg.Frames[0]), msg.Frames[1]}
		} else if len(msg.Frames) > 0 {
			// nil payload is rejected by the bus as malformed
			f = frame{topic: string(msg.Frames[0])}
		}
		select {
		case z.recv <- f:
		case <-z.ctx.Done():
			z.err = ErrClosed
			return
		}
	}
}

func (z *ZMQ) Subscribe(prefix string) error {
	return errors.Wrap(z.sub.SetOption(zmq4.OptionSubscribe, prefix), "zmq subscribe")
}

func (z *ZMQ) Send(topic string, payload []byte) error {
	msg := zmq4.NewMsgFrom([]byte(topic), payload)
	return errors.Wrap(z.pub.SendMulti(msg), "zmq send")
}

func (z *ZMQ) Recv(ctx context.Context) (string, []byte, error) {
	select {
	case f := <-z.recv:
		return f.topic, f.payload, nil
	case <-z.dead:
		return "", nil, z.err
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

func (z *ZMQ) Close() error {
	var err error
	z.once.Do(func() {
		z.cancel()
		if e := z.pub.Close(); e != nil {
			err = e
		}
		if e := z.sub.Close(); e != nil && err == nil {
			err = e
		}
	})
	return errors.Wrap(err, "zmq close")
}
