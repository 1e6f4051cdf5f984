// Package qmp talks to the QEMU machine protocol monitor of an avatar-qemu
// instance to raise interrupts on the emulated NVIC.
package qmp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/apex/log"
	"github.com/pkg/errors"
)

// DefaultVectorBase is where STM32 parts alias their vector table.
const DefaultVectorBase = 0x08000000

// Error is an error reply from the monitor.
type Error struct {
	Cmd   string `json:"-"`
	Class string `json:"class"`
	Desc  string `json:"desc"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("qmp: %s: %s (%s)", e.Cmd, e.Desc, e.Class)
}

type command struct {
	Execute   string      `json:"execute"`
	Arguments interface{} `json:"arguments,omitempty"`
}

type reply struct {
	Return json.RawMessage `json:"return"`
	Error  *Error          `json:"error"`
	Event  string          `json:"event"`
	QMP    json.RawMessage `json:"QMP"`
}

type Monitor struct {
	conn net.Conn
	dec  *json.Decoder
	enc  *json.Encoder
	log  log.Interface
	// Cpu is sent as num_cpu with every command.
	Cpu int

	mu sync.Mutex
}

// Dial connects to a monitor and negotiates capabilities.
func Dial(ctx context.Context, addr string) (*Monitor, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to qmp at %s", addr)
	}
	m, err := New(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return m, nil
}

func New(conn net.Conn) (*Monitor, error) {
	m := &Monitor{
		conn: conn,
		dec:  json.NewDecoder(bufio.NewReader(conn)),
		enc:  json.NewEncoder(conn),
		log:  log.WithField("target", "qmp"),
	}
	var greeting reply
	if err := m.dec.Decode(&greeting); err != nil {
		return nil, errors.Wrap(err, "read qmp greeting")
	}
	if greeting.QMP == nil {
		return nil, errors.New("qmp: peer did not send a greeting")
	}
	if _, err := m.Execute("qmp_capabilities", nil); err != nil {
		return nil, err
	}
	return m, nil
}

// Execute runs cmd and returns the raw "return" member. Asynchronous
// events received while waiting are logged and skipped.
func (m *Monitor) Execute(cmd string, args interface{}) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enc.Encode(command{Execute: cmd, Arguments: args}); err != nil {
		return nil, errors.Wrapf(err, "qmp: send %s", cmd)
	}
	for {
		var r reply
		if err := m.dec.Decode(&r); err != nil {
			return nil, errors.Wrapf(err, "qmp: %s reply", cmd)
		}
		switch {
		case r.Event != "":
			m.log.Debugf("event %s", r.Event)
		case r.Error != nil:
			r.Error.Cmd = cmd
			return nil, r.Error
		default:
			return r.Return, nil
		}
	}
}

type irqArgs struct {
	Irq int `json:"num_irq"`
	Cpu int `json:"num_cpu"`
}

func (m *Monitor) TriggerInterrupt(num int) error {
	_, err := m.Execute("avatar-armv7m-inject-irq", irqArgs{num, m.Cpu})
	return err
}

func (m *Monitor) EnableInterrupt(num int) error {
	_, err := m.Execute("avatar-armv7m-enable-irq", irqArgs{num, m.Cpu})
	return err
}

func (m *Monitor) SetVectorTableBase(base uint64) error {
	_, err := m.Execute("avatar-armv7m-set-vector-table-base", struct {
		Base uint64 `json:"base"`
		Cpu  int    `json:"num_cpu"`
	}{base, m.Cpu})
	return err
}

func (m *Monitor) Close() error {
	return m.conn.Close()
}
