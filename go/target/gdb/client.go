// Package gdb drives a remote processor over the GDB remote serial
// protocol. The QEMU gdbstub is the expected peer.
package gdb

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/halcorn/halcorn/go/models"
	"github.com/halcorn/halcorn/go/models/cpu"
)

const (
	maxMemChunk = 0x800
	ackRetries  = 3
	// breakpoint kind: both supported profiles use 16-bit instructions
	bpKind = 2
)

var (
	ErrRunning = errors.New("target is running")
	ErrClosed  = errors.New("connection closed")
)

// RemoteError is an "Exx" reply.
type RemoteError struct {
	Cmd  string
	Code int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("gdb: %q failed with E%02x", e.Cmd, e.Code)
}

type stopResult struct {
	stop *models.Stop
	err  error
}

// Client implements models.Target over a gdbstub connection.
type Client struct {
	conn    net.Conn
	r       *bufio.Reader
	profile *models.Profile
	noAck   bool
	log     log.Interface

	mu      sync.Mutex
	running bool
	bps     map[uint64]int
	nextID  *atomic.Int64

	stops     chan stopResult
	closed    chan struct{}
	closeOnce sync.Once
}

// Dial connects to a gdbstub, retrying until ctx expires so the emulator
// has time to start listening.
func Dial(ctx context.Context, addr string, p *models.Profile) (*Client, error) {
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return New(conn, p)
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(err, "connect to gdbstub at %s", addr)
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// New performs the protocol handshake on conn. The target is expected to be
// stopped.
func New(conn net.Conn, p *models.Profile) (*Client, error) {
	c := &Client{
		conn:    conn,
		r:       bufio.NewReader(conn),
		profile: p,
		log:     log.WithField("component", "gdb"),
		bps:     make(map[uint64]int),
		nextID:  atomic.NewInt64(0),
		stops:   make(chan stopResult, 1),
		closed:  make(chan struct{}),
	}
	if _, err := c.exchange("qSupported:swbreak+;hwbreak+"); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "gdb handshake")
	}
	if resp, err := c.exchange("QStartNoAckMode"); err == nil && resp == "OK" {
		c.noAck = true
	}
	if _, err := c.exchange("?"); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "query stop reason")
	}
	return c, nil
}

func (c *Client) send(s string) error {
	pkt := frame(s)
	for i := 0; ; i++ {
		if _, err := c.conn.Write(pkt); err != nil {
			return errors.Wrap(err, "gdb socket write failed")
		}
		if c.noAck {
			return nil
		}
		b, err := c.r.ReadByte()
		if err != nil {
			return errors.Wrap(err, "gdb socket read failed")
		}
		if b == '+' {
			return nil
		}
		if i >= ackRetries {
			return errors.Errorf("gdb: packet %q rejected", s)
		}
	}
}

func (c *Client) recv() (string, error) {
	for {
		body, _, err := readPacket(c.r)
		if err == ErrChecksum && !c.noAck {
			c.conn.Write([]byte{'-'})
			continue
		}
		if err != nil {
			return "", errors.Wrap(err, "gdb socket read failed")
		}
		if !c.noAck {
			if _, err := c.conn.Write([]byte{'+'}); err != nil {
				return "", errors.Wrap(err, "gdb socket write failed")
			}
		}
		return decode(body), nil
	}
}

// exchange sends cmd and returns the reply. Callers hold no lock; the
// target must be stopped.
func (c *Client) exchange(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return "", ErrRunning
	}
	return c.exchangeLocked(cmd)
}

func (c *Client) exchangeLocked(cmd string) (string, error) {
	if err := c.send(cmd); err != nil {
		return "", err
	}
	resp, err := c.recv()
	if err != nil {
		return "", err
	}
	if len(resp) == 3 && resp[0] == 'E' {
		if code, err := strconv.ParseUint(resp[1:], 16, 8); err == nil {
			return "", &RemoteError{cmd, int(code)}
		}
	}
	return resp, nil
}

func (c *Client) reg(name string) (models.Reg, error) {
	r, ok := c.profile.Reg(name)
	if !ok {
		return r, errors.Wrap(models.ErrInvalidRegister, name)
	}
	return r, nil
}

func (c *Client) ReadRegister(name string) (uint64, error) {
	r, err := c.reg(name)
	if err != nil {
		return 0, err
	}
	resp, err := c.exchange(fmt.Sprintf("p%x", r.Num))
	if err != nil {
		return 0, err
	}
	buf, err := hex.DecodeString(resp)
	if err != nil || len(buf) < r.Size {
		return 0, errors.Errorf("gdb: bad register reply for %s: %q", name, resp)
	}
	return cpu.UnpackUint(c.profile.Order, r.Size, buf)
}

func (c *Client) WriteRegister(name string, val uint64) error {
	r, err := c.reg(name)
	if err != nil {
		return err
	}
	buf, err := cpu.PackUint(c.profile.Order, r.Size, nil, val)
	if err != nil {
		return err
	}
	return c.expectOK(fmt.Sprintf("P%x=%s", r.Num, hex.EncodeToString(buf)))
}

func (c *Client) expectOK(cmd string) error {
	resp, err := c.exchange(cmd)
	if err != nil {
		return err
	}
	if resp != "OK" {
		return errors.Errorf("gdb: %q: unexpected reply %q", cmd, resp)
	}
	return nil
}

func (c *Client) readBytes(addr uint64, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		chunk := n - len(out)
		if chunk > maxMemChunk {
			chunk = maxMemChunk
		}
		resp, err := c.exchange(fmt.Sprintf("m%x,%x", addr+uint64(len(out)), chunk))
		if err != nil {
			return nil, err
		}
		buf, err := hex.DecodeString(resp)
		if err != nil || len(buf) == 0 {
			return nil, errors.Errorf("gdb: bad memory reply at %#x", addr+uint64(len(out)))
		}
		out = append(out, buf...)
	}
	return out[:n], nil
}

func (c *Client) ReadMemory(addr uint64, width, count int) ([]uint64, error) {
	buf, err := c.readBytes(addr, width*count)
	if err != nil {
		return nil, err
	}
	vals := make([]uint64, count)
	for i := range vals {
		if vals[i], err = cpu.UnpackUint(c.profile.Order, width, buf[i*width:]); err != nil {
			return nil, err
		}
	}
	return vals, nil
}

func (c *Client) WriteMemory(addr uint64, width int, vals ...uint64) error {
	buf := make([]byte, width*len(vals))
	for i, v := range vals {
		if _, err := cpu.PackUint(c.profile.Order, width, buf[i*width:], v); err != nil {
			return err
		}
	}
	for off := 0; off < len(buf); off += maxMemChunk {
		end := off + maxMemChunk
		if end > len(buf) {
			end = len(buf)
		}
		cmd := fmt.Sprintf("M%x,%x:%s", addr+uint64(off), end-off, hex.EncodeToString(buf[off:end]))
		if err := c.expectOK(cmd); err != nil {
			return err
		}
	}
	return nil
}

// SetBreakpoint inserts a software breakpoint. Ids are assigned locally and
// are never reused.
func (c *Client) SetBreakpoint(addr uint64) (int, error) {
	c.mu.Lock()
	if id, ok := c.bps[addr]; ok {
		c.mu.Unlock()
		return 0, errors.Errorf("breakpoint %d already set at %#x", id, addr)
	}
	c.mu.Unlock()
	if err := c.expectOK(fmt.Sprintf("Z0,%x,%d", addr, bpKind)); err != nil {
		return 0, err
	}
	id := int(c.nextID.Inc())
	c.mu.Lock()
	c.bps[addr] = id
	c.mu.Unlock()
	return id, nil
}

func (c *Client) Continue() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrRunning
	}
	if err := c.send("c"); err != nil {
		return err
	}
	c.running = true
	go c.waitStop()
	return nil
}

// waitStop reads the stop reply for the last continue.
func (c *Client) waitStop() {
	var res stopResult
	for {
		resp, err := c.recv()
		if err != nil {
			res.err = err
			break
		}
		if len(resp) > 0 && resp[0] == 'O' && resp != "OK" {
			if out, err := hex.DecodeString(resp[1:]); err == nil {
				c.log.Info(strings.TrimRight(string(out), "\n"))
			}
			continue
		}
		res.stop, res.err = c.parseStop(resp)
		break
	}
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	if res.stop != nil && res.stop.Addr == 0 && res.err == nil {
		if pc, err := c.ReadRegister(c.profile.PC); err == nil {
			res.stop.Addr = models.Addr(pc)
		} else {
			res.err = err
		}
	}
	if res.stop != nil {
		c.mu.Lock()
		if id, ok := c.bps[uint64(c.profile.Canonical(res.stop.Addr))]; ok {
			res.stop.Breakpoint = id
		}
		c.mu.Unlock()
	}
	c.stops <- res
}

// parseStop decodes S and T stop replies. The address is filled from the
// expedited pc register when present.
func (c *Client) parseStop(resp string) (*models.Stop, error) {
	if resp == "" {
		return nil, errors.New("gdb: empty stop reply")
	}
	switch resp[0] {
	case 'W', 'X':
		return nil, errors.Errorf("gdb: target exited (%s)", resp)
	case 'S', 'T':
	default:
		return nil, errors.Errorf("gdb: unexpected stop reply %q", resp)
	}
	if len(resp) < 3 {
		return nil, errors.Errorf("gdb: short stop reply %q", resp)
	}
	sig, err := strconv.ParseUint(resp[1:3], 16, 8)
	if err != nil {
		return nil, errors.Errorf("gdb: bad signal in %q", resp)
	}
	stop := &models.Stop{Signal: int(sig), Breakpoint: models.NoBreakpoint}
	if resp[0] == 'T' {
		pc, _ := c.profile.Reg(c.profile.PC)
		for _, field := range strings.Split(resp[3:], ";") {
			kv := strings.SplitN(field, ":", 2)
			if len(kv) != 2 {
				continue
			}
			num, err := strconv.ParseUint(kv[0], 16, 16)
			if err != nil || int(num) != pc.Num {
				continue
			}
			buf, err := hex.DecodeString(kv[1])
			if err != nil || len(buf) < pc.Size {
				continue
			}
			val, _ := cpu.UnpackUint(c.profile.Order, pc.Size, buf)
			stop.Addr = models.Addr(val)
		}
	}
	return stop, nil
}

func (c *Client) Wait(ctx context.Context) (*models.Stop, error) {
	select {
	case res := <-c.stops:
		return res.stop, res.err
	case <-c.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Interrupt asks a running target to stop. The stop is reported to Wait.
func (c *Client) Interrupt() error {
	_, err := c.conn.Write([]byte{interrupt})
	return errors.Wrap(err, "gdb interrupt")
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		running := c.running
		c.mu.Unlock()
		if running {
			c.Interrupt()
		}
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}
