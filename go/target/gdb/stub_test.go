package gdb

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/models"
	"github.com/halcorn/halcorn/go/models/cpu"
)

func parseRange(s string) (uint64, uint64) {
	tmp := strings.Split(s, ":")
	tmp = strings.Split(tmp[0], ",")
	if len(tmp) != 2 {
		return 0, 0
	}
	a, _ := strconv.ParseUint(tmp[0], 16, 0)
	b, _ := strconv.ParseUint(tmp[1], 16, 0)
	return a, b
}

// Stub serves a target over the remote protocol. It lets the simulated CPU
// stand in for QEMU.
type Stub struct {
	t       models.Target
	profile *models.Profile
	log     log.Interface

	rw        io.ReadWriter
	noAck     bool
	noAckTest bool
	regs      map[int]models.Reg
}

func NewStub(t models.Target, p *models.Profile) *Stub {
	regs := make(map[int]models.Reg, len(p.Regs))
	for _, r := range p.Regs {
		regs[r.Num] = r
	}
	return &Stub{t: t, profile: p, regs: regs, log: log.WithField("component", "gdbstub")}
}

func (s *Stub) Send(data string) error {
	_, err := s.rw.Write(frame(data))
	return errors.Wrap(err, "gdbstub socket write failed")
}

func (s *Stub) fmtreg(r models.Reg, val uint64) string {
	buf, _ := cpu.PackUint(s.profile.Order, r.Size, nil, val)
	return hex.EncodeToString(buf)
}

func (s *Stub) stopReply(st *models.Stop) error {
	pc, _ := s.profile.Reg(s.profile.PC)
	return s.Send(fmt.Sprintf("T%02x%02x:%s;thread:1;", st.Signal, pc.Num, s.fmtreg(pc, uint64(st.Addr))))
}

// Handle executes one command and sends its reply.
func (s *Stub) Handle(ctx context.Context, cmdb []byte) error {
	if len(cmdb) == 0 {
		return nil
	}
	t := s.t
	b, rest := cmdb[0], string(cmdb[1:])
	switch b {
	case 'q':
		if strings.HasPrefix(rest, "Supported") {
			return s.Send("PacketSize=4000;swbreak+")
		} else if rest == "Attached" {
			return s.Send("1")
		}
		return s.Send("")
	case 'Q':
		if rest == "StartNoAckMode" {
			s.noAckTest = true
			return s.Send("OK")
		}
		return s.Send("")
	case '?':
		pc, _ := t.ReadRegister(s.profile.PC)
		return s.stopReply(&models.Stop{Addr: models.Addr(pc), Signal: 5})
	case 'p':
		i, _ := strconv.ParseUint(rest, 16, 0)
		r, ok := s.regs[int(i)]
		if !ok {
			return s.Send("E01")
		}
		val, err := t.ReadRegister(r.Name)
		if err != nil {
			return s.Send("E01")
		}
		return s.Send(s.fmtreg(r, val))
	case 'P':
		kv := strings.SplitN(rest, "=", 2)
		i, _ := strconv.ParseUint(kv[0], 16, 0)
		r, ok := s.regs[int(i)]
		if !ok || len(kv) != 2 {
			return s.Send("E01")
		}
		buf, err := hex.DecodeString(kv[1])
		if err != nil {
			return s.Send("E01")
		}
		val, err := cpu.UnpackUint(s.profile.Order, r.Size, buf)
		if err != nil || t.WriteRegister(r.Name, val) != nil {
			return s.Send("E01")
		}
		return s.Send("OK")
	case 'm':
		a, n := parseRange(rest)
		mem, err := models.ReadBytes(t, a, int(n))
		if err != nil {
			return s.Send("E14")
		}
		return s.Send(hex.EncodeToString(mem))
	case 'M':
		a, _ := parseRange(rest)
		tmp := strings.SplitN(rest, ":", 2)
		if len(tmp) != 2 {
			return s.Send("E01")
		}
		data, err := hex.DecodeString(tmp[1])
		if err != nil {
			return s.Send("E01")
		}
		if err := models.WriteBytes(t, a, data); err != nil {
			return s.Send("E14")
		}
		return s.Send("OK")
	case 'Z':
		args := strings.Split(rest, ",")
		if len(args) != 3 || args[0] != "0" {
			return s.Send("")
		}
		addr, _ := strconv.ParseUint(args[1], 16, 0)
		if _, err := t.SetBreakpoint(addr); err != nil {
			s.log.WithError(err).Debug("breakpoint")
		}
		return s.Send("OK")
	case 'c':
		if err := t.Continue(); err != nil {
			return err
		}
		st, err := t.Wait(ctx)
		if err != nil {
			return err
		}
		return s.stopReply(st)
	case 'D':
		s.Send("OK")
		return io.EOF
	case 'H', 'T':
		return s.Send("OK")
	}
	s.log.Debugf("unknown command %c %s", b, rest)
	return s.Send("")
}

// Serve runs the command loop until the peer detaches or the connection
// fails.
func (s *Stub) Serve(ctx context.Context, rw io.ReadWriter) error {
	s.rw = rw
	input := bufio.NewReader(rw)
	for {
		body, intr, err := readPacket(input)
		if intr {
			continue
		}
		if err == ErrChecksum && !s.noAck {
			rw.Write([]byte{'-'})
			continue
		} else if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if !s.noAck {
			if _, err := rw.Write([]byte{'+'}); err != nil {
				return err
			}
		}
		if err := s.Handle(ctx, []byte(decode(body))); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if s.noAckTest {
			s.noAck, s.noAckTest = true, false
		}
	}
}
