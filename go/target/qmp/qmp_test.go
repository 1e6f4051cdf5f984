package qmp

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
)

type fakeQEMU struct {
	t    *testing.T
	cmds chan map[string]interface{}
}

func (f *fakeQEMU) serve(conn net.Conn) {
	defer conn.Close()
	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(bufio.NewReader(conn))
	enc.Encode(map[string]interface{}{"QMP": map[string]interface{}{"version": map[string]int{"major": 4}}})
	for {
		var cmd map[string]interface{}
		if err := dec.Decode(&cmd); err != nil {
			return
		}
		f.cmds <- cmd
		switch cmd["execute"] {
		case "bogus":
			enc.Encode(map[string]interface{}{"error": map[string]string{"class": "CommandNotFound", "desc": "nope"}})
		default:
			enc.Encode(map[string]interface{}{"event": "STOP"})
			enc.Encode(map[string]interface{}{"return": map[string]interface{}{}})
		}
	}
}

func setup(t *testing.T) (*Monitor, *fakeQEMU) {
	a, b := net.Pipe()
	f := &fakeQEMU{t: t, cmds: make(chan map[string]interface{}, 16)}
	go f.serve(b)
	m, err := New(a)
	if err != nil {
		t.Fatal(err)
	}
	if cmd := <-f.cmds; cmd["execute"] != "qmp_capabilities" {
		t.Fatalf("first command: %v", cmd)
	}
	return m, f
}

func TestInjectIRQ(t *testing.T) {
	m, f := setup(t)
	defer m.Close()
	if err := m.TriggerInterrupt(15); err != nil {
		t.Fatal(err)
	}
	cmd := <-f.cmds
	args := cmd["arguments"].(map[string]interface{})
	if cmd["execute"] != "avatar-armv7m-inject-irq" || args["num_irq"].(float64) != 15 || args["num_cpu"].(float64) != 0 {
		t.Fatalf("bad command: %v", cmd)
	}
}

func TestVectorBase(t *testing.T) {
	m, f := setup(t)
	defer m.Close()
	if err := m.SetVectorTableBase(DefaultVectorBase); err != nil {
		t.Fatal(err)
	}
	cmd := <-f.cmds
	args := cmd["arguments"].(map[string]interface{})
	if cmd["execute"] != "avatar-armv7m-set-vector-table-base" || uint64(args["base"].(float64)) != DefaultVectorBase {
		t.Fatalf("bad command: %v", cmd)
	}
}

func TestError(t *testing.T) {
	m, _ := setup(t)
	defer m.Close()
	_, err := m.Execute("bogus", nil)
	qe, ok := err.(*Error)
	if !ok || qe.Class != "CommandNotFound" || qe.Cmd != "bogus" {
		t.Fatalf("err = %v", err)
	}
}
