package bus

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
)

func TestCodec(t *testing.T) {
	in := Payload{
		"id":    uint64(0xfef100),
		"delta": -3,
		"data":  []byte{0, 0, 0, 0x80, 0x0c, 0, 0, 0},
		"name":  "led_left_outer",
		"on":    true,
		"list":  []interface{}{1, nil, "x"},
		"none":  nil,
	}
	data, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if id, _ := out.Uint("id"); id != 0xfef100 {
		t.Fatalf("id = %#x", id)
	}
	if out["delta"] != int64(-3) {
		t.Fatalf("delta = %v (%T)", out["delta"], out["delta"])
	}
	if b, _ := out.Bytes("data"); !bytes.Equal(b, in["data"].([]byte)) {
		t.Fatalf("data = % x", b)
	}
	if s, _ := out.String("name"); s != "led_left_outer" {
		t.Fatalf("name = %q", s)
	}
	if out["on"] != true {
		t.Fatal("bool did not survive")
	}
	l, err := out.List("list")
	if err != nil || len(l) != 3 || l[0] != int64(1) || l[1] != nil || l[2] != "x" {
		t.Fatalf("list = %#v, %v", l, err)
	}
	if v, ok := out["none"]; !ok || v != nil {
		t.Fatal("nil field lost")
	}

	// encoding is deterministic
	again, _ := Encode(out)
	if !bytes.Equal(again, data) {
		t.Fatal("re-encoding changed the frame")
	}
}

func TestDecodeMalformed(t *testing.T) {
	good, _ := Encode(Payload{"data": "hello"})
	cases := [][]byte{
		nil,
		[]byte("garbage"),
		good[:len(good)-2],
		append(append([]byte{}, good...), 0),
	}
	for i, c := range cases {
		if _, err := Decode(c); errors.Cause(err) != ErrMalformed {
			t.Fatalf("case %d: expected ErrMalformed, got %v", i, err)
		}
	}
}

func TestEncodeUnsupported(t *testing.T) {
	if _, err := Encode(Payload{"f": 1.5}); err == nil {
		t.Fatal("float should not encode")
	}
}

func TestPayloadBytesFromList(t *testing.T) {
	p := Payload{"data": []interface{}{int64(1), uint64(2), 3}}
	b, err := p.Bytes("data")
	if err != nil || !bytes.Equal(b, []byte{1, 2, 3}) {
		t.Fatalf("Bytes() = % x, %v", b, err)
	}
	if _, err := p.Uint("missing"); err == nil {
		t.Fatal("missing key should fail")
	}
}

func TestSplitTopic(t *testing.T) {
	model, event, ok := SplitTopic("Peripheral.MMIOLED.led_left_outer.write")
	if !ok || model != "MMIOLED.led_left_outer" || event != "write" {
		t.Fatalf("SplitTopic() = %q %q %v", model, event, ok)
	}
	if _, _, ok := SplitTopic("Other.CanBus.write"); ok {
		t.Fatal("foreign prefix accepted")
	}
	if MakeTopic("CanBus", "rx_data") != "Peripheral.CanBus.rx_data" {
		t.Fatal("bad topic")
	}
}

func BenchmarkEncode(b *testing.B) {
	p := Payload{"id": 0x20000ab0, "data": make([]byte, 8)}
	for i := 0; i < b.N; i++ {
		Encode(p)
	}
}
