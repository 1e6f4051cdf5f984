package gdb

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

const interrupt = 0x03

var ErrChecksum = errors.New("packet checksum mismatch")

func escape(p []byte) []byte {
	out := make([]byte, 0, len(p))
	for _, c := range p {
		if c == '#' || c == '$' || c == '}' || c == '*' {
			out = append(out, '}')
			out = append(out, c^0x20)
		} else {
			out = append(out, c)
		}
	}
	return out
}

func unescape(p []byte) []byte {
	out := make([]byte, 0, len(p))
	escaped := false
	for _, c := range p {
		if escaped {
			out = append(out, c^0x20)
			escaped = false
		} else if c == '}' {
			escaped = true
		} else {
			out = append(out, c)
		}
	}
	return out
}

// expand undoes run-length encoding: "x*" followed by n repeats x n-29 times.
func expand(p []byte) []byte {
	out := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		if p[i] == '*' && i > 0 && i+1 < len(p) {
			n := int(p[i+1]) - 29
			prev := out[len(out)-1]
			for j := 0; j < n; j++ {
				out = append(out, prev)
			}
			i++
			continue
		}
		out = append(out, p[i])
	}
	return out
}

func checksum(p []byte) []byte {
	chk := 0
	for _, c := range p {
		chk = (chk + int(c)) % 256
	}
	return []byte(fmt.Sprintf("%02x", chk))
}

func frame(s string) []byte {
	data := escape([]byte(s))
	return []byte("$" + string(data) + "#" + string(checksum(data)))
}

// readPacket reads one packet body, skipping acks. It returns the raw
// (still escaped) data so callers can ack before decoding. A lone interrupt
// byte is returned as a one byte packet with intr set.
func readPacket(r *bufio.Reader) (data []byte, intr bool, err error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, false, err
		}
		switch b {
		case '$':
		case interrupt:
			return []byte{b}, true, nil
		default:
			continue
		}
		body, err := r.ReadBytes('#')
		if err != nil {
			return nil, false, err
		}
		body = body[:len(body)-1]
		var sum [2]byte
		if _, err := io.ReadFull(r, sum[:]); err != nil {
			return nil, false, err
		}
		want, err := strconv.ParseUint(string(sum[:]), 16, 8)
		if err != nil || string(checksum(body)) != fmt.Sprintf("%02x", want) {
			return body, false, ErrChecksum
		}
		return body, false, nil
	}
}

func decode(body []byte) string {
	return string(unescape(expand(body)))
}
