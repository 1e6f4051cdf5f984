package cpu

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// PackUint encodes the low size bytes of n. Sizes that are not a power of
// two (such as 3-byte AVR program counters) are packed byte by byte.
func PackUint(order binary.ByteOrder, size int, buf []byte, n uint64) ([]byte, error) {
	if size < 1 || size > 8 {
		return nil, errors.Errorf("unsupported uint size: %d", size)
	}
	if buf == nil {
		buf = make([]byte, size)
	} else if len(buf) < size {
		return nil, errors.Errorf("buffer too small (%d < %d)", len(buf), size)
	}
	switch size {
	case 8:
		order.PutUint64(buf[:size], n)
	case 4:
		order.PutUint32(buf[:size], uint32(n))
	case 2:
		order.PutUint16(buf[:size], uint16(n))
	case 1:
		buf[0] = byte(n)
	default:
		for i := 0; i < size; i++ {
			shift := uint(i * 8)
			if order == binary.BigEndian {
				shift = uint((size - 1 - i) * 8)
			}
			buf[i] = byte(n >> shift)
		}
	}
	return buf[:size], nil
}

func UnpackUint(order binary.ByteOrder, size int, buf []byte) (uint64, error) {
	if len(buf) < size {
		return 0, errors.Errorf("buffer too small (%d < %d)", len(buf), size)
	}
	switch size {
	case 8:
		return order.Uint64(buf), nil
	case 4:
		return uint64(order.Uint32(buf)), nil
	case 2:
		return uint64(order.Uint16(buf)), nil
	case 1:
		return uint64(buf[0]), nil
	}
	if size < 1 || size > 8 {
		return 0, errors.Errorf("unsupported uint size: %d", size)
	}
	var n uint64
	for i := 0; i < size; i++ {
		shift := uint(i * 8)
		if order == binary.BigEndian {
			shift = uint((size - 1 - i) * 8)
		}
		n |= uint64(buf[i]) << shift
	}
	return n, nil
}
