package bus

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

const (
	payloadMagic   = "HP"
	payloadVersion = 1

	maxBlob  = 1 << 20
	maxList  = 1 << 16
	maxDepth = 8
)

var order = binary.LittleEndian

var ErrMalformed = errors.New("malformed payload")

const (
	KIND_NIL    = 0
	KIND_INT    = 1
	KIND_UINT   = 2
	KIND_BOOL   = 3
	KIND_STRING = 4
	KIND_BYTES  = 5
	KIND_LIST   = 6
)

type payloadHeader struct {
	Magic   string `struc:"[2]byte"`
	Version uint8
	Count   int `struc:"uint16"`
}

type fieldKey struct {
	Len int `struc:"uint8,sizeof=Key"`
	Key string
}

type intVal struct{ V int64 }
type uintVal struct{ V uint64 }
type boolVal struct{ V bool }
type lenVal struct{ Len uint32 }

// Encode packs a payload. Keys are written in sorted order so equal
// payloads encode identically.
func Encode(p Payload) ([]byte, error) {
	var buf bytes.Buffer
	if len(p) > maxList {
		return nil, errors.Errorf("payload has too many fields (%d)", len(p))
	}
	hdr := &payloadHeader{Magic: payloadMagic, Version: payloadVersion, Count: len(p)}
	if err := struc.PackWithOrder(&buf, hdr, order); err != nil {
		return nil, errors.Wrap(err, "pack payload header")
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if len(k) > 255 {
			return nil, errors.Errorf("payload key too long: %q", k)
		}
		if err := struc.PackWithOrder(&buf, &fieldKey{Key: k}, order); err != nil {
			return nil, errors.Wrapf(err, "pack key %q", k)
		}
		if err := packValue(&buf, p[k], 0); err != nil {
			return nil, errors.Wrapf(err, "pack %q", k)
		}
	}
	return buf.Bytes(), nil
}

func packKind(w io.Writer, kind byte) error {
	_, err := w.Write([]byte{kind})
	return err
}

func packBlob(w io.Writer, kind byte, p []byte) error {
	if len(p) > maxBlob {
		return errors.Errorf("value too large (%d bytes)", len(p))
	}
	if err := packKind(w, kind); err != nil {
		return err
	}
	if err := struc.PackWithOrder(w, &lenVal{uint32(len(p))}, order); err != nil {
		return err
	}
	_, err := w.Write(p)
	return err
}

func packValue(w io.Writer, v interface{}, depth int) error {
	if depth > maxDepth {
		return errors.New("payload nested too deeply")
	}
	var kind byte
	var data interface{}
	switch n := v.(type) {
	case nil:
		return packKind(w, KIND_NIL)
	case int:
		kind, data = KIND_INT, &intVal{int64(n)}
	case int8:
		kind, data = KIND_INT, &intVal{int64(n)}
	case int16:
		kind, data = KIND_INT, &intVal{int64(n)}
	case int32:
		kind, data = KIND_INT, &intVal{int64(n)}
	case int64:
		kind, data = KIND_INT, &intVal{n}
	case uint:
		kind, data = KIND_UINT, &uintVal{uint64(n)}
	case uint8:
		kind, data = KIND_UINT, &uintVal{uint64(n)}
	case uint16:
		kind, data = KIND_UINT, &uintVal{uint64(n)}
	case uint32:
		kind, data = KIND_UINT, &uintVal{uint64(n)}
	case uint64:
		kind, data = KIND_UINT, &uintVal{n}
	case bool:
		kind, data = KIND_BOOL, &boolVal{n}
	case string:
		return packBlob(w, KIND_STRING, []byte(n))
	case []byte:
		return packBlob(w, KIND_BYTES, n)
	case []interface{}:
		return packList(w, n, depth)
	case []uint64:
		l := make([]interface{}, len(n))
		for i, e := range n {
			l[i] = e
		}
		return packList(w, l, depth)
	case []int:
		l := make([]interface{}, len(n))
		for i, e := range n {
			l[i] = e
		}
		return packList(w, l, depth)
	default:
		return errors.Errorf("unsupported payload type %T", v)
	}
	if err := packKind(w, kind); err != nil {
		return err
	}
	return struc.PackWithOrder(w, data, order)
}

func packList(w io.Writer, l []interface{}, depth int) error {
	if len(l) > maxList {
		return errors.Errorf("list too long (%d)", len(l))
	}
	if err := packKind(w, KIND_LIST); err != nil {
		return err
	}
	if err := struc.PackWithOrder(w, &lenVal{uint32(len(l))}, order); err != nil {
		return err
	}
	for _, e := range l {
		if err := packValue(w, e, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// Decode unpacks a payload. Any framing problem is reported as ErrMalformed.
func Decode(p []byte) (Payload, error) {
	r := bytes.NewReader(p)
	var hdr payloadHeader
	if err := struc.UnpackWithOrder(r, &hdr, order); err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	if hdr.Magic != payloadMagic || hdr.Version != payloadVersion {
		return nil, errors.Wrap(ErrMalformed, "bad payload magic")
	}
	out := make(Payload, hdr.Count)
	for i := 0; i < hdr.Count; i++ {
		var key fieldKey
		if err := struc.UnpackWithOrder(r, &key, order); err != nil {
			return nil, errors.Wrapf(ErrMalformed, "field %d key: %v", i, err)
		}
		v, err := unpackValue(r, 0)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformed, "field %q: %v", key.Key, err)
		}
		out[key.Key] = v
	}
	if r.Len() != 0 {
		return nil, errors.Wrapf(ErrMalformed, "%d trailing bytes", r.Len())
	}
	return out, nil
}

func unpackValue(r io.Reader, depth int) (interface{}, error) {
	if depth > maxDepth {
		return nil, errors.New("nested too deeply")
	}
	var tmp [1]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return nil, err
	}
	switch tmp[0] {
	case KIND_NIL:
		return nil, nil
	case KIND_INT:
		var v intVal
		err := struc.UnpackWithOrder(r, &v, order)
		return v.V, err
	case KIND_UINT:
		var v uintVal
		err := struc.UnpackWithOrder(r, &v, order)
		return v.V, err
	case KIND_BOOL:
		var v boolVal
		err := struc.UnpackWithOrder(r, &v, order)
		return v.V, err
	case KIND_STRING, KIND_BYTES:
		var l lenVal
		if err := struc.UnpackWithOrder(r, &l, order); err != nil {
			return nil, err
		}
		if l.Len > maxBlob {
			return nil, errors.Errorf("value too large (%d bytes)", l.Len)
		}
		p := make([]byte, l.Len)
		if _, err := io.ReadFull(r, p); err != nil {
			return nil, err
		}
		if tmp[0] == KIND_STRING {
			return string(p), nil
		}
		return p, nil
	case KIND_LIST:
		var l lenVal
		if err := struc.UnpackWithOrder(r, &l, order); err != nil {
			return nil, err
		}
		if l.Len > maxList {
			return nil, errors.Errorf("list too long (%d)", l.Len)
		}
		out := make([]interface{}, l.Len)
		for i := range out {
			v, err := unpackValue(r, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	return nil, errors.Errorf("unknown value kind %d", tmp[0])
}
