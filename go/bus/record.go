package bus

import (
	"io"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

var RECORD_MAGIC = "HALB"

const (
	DirRx = 0
	DirTx = 1
)

type RecordHeader struct {
	// MAGIC ("HALB")
	Magic   string `struc:"[4]byte"`
	Version uint32
	// session start, unix nanoseconds
	Start int64
}

// Record is one captured frame.
type Record struct {
	Dir uint8
	// nanoseconds since the header's Start
	Time       int64
	TopicLen   int `struc:"uint16,sizeof=Topic"`
	Topic      string
	PayloadLen int `struc:"uint32,sizeof=Payload"`
	Payload    []byte
}

// Recorder captures every frame crossing the bus into a snappy stream.
type Recorder struct {
	sync.Mutex
	w     io.WriteCloser
	zw    *snappy.Writer
	start time.Time
}

func NewRecorder(w io.WriteCloser) (*Recorder, error) {
	start := time.Now()
	header := &RecordHeader{
		Magic:   RECORD_MAGIC,
		Version: 1,
		Start:   start.UnixNano(),
	}
	if err := struc.PackWithOrder(w, header, order); err != nil {
		return nil, errors.Wrap(err, "failed to pack header")
	}
	return &Recorder{w: w, zw: snappy.NewBufferedWriter(w), start: start}, nil
}

func (r *Recorder) Record(dir uint8, topic string, payload []byte) error {
	rec := &Record{
		Dir:     dir,
		Time:    int64(time.Since(r.start)),
		Topic:   topic,
		Payload: payload,
	}
	r.Lock()
	defer r.Unlock()
	return errors.Wrap(struc.PackWithOrder(r.zw, rec, order), "failed to pack record")
}

func (r *Recorder) Close() error {
	r.Lock()
	defer r.Unlock()
	if err := r.zw.Close(); err != nil {
		return errors.WithStack(err)
	}
	return r.w.Close()
}

type RecordReader struct {
	r      io.ReadCloser
	zr     *snappy.Reader
	Header RecordHeader
}

func NewRecordReader(r io.ReadCloser) (*RecordReader, error) {
	t := &RecordReader{r: r}
	if err := struc.UnpackWithOrder(r, &t.Header, order); err != nil {
		return nil, errors.Wrap(err, "failed to unpack header")
	}
	if t.Header.Magic != RECORD_MAGIC {
		return nil, errors.New("invalid bus record magic")
	}
	t.zr = snappy.NewReader(r)
	return t, nil
}

// Next returns io.EOF at the end of the capture.
func (t *RecordReader) Next() (*Record, error) {
	var rec Record
	if err := struc.UnpackWithOrder(t.zr, &rec, order); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (t *RecordReader) Close() {
	t.zr.Reset(nil)
	t.r.Close()
}
