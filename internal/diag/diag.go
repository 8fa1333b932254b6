// Package diag captures the driver's raw wire traffic as a CBOR record
// stream for offline replay. It backs the device package's TraceSink hook;
// hot-path completion handling never depends on it.
package diag

import (
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/jingkaihe/virtiofs-guest/internal/errx"
	"github.com/jingkaihe/virtiofs-guest/pkg/wire"
)

// Record directions.
const (
	DirSubmit   = "submit"
	DirComplete = "complete"
)

// Record is one captured frame: the device-readable bytes at submit, or
// the host-written bytes at completion.
type Record struct {
	Dir    string `cbor:"dir"`
	Queue  string `cbor:"q"`
	Opcode uint32 `cbor:"op"`
	Unique uint64 `cbor:"uniq,omitempty"`
	Errno  int32  `cbor:"errno,omitempty"`
	Frame  []byte `cbor:"frame,omitempty"`
}

// Recorder encodes records to a writer as they arrive. Safe for concurrent
// use; submissions and completions interleave from different contexts.
type Recorder struct {
	mu  sync.Mutex
	enc *cbor.Encoder
	err error
}

// NewRecorder builds a Recorder over w.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{enc: cbor.NewEncoder(w)}
}

// RecordSubmit captures a request frame.
func (r *Recorder) RecordSubmit(queue string, opcode wire.Opcode, unique uint64, frame []byte) {
	r.write(Record{Dir: DirSubmit, Queue: queue, Opcode: uint32(opcode), Unique: unique, Frame: frame})
}

// RecordComplete captures a response frame.
func (r *Recorder) RecordComplete(queue string, opcode wire.Opcode, unique uint64, errno int32, frame []byte) {
	r.write(Record{Dir: DirComplete, Queue: queue, Opcode: uint32(opcode), Unique: unique, Errno: errno, Frame: frame})
}

func (r *Recorder) write(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	if err := r.enc.Encode(rec); err != nil {
		// Sticky: a trace sink must never fail the driver, so the first
		// encode error silences the recorder.
		r.err = errx.Wrap(ErrEncode, err)
	}
}

// Err returns the sticky encode error, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// ReadAll decodes every record from a capture stream.
func ReadAll(r io.Reader) ([]Record, error) {
	dec := cbor.NewDecoder(r)
	var records []Record
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				return records, nil
			}
			return nil, errx.Wrap(ErrDecode, err)
		}
		records = append(records, rec)
	}
}
