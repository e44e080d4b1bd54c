package pgproto

import (
	"sort"

	"github.com/jackc/pgio"
)

// Writer builds a single outgoing protocol frame. A frame is opened with Start
// (or StartUntyped for the startup message, which carries no tag byte), which
// reserves a 4-byte big-endian length field. Finish back-patches the reserved
// field with the byte count from the field itself to the end of the buffer.
//
// At most one length field may be unresolved at a time.
type Writer struct {
	buf    []byte
	marker int
}

// NewWriter returns a Writer appending to dst.
func NewWriter(dst []byte) Writer {
	return Writer{buf: dst, marker: -1}
}

// Start opens a tagged frame.
func (w *Writer) Start(tag byte) {
	w.buf = append(w.buf, tag)
	w.reserveLength()
}

// StartUntyped opens a frame without a tag byte. Only the startup message and
// its variants are framed this way.
func (w *Writer) StartUntyped() {
	w.reserveLength()
}

func (w *Writer) reserveLength() {
	if w.marker >= 0 {
		panic("pgproto: length field already reserved")
	}
	w.marker = len(w.buf)
	w.buf = pgio.AppendInt32(w.buf, -1)
}

// AddInt32 appends v as a 4-byte big-endian two's complement integer.
func (w *Writer) AddInt32(v int32) {
	w.buf = pgio.AppendInt32(w.buf, v)
}

// AddInt16 appends v as a 2-byte big-endian two's complement integer.
func (w *Writer) AddInt16(v int16) {
	w.buf = pgio.AppendInt16(w.buf, v)
}

// AddUint32 appends v as a 4-byte big-endian unsigned integer.
func (w *Writer) AddUint32(v uint32) {
	w.buf = pgio.AppendUint32(w.buf, v)
}

func (w *Writer) AddByte(b byte) {
	w.buf = append(w.buf, b)
}

func (w *Writer) AddBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// AddCString appends the UTF-8 bytes of s followed by a NUL terminator.
func (w *Writer) AddCString(s string) {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

// AddCStringPairs appends each key/value as two back-to-back C-strings, in
// sorted key order, followed by a single NUL after the last pair.
func (w *Writer) AddCStringPairs(pairs map[string]string) {
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		w.AddCString(k)
		w.AddCString(pairs[k])
	}
	w.buf = append(w.buf, 0)
}

// Finish resolves the reserved length field and returns the full buffer. Bytes
// written before the field are left untouched.
func (w *Writer) Finish() []byte {
	if w.marker >= 0 {
		pgio.SetInt32(w.buf[w.marker:], int32(len(w.buf)-w.marker))
		w.marker = -1
	}
	return w.buf
}
