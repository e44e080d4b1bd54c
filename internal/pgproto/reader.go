package pgproto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMissingNulTerminator is returned when no NUL terminator is found while
// interpreting a message property as a string.
var ErrMissingNulTerminator = errors.New("NUL terminator not found")

// ErrInsufficientData is returned when the message body is too short to hold
// the requested value.
var ErrInsufficientData = errors.New("insufficient data")

func newInsufficientData(length int) error {
	return fmt.Errorf("length: %d %w", length, ErrInsufficientData)
}

// Reader is a cursor over the body of a single received frame. Get methods
// consume from the front of the body.
type Reader struct {
	Msg []byte
}

// GetString reads a NUL-terminated string.
func (r *Reader) GetString() (string, error) {
	pos := bytes.IndexByte(r.Msg, 0)
	if pos == -1 {
		return "", ErrMissingNulTerminator
	}

	s := string(r.Msg[:pos])
	r.Msg = r.Msg[pos+1:]
	return s, nil
}

// GetBytes consumes the next n bytes of the body. The returned slice aliases
// the body; n == -1 denotes a NULL value and yields nil.
func (r *Reader) GetBytes(n int) ([]byte, error) {
	if n == -1 {
		return nil, nil
	}
	if n < 0 || len(r.Msg) < n {
		return nil, newInsufficientData(len(r.Msg))
	}

	v := r.Msg[:n]
	r.Msg = r.Msg[n:]
	return v, nil
}

// GetByte consumes a single byte.
func (r *Reader) GetByte() (byte, error) {
	if len(r.Msg) < 1 {
		return 0, newInsufficientData(len(r.Msg))
	}

	v := r.Msg[0]
	r.Msg = r.Msg[1:]
	return v, nil
}

// GetUint16 consumes a big-endian uint16.
func (r *Reader) GetUint16() (uint16, error) {
	if len(r.Msg) < 2 {
		return 0, newInsufficientData(len(r.Msg))
	}

	v := binary.BigEndian.Uint16(r.Msg[:2])
	r.Msg = r.Msg[2:]
	return v, nil
}

// GetInt16 consumes a big-endian int16.
func (r *Reader) GetInt16() (int16, error) {
	v, err := r.GetUint16()
	return int16(v), err
}

// GetUint32 consumes a big-endian uint32.
func (r *Reader) GetUint32() (uint32, error) {
	if len(r.Msg) < 4 {
		return 0, newInsufficientData(len(r.Msg))
	}

	v := binary.BigEndian.Uint32(r.Msg[:4])
	r.Msg = r.Msg[4:]
	return v, nil
}

// GetInt32 consumes a big-endian int32.
func (r *Reader) GetInt32() (int32, error) {
	v, err := r.GetUint32()
	return int32(v), err
}
