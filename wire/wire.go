// Package wire implements the length-prefixed binary record layout used for
// persisted and replicated configuration records.
//
// The format is a flat stream of fields in a fixed order. Variable length
// fields are prefixed with their byte length as a uvarint. Optional fields
// are written as a presence bool followed by the value when present. Lists
// are written as a uvarint element count followed by the elements.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pkg/errors"
)

var ErrTruncated = errors.New("truncated record")

// Writer encodes fields into an in-memory buffer.
// The zero value is ready to use.
type Writer struct {
	buf bytes.Buffer
}

func (w *Writer) WriteString(s string) {
	w.WriteUvarint(uint64(len(s)))
	w.buf.WriteString(s)
}

func (w *Writer) WriteBool(b bool) {
	if b {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *Writer) WriteUvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	w.buf.Write(tmp[:n])
}

func (w *Writer) WriteStringList(l []string) {
	w.WriteUvarint(uint64(len(l)))
	for _, s := range l {
		w.WriteString(s)
	}
}

// Bytes returns the encoded record.
// The returned slice is valid until the next write.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Reader decodes fields from a record produced by a Writer.
// Fields must be read in the exact order they were written.
type Reader struct {
	r *bytes.Reader
}

func NewReader(data []byte) *Reader {
	return &Reader{r: bytes.NewReader(data)}
}

func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return "", err
	}
	if n > uint64(r.r.Len()) {
		return "", errors.Wrapf(ErrTruncated, "string length %d exceeds remaining %d bytes", n, r.r.Len())
	}
	// A zero-length string is a valid field, even at end of stream.
	if n == 0 {
		return "", nil
	}
	b := make([]byte, n)
	if _, err := r.r.Read(b); err != nil {
		return "", ErrTruncated
	}
	return string(b), nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return false, ErrTruncated
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("invalid bool byte 0x%02x", b)
	}
}

func (r *Reader) ReadUvarint() (uint64, error) {
	v, err := binary.ReadUvarint(r.r)
	if err != nil {
		return 0, ErrTruncated
	}
	return v, nil
}

func (r *Reader) ReadStringList() ([]string, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if n > math.MaxInt32 || n > uint64(r.r.Len()) {
		return nil, errors.Wrapf(ErrTruncated, "list length %d exceeds remaining %d bytes", n, r.r.Len())
	}
	if n == 0 {
		return nil, nil
	}
	l := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		s, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		l = append(l, s)
	}
	return l, nil
}

// Remaining reports the number of unread bytes.
// A fully decoded record must leave zero remaining bytes.
func (r *Reader) Remaining() int {
	return r.r.Len()
}
