package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

var ErrStringTooLong = errors.New("string exceeds length prefix")

const maxStringLen = math.MaxUint16

// binWriter emits fixed-width little-endian values and length-prefixed
// strings. The first error sticks; callers check Err once at the end.
type binWriter struct {
	w   io.Writer
	err error
}

func newBinWriter(w io.Writer) *binWriter {
	return &binWriter{w: w}
}

func (bw *binWriter) Err() error {
	return bw.err
}

func (bw *binWriter) write(buf []byte) {
	if bw.err != nil {
		return
	}
	n, err := bw.w.Write(buf)
	if n != len(buf) && err == nil {
		err = io.ErrShortWrite
	}
	bw.err = err
}

func (bw *binWriter) Byte(v byte) {
	bw.write([]byte{v})
}

func (bw *binWriter) Int32(v int32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	bw.write(buf[:])
}

func (bw *binWriter) Int64(v int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	bw.write(buf[:])
}

func (bw *binWriter) Float64(v float64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	bw.write(buf[:])
}

func (bw *binWriter) Str(s string) {
	if bw.err != nil {
		return
	}
	if len(s) > maxStringLen {
		bw.err = fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(s))
		return
	}
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(len(s)))
	bw.write(buf[:])
	bw.write([]byte(s))
}

// binReader mirrors binWriter for decoding.
type binReader struct {
	r   io.Reader
	err error
}

func newBinReader(r io.Reader) *binReader {
	return &binReader{r: r}
}

func (br *binReader) Err() error {
	return br.err
}

func (br *binReader) read(buf []byte) bool {
	if br.err != nil {
		return false
	}
	if _, err := io.ReadFull(br.r, buf); err != nil {
		br.err = err
		return false
	}
	return true
}

func (br *binReader) Byte() byte {
	var buf [1]byte
	if !br.read(buf[:]) {
		return 0
	}
	return buf[0]
}

func (br *binReader) Int32() int32 {
	var buf [4]byte
	if !br.read(buf[:]) {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(buf[:]))
}

func (br *binReader) Int64() int64 {
	var buf [8]byte
	if !br.read(buf[:]) {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(buf[:]))
}

func (br *binReader) Float64() float64 {
	var buf [8]byte
	if !br.read(buf[:]) {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[:]))
}

func (br *binReader) Str() string {
	var lbuf [2]byte
	if !br.read(lbuf[:]) {
		return ""
	}
	n := binary.LittleEndian.Uint16(lbuf[:])
	if n == 0 {
		return ""
	}
	buf := make([]byte, n)
	if !br.read(buf) {
		return ""
	}
	return string(buf)
}
