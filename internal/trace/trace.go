// Package trace records native calls into a compact binary log.
//
// Each entry is a 16-byte header followed by the source and the payload:
//   - 2 bytes kind
//   - 2 bytes source length
//   - 4 bytes payload length
//   - 8 bytes timestamp (nanoseconds since epoch)
//   - source bytes
//   - payload bytes
//
// Writers reserve their region by atomically advancing the file offset and
// then use WriteAt, so concurrent calls never take a lock.
package trace

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const headerSize = 16

// Kind identifies the payload of an entry.
type Kind uint16

const (
	KindInvalid Kind = iota
	KindNote
	KindCall
)

func (k Kind) String() string {
	switch k {
	case KindNote:
		return "note"
	case KindCall:
		return "call"
	default:
		return fmt.Sprintf("kind(%d)", uint16(k))
	}
}

// Writer is the destination of a trace.
type Writer interface {
	io.WriterAt
	io.Closer
}

type sink struct {
	w Writer
}

var (
	current atomic.Pointer[sink]
	offset  atomic.Uint64
)

// OpenFile starts tracing into filename, truncating it.
func OpenFile(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	return Open(f)
}

// Open starts tracing into w. A non-nil error means a previous writer was
// still open and has been discarded without being closed.
func Open(w Writer) error {
	offset.Store(0)
	if current.Swap(&sink{w: w}) != nil {
		return fmt.Errorf("trace: already open, discarded old writer")
	}
	return nil
}

// Enabled reports whether a trace is open.
func Enabled() bool {
	return current.Load() != nil
}

// Close stops tracing and closes the writer.
func Close() error {
	s := current.Swap(nil)
	offset.Store(0)
	if s != nil {
		return s.w.Close()
	}
	return nil
}

type span struct {
	off  int64
	data []byte
}

// Memory is an in-memory trace destination.
type Memory struct {
	spans sync.Map
	size  atomic.Int64
}

// OpenMemory starts tracing into a new Memory.
func OpenMemory() (*Memory, error) {
	m := &Memory{}
	if err := Open(m); err != nil {
		return m, err
	}
	return m, nil
}

func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.spans.Store(off, span{off: off, data: append([]byte(nil), p...)})
	end := off + int64(len(p))
	for {
		cur := m.size.Load()
		if cur >= end || m.size.CompareAndSwap(cur, end) {
			break
		}
	}
	return len(p), nil
}

func (m *Memory) Close() error { return nil }

// Bytes assembles the trace written so far.
func (m *Memory) Bytes() []byte {
	data := make([]byte, m.size.Load())
	m.spans.Range(func(_, value any) bool {
		s := value.(span)
		if s.off < int64(len(data)) {
			copy(data[s.off:], s.data)
		}
		return true
	})
	return data
}

func encodeHeader(kind Kind, source string, payload []byte, ts time.Time) []byte {
	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint16(header[0:2], uint16(kind))
	binary.LittleEndian.PutUint16(header[2:4], uint16(len(source)))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(payload)))
	binary.LittleEndian.PutUint64(header[8:16], uint64(ts.UnixNano()))
	return header
}

func decodeHeader(header [headerSize]byte) (kind Kind, sourceLen uint16, payloadLen uint32, unixNano int64) {
	kind = Kind(binary.LittleEndian.Uint16(header[0:2]))
	sourceLen = binary.LittleEndian.Uint16(header[2:4])
	payloadLen = binary.LittleEndian.Uint32(header[4:8])
	unixNano = int64(binary.LittleEndian.Uint64(header[8:16]))
	return
}

func write(kind Kind, source string, payload []byte) {
	s := current.Load()
	if s == nil {
		return
	}
	if len(source) > 0xFFFF {
		source = source[:0xFFFF]
	}

	entry := make([]byte, 0, headerSize+len(source)+len(payload))
	entry = append(entry, encodeHeader(kind, source, payload, time.Now())...)
	entry = append(entry, source...)
	entry = append(entry, payload...)

	size := uint64(len(entry))
	off := offset.Add(size) - size
	if _, err := s.w.WriteAt(entry, int64(off)); err != nil {
		panic(fmt.Sprintf("trace: write at %d: %v", off, err))
	}
}

// Note records a free-form message.
func Note(source, msg string) {
	write(KindNote, source, []byte(msg))
}

// Notef records a formatted message.
func Notef(source, format string, args ...any) {
	if !Enabled() {
		return
	}
	write(KindNote, source, fmt.Appendf(nil, format, args...))
}
