package trace

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// callFixed is flags(1) argc(1) reserved(2) drift(8) elapsed(8) result(8).
const callFixed = 28

const flagRepaired = 1 << 0

// Call is one native invocation as seen by the dispatcher.
type Call struct {
	Args     []uint64
	Result   uint64
	Repaired bool
	Drift    int64
	Elapsed  time.Duration
}

func (c Call) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, a := range c.Args {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%#x", a)
	}
	fmt.Fprintf(&sb, ") = %#x in %s", c.Result, c.Elapsed)
	if c.Repaired {
		fmt.Fprintf(&sb, " [stack repaired, drift %d]", c.Drift)
	}
	return sb.String()
}

// EncodeCall serializes c. At most 255 arguments are kept.
func EncodeCall(c Call) []byte {
	args := c.Args
	if len(args) > 0xFF {
		args = args[:0xFF]
	}

	buf := make([]byte, callFixed+8*len(args))
	if c.Repaired {
		buf[0] |= flagRepaired
	}
	buf[1] = byte(len(args))
	binary.LittleEndian.PutUint64(buf[4:12], uint64(c.Drift))
	binary.LittleEndian.PutUint64(buf[12:20], uint64(c.Elapsed))
	binary.LittleEndian.PutUint64(buf[20:28], c.Result)
	for i, a := range args {
		binary.LittleEndian.PutUint64(buf[callFixed+8*i:], a)
	}
	return buf
}

// DecodeCall parses a KindCall payload.
func DecodeCall(data []byte) (Call, error) {
	if len(data) < callFixed {
		return Call{}, fmt.Errorf("call record: short payload (%d bytes)", len(data))
	}
	argc := int(data[1])
	if len(data) != callFixed+8*argc {
		return Call{}, fmt.Errorf("call record: %d arguments need %d bytes, have %d", argc, callFixed+8*argc, len(data))
	}

	c := Call{
		Repaired: data[0]&flagRepaired != 0,
		Drift:    int64(binary.LittleEndian.Uint64(data[4:12])),
		Elapsed:  time.Duration(binary.LittleEndian.Uint64(data[12:20])),
		Result:   binary.LittleEndian.Uint64(data[20:28]),
	}
	if argc > 0 {
		c.Args = make([]uint64, argc)
		for i := range c.Args {
			c.Args[i] = binary.LittleEndian.Uint64(data[callFixed+8*i:])
		}
	}
	return c, nil
}

// RecordCall appends a call entry for source.
func RecordCall(source string, c Call) {
	if !Enabled() {
		return
	}
	write(KindCall, source, EncodeCall(c))
}
