package table

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// Wire tags, one byte per value. The layout must round-trip:
// Unmarshal(Marshal(t)) equals t for every table in the value domain.
const (
	tagInt     = 0x01
	tagFloat   = 0x02
	tagBool    = 0x03
	tagString  = 0x04
	tagPointer = 0x05
)

// Marshal encodes the table as a self-contained byte stream.
func Marshal(t *Table) []byte {
	var buf []byte
	return appendTable(buf, t)
}

func appendTable(buf []byte, t *Table) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(t.Data)))
	for k, v := range t.Data {
		buf = appendValue(buf, k)
		buf = appendValue(buf, v)
	}
	buf = binary.AppendUvarint(buf, uint64(len(t.Subs)))
	for k, s := range t.Subs {
		buf = appendValue(buf, k)
		buf = appendTable(buf, s)
	}
	return buf
}

func appendValue(buf []byte, v any) []byte {
	switch x := v.(type) {
	case int64:
		buf = append(buf, tagInt)
		return binary.AppendVarint(buf, x)
	case float64:
		buf = append(buf, tagFloat)
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(x))
	case bool:
		buf = append(buf, tagBool)
		if x {
			return append(buf, 1)
		}
		return append(buf, 0)
	case string:
		buf = append(buf, tagString)
		buf = binary.AppendUvarint(buf, uint64(len(x)))
		return append(buf, x...)
	case Pointer:
		// Managed pointers travel as their textual address.
		s := "0x" + strconv.FormatUint(uint64(x), 16)
		buf = append(buf, tagPointer)
		buf = binary.AppendUvarint(buf, uint64(len(s)))
		return append(buf, s...)
	default:
		panic(fmt.Sprintf("table: cannot serialize value of type %T", v))
	}
}

// Unmarshal decodes a byte stream produced by Marshal.
func Unmarshal(data []byte) (*Table, error) {
	t, n, err := UnmarshalPrefix(data)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("table: %d trailing bytes after payload", len(data)-n)
	}
	return t, nil
}

// UnmarshalPrefix decodes one table from the front of data and returns it
// together with the number of bytes consumed. The encoding is
// self-delimiting, so callers reading from oversized buffers (e.g. blobs
// crossing the FFI boundary) can ignore the tail.
func UnmarshalPrefix(data []byte) (*Table, int, error) {
	d := &decoder{buf: data}
	t, err := d.table()
	if err != nil {
		return nil, 0, err
	}
	return t, d.pos, nil
}

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) table() (*Table, error) {
	t := New()
	n, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		k, err := d.value()
		if err != nil {
			return nil, err
		}
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		t.Data[k] = v
	}
	m, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < m; i++ {
		k, err := d.value()
		if err != nil {
			return nil, err
		}
		s, err := d.table()
		if err != nil {
			return nil, err
		}
		t.Subs[k] = s
	}
	return t, nil
}

func (d *decoder) value() (any, error) {
	if d.pos >= len(d.buf) {
		return nil, fmt.Errorf("table: truncated value")
	}
	tag := d.buf[d.pos]
	d.pos++
	switch tag {
	case tagInt:
		v, n := binary.Varint(d.buf[d.pos:])
		if n <= 0 {
			return nil, fmt.Errorf("table: bad integer encoding")
		}
		d.pos += n
		return v, nil
	case tagFloat:
		if d.pos+8 > len(d.buf) {
			return nil, fmt.Errorf("table: truncated float")
		}
		v := math.Float64frombits(binary.BigEndian.Uint64(d.buf[d.pos:]))
		d.pos += 8
		return v, nil
	case tagBool:
		if d.pos >= len(d.buf) {
			return nil, fmt.Errorf("table: truncated bool")
		}
		v := d.buf[d.pos] != 0
		d.pos++
		return v, nil
	case tagString:
		s, err := d.str()
		if err != nil {
			return nil, err
		}
		return s, nil
	case tagPointer:
		s, err := d.str()
		if err != nil {
			return nil, err
		}
		addr, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("table: bad pointer text %q: %w", s, err)
		}
		return Pointer(addr), nil
	default:
		return nil, fmt.Errorf("table: unknown tag 0x%02x", tag)
	}
}

func (d *decoder) str() (string, error) {
	n, err := d.uvarint()
	if err != nil {
		return "", err
	}
	if uint64(len(d.buf)-d.pos) < n {
		return "", fmt.Errorf("table: truncated string")
	}
	s := string(d.buf[d.pos : d.pos+int(n)])
	d.pos += int(n)
	return s, nil
}

func (d *decoder) uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("table: bad varint")
	}
	d.pos += n
	return v, nil
}
