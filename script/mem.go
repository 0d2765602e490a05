package script

import (
	"fmt"
	"unsafe"

	"github.com/agentgrid-dev/agentgrid/table"
)

// Raw memory access for scripts. Widths 1, 2, 4 and 8 address unsigned
// integers, −8 addresses a float64. Integer stores wrap on overflow. Width
// 16 needs a 128-bit integer type and is rejected on this platform.

// Peek reads width bytes at addr.
func Peek(addr uintptr, width int64) (any, error) {
	switch width {
	case 0, 1:
		return int64(*(*uint8)(unsafe.Pointer(addr))), nil
	case 2:
		return int64(*(*uint16)(unsafe.Pointer(addr))), nil
	case 4:
		return int64(*(*uint32)(unsafe.Pointer(addr))), nil
	case 8:
		return int64(*(*uint64)(unsafe.Pointer(addr))), nil
	case -8:
		return *(*float64)(unsafe.Pointer(addr)), nil
	case 16:
		return nil, fmt.Errorf("peek: width 16 needs a 128-bit integer type, which this platform does not provide")
	default:
		return nil, fmt.Errorf("peek: width must be 1, 2, 4, 8 or -8 (floating point); %d is not supported", width)
	}
}

// Poke writes value at addr with the given width.
func Poke(addr uintptr, value any, width int64) error {
	if width == -8 {
		f, ok := value.(float64)
		if !ok {
			if n, isInt := value.(int64); isInt {
				f = float64(n)
			} else {
				return fmt.Errorf("poke: width -8 needs a number, got %T", value)
			}
		}
		*(*float64)(unsafe.Pointer(addr)) = f
		return nil
	}

	n, ok := value.(int64)
	if !ok {
		if f, isFloat := value.(float64); isFloat {
			n = int64(f)
		} else {
			return fmt.Errorf("poke: width %d needs an integer, got %T", width, value)
		}
	}

	switch width {
	case 0, 1:
		*(*uint8)(unsafe.Pointer(addr)) = uint8(n)
	case 2:
		*(*uint16)(unsafe.Pointer(addr)) = uint16(n)
	case 4:
		*(*uint32)(unsafe.Pointer(addr)) = uint32(n)
	case 8:
		*(*uint64)(unsafe.Pointer(addr)) = uint64(n)
	case 16:
		return fmt.Errorf("poke: width 16 needs a 128-bit integer type, which this platform does not provide")
	default:
		return fmt.Errorf("poke: width must be 1, 2, 4, 8 or -8 (floating point); %d is not supported", width)
	}
	return nil
}

// AddOffset advances addr by offset elements of the given width.
func AddOffset(addr uintptr, offset, width int64) (table.Pointer, error) {
	var size int64
	switch width {
	case 0, 1:
		size = 1
	case 2:
		size = 2
	case 4:
		size = 4
	case 8, -8:
		size = 8
	case 16:
		return 0, fmt.Errorf("addoffset: width 16 needs a 128-bit integer type, which this platform does not provide")
	default:
		return 0, fmt.Errorf("addoffset: width must be 1, 2, 4, 8 or -8 (floating point); %d is not supported", width)
	}
	return table.Pointer(int64(addr) + offset*size), nil
}

func pointerValue(addr uintptr) table.Pointer {
	return table.Pointer(addr)
}

func argString(args []any, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].(string)
	return s, ok
}

func argInt(args []any, i int) (int64, bool) {
	if i >= len(args) {
		return 0, false
	}
	switch v := args[i].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

func argPointer(args []any, i int) (table.Pointer, bool) {
	if i >= len(args) {
		return 0, false
	}
	switch v := args[i].(type) {
	case table.Pointer:
		return v, true
	case int64:
		return table.Pointer(v), true
	default:
		return 0, false
	}
}

func argTable(args []any, i int) (*table.Table, bool) {
	if i >= len(args) {
		return nil, false
	}
	t, ok := args[i].(*table.Table)
	return t, ok
}
