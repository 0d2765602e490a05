package ffi

import (
	"fmt"
	"strings"
)

// Type is one element of the closed FFI type set.
type Type int

const (
	TypeVoid Type = iota
	TypeBool
	TypeInt    // C "long long", matches the script host's integer width
	TypeDouble // C "double"
	TypeString // C "const char*"
	TypePtr    // C "void*"
	TypeTable  // parameter table, passed as a serialized blob with a stable address
)

func (t Type) String() string {
	switch t {
	case TypeVoid:
		return "void"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "long long"
	case TypeDouble:
		return "double"
	case TypeString:
		return "const char*"
	case TypePtr:
		return "void*"
	case TypeTable:
		return "table"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// UnsupportedSignatureError is returned when a signature falls outside the
// supported set of return and argument patterns.
type UnsupportedSignatureError struct {
	Signature string
	Reason    string
}

func (e *UnsupportedSignatureError) Error() string {
	return fmt.Sprintf("ffi: unsupported signature %q: %s", e.Signature, e.Reason)
}

// Signature is a parsed C-like signature string "returnType(paramType, ...)".
type Signature struct {
	Text   string
	Ret    Type
	Params []Type
}

// Per-call argument budget of the enumerated dispatchers. Signatures beyond
// these bounds fail at import time rather than misbehaving at call time.
const (
	maxTableArgs  = 1
	maxPtrArgs    = 2
	maxIntArgs    = 6
	maxDoubleArgs = 3
	maxBoolArgs   = 3
	maxStringArgs = 1
)

// ParseSignature parses and validates a signature. The type set is closed:
// void, bool, long long, double, const char*, void*, table.
func ParseSignature(text string) (Signature, error) {
	s := Signature{Text: text}

	compact := strings.TrimSpace(text)
	open := strings.IndexByte(compact, '(')
	if open < 0 || !strings.HasSuffix(compact, ")") {
		return s, &UnsupportedSignatureError{Signature: text, Reason: "expected returnType(paramType, ...)"}
	}

	retName := strings.TrimSpace(compact[:open])
	ret, err := parseType(retName, text)
	if err != nil {
		return s, err
	}
	s.Ret = ret

	paramList := strings.TrimSpace(compact[open+1 : len(compact)-1])
	if paramList != "" && paramList != "void" {
		for _, p := range strings.Split(paramList, ",") {
			pt, err := parseType(strings.TrimSpace(p), text)
			if err != nil {
				return s, err
			}
			if pt == TypeVoid {
				return s, &UnsupportedSignatureError{Signature: text, Reason: "void is not a parameter type"}
			}
			s.Params = append(s.Params, pt)
		}
	}

	if err := s.checkBudget(); err != nil {
		return s, err
	}
	return s, nil
}

func parseType(name, sig string) (Type, error) {
	switch name {
	case "void":
		return TypeVoid, nil
	case "bool":
		return TypeBool, nil
	case "long long":
		return TypeInt, nil
	case "double":
		return TypeDouble, nil
	case "const char*", "const char *":
		return TypeString, nil
	case "void*", "void *":
		return TypePtr, nil
	case "table":
		return TypeTable, nil
	case "int":
		return TypeVoid, &UnsupportedSignatureError{Signature: sig,
			Reason: "type 'int' is not supported, use 'long long' (matching the script integer width)"}
	default:
		return TypeVoid, &UnsupportedSignatureError{Signature: sig,
			Reason: fmt.Sprintf("unknown type %q; supported types are void, bool, long long, double, const char*, void*, table", name)}
	}
}

func (s *Signature) checkBudget() error {
	var counts [TypeTable + 1]int
	for _, p := range s.Params {
		counts[p]++
	}
	limits := []struct {
		t   Type
		max int
	}{
		{TypeTable, maxTableArgs},
		{TypePtr, maxPtrArgs},
		{TypeInt, maxIntArgs},
		{TypeDouble, maxDoubleArgs},
		{TypeBool, maxBoolArgs},
		{TypeString, maxStringArgs},
	}
	for _, l := range limits {
		if counts[l.t] > l.max {
			return &UnsupportedSignatureError{Signature: s.Text,
				Reason: fmt.Sprintf("at most %d %s parameter(s) supported", l.max, l.t)}
		}
	}
	// The enumerated dispatchers cannot mix floating-point with pointer-width
	// arguments in arbitrary positions; doubles are supported only in
	// all-double parameter lists.
	if counts[TypeDouble] > 0 && counts[TypeDouble] != len(s.Params) {
		return &UnsupportedSignatureError{Signature: s.Text,
			Reason: "double parameters cannot be mixed with other parameter types"}
	}
	if s.Ret == TypeDouble && counts[TypeDouble] != len(s.Params) {
		return &UnsupportedSignatureError{Signature: s.Text,
			Reason: "a double return requires an all-double parameter list"}
	}
	return nil
}
