package table

import "fmt"

// MergeConflictError is returned when a merge meets a scalar and a sub-table
// under the same key.
type MergeConflictError struct {
	Key any
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("table: cannot merge scalar with sub-table at key %v", e.Key)
}

// Merge folds src into dst: scalars merge shallowly with src winning on
// conflict, sub-tables merge recursively. A scalar meeting a sub-table under
// the same key fails with MergeConflictError and leaves dst partially merged.
func Merge(dst, src *Table) error {
	if src == nil {
		return nil
	}
	for k, v := range src.Data {
		if _, clash := dst.Subs[k]; clash {
			return &MergeConflictError{Key: k}
		}
		dst.Data[k] = v
	}
	for k, s := range src.Subs {
		if _, clash := dst.Data[k]; clash {
			return &MergeConflictError{Key: k}
		}
		if existing, ok := dst.Subs[k]; ok {
			if err := Merge(existing, s); err != nil {
				return err
			}
		} else {
			dst.Subs[k] = s.Clone()
		}
	}
	return nil
}
