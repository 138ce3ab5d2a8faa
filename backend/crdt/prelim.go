package crdt

import (
	"slices"
	"unicode/utf8"
	"ydoc-node/backend/types"

	"golang.org/x/xerrors"
)

// Preliminary types are edited in place and ignore the transaction they
// are given. Text indices count bytes until the text is integrated.

// prepareFor prepares values for insertion into the preliminary branch b,
// which must not end up inside itself.
func prepareFor(b *branch, values []any) ([]any, error) {
	seen := map[*branch]struct{}{b: {}}
	out := make([]any, len(values))
	for i, v := range values {
		n, err := prepareValue(v, seen)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func prelimBoundary(s string, index int) error {
	if index < 0 || index > len(s) {
		return outOfRange(index, len(s))
	}
	if index < len(s) && !utf8.RuneStart(s[index]) {
		return xerrors.Errorf("index %d splits a character: %w", index, types.ErrIndexOutOfRange)
	}
	return nil
}

func prelimTextInsert(b *branch, index int, s string, attrs map[string]any) error {
	if len(attrs) > 0 {
		return xerrors.Errorf("formatted insert into %s: %w", b.tag, types.ErrPreliminary)
	}
	if err := prelimBoundary(b.prelimText, index); err != nil {
		return err
	}
	b.prelimText = b.prelimText[:index] + s + b.prelimText[index:]
	return nil
}

func prelimTextDelete(b *branch, index, length int) error {
	if length < 0 {
		return xerrors.Errorf("negative length %d: %w", length, types.ErrIndexOutOfRange)
	}
	if err := prelimBoundary(b.prelimText, index); err != nil {
		return err
	}
	if err := prelimBoundary(b.prelimText, index+length); err != nil {
		return err
	}
	b.prelimText = b.prelimText[:index] + b.prelimText[index+length:]
	return nil
}

func prelimListInsert(b *branch, index int, values []any) error {
	if index < 0 || index > len(b.prelimList) {
		return outOfRange(index, len(b.prelimList))
	}
	vals, err := prepareFor(b, values)
	if err != nil {
		return err
	}
	b.prelimList = slices.Insert(b.prelimList, index, vals...)
	return nil
}

func prelimListDelete(b *branch, index, length int) error {
	n := len(b.prelimList)
	if index < 0 || length < 0 || index > n || index+length > n {
		return xerrors.Errorf("delete [%d, %d) of %d elements: %w", index, index+length, n, types.ErrIndexOutOfRange)
	}
	b.prelimList = slices.Delete(b.prelimList, index, index+length)
	return nil
}

// prelimListMove has the semantics of Array.MoveRangeTo.
func prelimListMove(b *branch, start, end, target int) error {
	n := len(b.prelimList)
	if start < 0 || end < 0 || target < 0 || target > n || (start <= end && end >= n) {
		return xerrors.Errorf("move [%d, %d] to %d of %d elements: %w", start, end, target, n, types.ErrIndexOutOfRange)
	}
	if start > end || (target >= start && target <= end+1) {
		return nil
	}
	moved := slices.Clone(b.prelimList[start : end+1])
	b.prelimList = slices.Delete(b.prelimList, start, end+1)
	if target > end {
		target -= len(moved)
	}
	b.prelimList = slices.Insert(b.prelimList, target, moved...)
	return nil
}

func prelimMapSet(b *branch, key string, v any) {
	if b.prelimEntries == nil {
		b.prelimEntries = make(map[string]any)
	}
	b.prelimEntries[key] = v
}
