package crdt

import (
	"ydoc-node/backend/types"

	"golang.org/x/xerrors"
)

// Map is a shared string keyed map.
type Map struct {
	b *branch
}

// KeyValue is one entry passed to Map.Update.
type KeyValue struct {
	Key   any
	Value any
}

// NewMap returns a preliminary map holding entries.
func NewMap(entries map[string]any) *Map {
	b := newBranch(types.TagMap)
	b.prelimEntries = make(map[string]any, len(entries))
	for k, v := range entries {
		if n, err := types.Normalize(v); err == nil {
			v = n
		}
		b.prelimEntries[k] = v
	}
	return &Map{b: b}
}

func (m *Map) TypeTag() types.TypeTag { return types.TagMap }
func (m *Map) branchRef() *branch     { return m.b }

func (m *Map) Len() int {
	return len(m.b.mapKeys())
}

// Get returns the value of key or ErrKeyNotFound.
func (m *Map) Get(key string) (any, error) {
	v, ok := m.b.mapGet(key)
	if !ok {
		return nil, xerrors.Errorf("%q: %w", key, types.ErrKeyNotFound)
	}
	return v, nil
}

// GetOr returns the value of key or def when the key is missing.
func (m *Map) GetOr(key string, def any) any {
	if v, ok := m.b.mapGet(key); ok {
		return v
	}
	return def
}

func (m *Map) Has(key string) bool {
	_, ok := m.b.mapGet(key)
	return ok
}

func (m *Map) Set(txn *Transaction, key string, v any) error {
	if !m.b.integrated() {
		vals, err := prepareFor(m.b, []any{v})
		if err != nil {
			return err
		}
		prelimMapSet(m.b, key, vals[0])
		return nil
	}
	if err := m.b.check(txn); err != nil {
		return err
	}
	n, err := prepareValue(v, make(map[*branch]struct{}))
	if err != nil {
		return err
	}
	return m.b.mapSet(txn, key, n)
}

// Delete removes key. A missing key fails with ErrKeyNotFound.
func (m *Map) Delete(txn *Transaction, key string) error {
	_, err := m.Pop(txn, key)
	return err
}

// Pop removes key and returns its value.
func (m *Map) Pop(txn *Transaction, key string) (any, error) {
	if m.b.integrated() {
		if err := m.b.check(txn); err != nil {
			return nil, err
		}
	}
	v, ok := m.b.mapGet(key)
	if !ok {
		return nil, xerrors.Errorf("%q: %w", key, types.ErrKeyNotFound)
	}
	if !m.b.integrated() {
		delete(m.b.prelimEntries, key)
		return v, nil
	}
	m.b.mapDelete(txn, key)
	return v, nil
}

// PopOr is Pop returning def for a missing key.
func (m *Map) PopOr(txn *Transaction, key string, def any) (any, error) {
	v, err := m.Pop(txn, key)
	if xerrors.Is(err, types.ErrKeyNotFound) {
		return def, nil
	}
	return v, err
}

// Update sets several entries at once. entries is a map[string]any, a
// map[any]any or a []KeyValue; every key is validated before anything is
// written.
func (m *Map) Update(txn *Transaction, entries any) error {
	if m.b.integrated() {
		if err := m.b.check(txn); err != nil {
			return err
		}
	}
	var kvs []KeyValue
	switch x := entries.(type) {
	case map[string]any:
		for _, k := range types.SortedKeys(x) {
			kvs = append(kvs, KeyValue{Key: k, Value: x[k]})
		}
	case map[any]any:
		for k, v := range x {
			kvs = append(kvs, KeyValue{Key: k, Value: v})
		}
	case []KeyValue:
		kvs = x
	default:
		return xerrors.Errorf("cannot update a map from %T: %w", entries, types.ErrUnsupportedValue)
	}

	keys := make([]string, len(kvs))
	vals := make([]any, len(kvs))
	for i, kv := range kvs {
		k, ok := kv.Key.(string)
		if !ok {
			return xerrors.Errorf("key %v (%T): %w", kv.Key, kv.Key, types.ErrInvalidKey)
		}
		keys[i] = k
		vals[i] = kv.Value
	}
	if !m.b.integrated() {
		prepared, err := prepareFor(m.b, vals)
		if err != nil {
			return err
		}
		for i, k := range keys {
			prelimMapSet(m.b, k, prepared[i])
		}
		return nil
	}
	prepared, err := prepareValues(vals)
	if err != nil {
		return err
	}
	for i, k := range keys {
		if err := m.b.mapSet(txn, k, prepared[i]); err != nil {
			return err
		}
	}
	return nil
}

// Keys returns the keys in ascending order.
func (m *Map) Keys() []string {
	return m.b.mapKeys()
}

// Values returns the values ordered by key.
func (m *Map) Values() []any {
	keys := m.b.mapKeys()
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i], _ = m.b.mapGet(k)
	}
	return out
}

func (m *Map) Entries() map[string]any {
	return m.b.mapEntries()
}

func (m *Map) ToJSON() any {
	out := make(map[string]any)
	for k, v := range m.b.mapEntries() {
		out[k] = types.ToJSON(v)
	}
	return out
}

func (m *Map) String() string {
	return jsonString(m.ToJSON())
}

func (m *Map) Observe(fn func(*Event)) *Subscription { return m.b.observers.add(fn) }
func (m *Map) Unobserve(sub *Subscription) bool      { return m.b.observers.remove(sub) }

func (m *Map) ObserveDeep(fn func([]*Event)) *Subscription { return m.b.deepObservers.add(fn) }
func (m *Map) UnobserveDeep(sub *Subscription) bool        { return m.b.deepObservers.remove(sub) }
