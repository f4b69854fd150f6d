package database

import (
	"bytes"
	"sort"
	"strings"
)

type overlayEntry struct {
	value   []byte
	deleted bool
}

// Overlay buffers writes on top of a KV. Reads see buffered writes first.
// Nothing reaches the backend until Commit, which writes one batch.
type Overlay struct {
	parent  KV
	changes map[string]overlayEntry
}

func NewOverlay(parent KV) *Overlay {
	return &Overlay{
		parent:  parent,
		changes: make(map[string]overlayEntry),
	}
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	if e, ok := o.changes[string(key)]; ok {
		if e.deleted {
			return nil, ErrNotFound
		}
		return e.value, nil
	}
	return o.parent.Get(key)
}

func (o *Overlay) Has(key []byte) (bool, error) {
	if e, ok := o.changes[string(key)]; ok {
		return !e.deleted, nil
	}
	return o.parent.Has(key)
}

func (o *Overlay) Put(key, value []byte) error {
	o.changes[string(key)] = overlayEntry{value: append([]byte(nil), value...)}
	return nil
}

func (o *Overlay) Delete(key []byte) error {
	o.changes[string(key)] = overlayEntry{deleted: true}
	return nil
}

func (o *Overlay) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	merged := make(map[string][]byte)
	err := o.parent.Iterate(prefix, func(k, v []byte) error {
		merged[string(k)] = v
		return nil
	})
	if err != nil {
		return err
	}

	p := string(prefix)
	for k, e := range o.changes {
		if !strings.HasPrefix(k, p) {
			continue
		}
		if e.deleted {
			delete(merged, k)
		} else {
			merged[k] = e.value
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := fn([]byte(k), merged[k]); err != nil {
			return err
		}
	}
	return nil
}

// Dirty reports whether any write is buffered.
func (o *Overlay) Dirty() bool {
	return len(o.changes) > 0
}

// Commit writes the buffered changes in key order and resets the overlay.
func (o *Overlay) Commit() error {
	if len(o.changes) == 0 {
		return nil
	}
	keys := make([][]byte, 0, len(o.changes))
	for k := range o.changes {
		keys = append(keys, []byte(k))
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })

	batch := new(Batch)
	for _, k := range keys {
		e := o.changes[string(k)]
		if e.deleted {
			batch.Delete(k)
		} else {
			batch.Put(k, e.value)
		}
	}
	if err := o.parent.Write(batch); err != nil {
		return err
	}
	o.Discard()
	return nil
}

func (o *Overlay) Discard() {
	o.changes = make(map[string]overlayEntry)
}
