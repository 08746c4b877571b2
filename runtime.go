// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dictstore

import (
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const defaultStringKeyLimit = 64

// Runtime performs operations on Storages. Each operation is a single
// dispatch over the kind of its Storage; operations that may change the
// representation return the Storage to use from then on, which the caller
// must store in place of the one it passed in.
//
// String keys always hash with the builtin string hash, whatever the
// protocol; the specialized representations rely on it.
type Runtime struct {
	protocol       KeyProtocol
	hooks          *hooks
	lock           *Lock
	stringKeyLimit int
	shapes         *shapeTree
}

// NewRuntime constructs a Runtime configured by options.
func NewRuntime(options ...option) *Runtime {
	r := &Runtime{
		protocol: BuiltinProtocol{},
		hooks: &hooks{
			log:        defaultHooks.log,
			reportLoop: defaultHooks.reportLoop,
		},
		stringKeyLimit: defaultStringKeyLimit,
		shapes:         newShapeTree(),
	}
	for _, op := range options {
		op.apply(r)
	}
	if r.hooks.log == nil {
		r.hooks.log = zap.NewNop()
	}
	if r.hooks.reportLoop == nil {
		r.hooks.reportLoop = defaultHooks.reportLoop
	}
	if r.protocol == nil {
		r.protocol = BuiltinProtocol{}
	}
	return r
}

// Protocol returns the key protocol of the Runtime.
func (r *Runtime) Protocol() KeyProtocol {
	return r.protocol
}

// Empty returns the shared empty storage.
func (r *Runtime) Empty() *Storage {
	return emptyStorage
}

// NewGeneric returns an empty Generic storage with room for capacity entries.
func (r *Runtime) NewGeneric(capacity int) *Storage {
	return newGenericStorage(newMap(capacity, false, r.hooks))
}

// NewStrings returns an empty Strings storage, the representation meant for
// attribute dictionaries and small namespaces.
func (r *Runtime) NewStrings() *Storage {
	return &Storage{kind: KindStrings, strings: newStringMap(r.shapes)}
}

// NewFrameView returns a read-only view of the bound slots of f. The first
// mutation copies the view into a storage of its own.
func (r *Runtime) NewFrameView(f Frame) *Storage {
	return &Storage{kind: KindFrame, frame: f}
}

// NewForeign returns a storage delegating every operation to p.
func (r *Runtime) NewForeign(p Provider) *Storage {
	return &Storage{kind: KindForeign, foreign: p}
}

// CreateFromKeywords returns an immutable storage of keyword arguments. Names
// must be distinct.
func (r *Runtime) CreateFromKeywords(kws []Keyword) *Storage {
	if len(kws) == 0 {
		return emptyStorage
	}
	return &Storage{kind: KindKeywords, keywords: append([]Keyword(nil), kws...)}
}

// CreateFromPairs returns a Generic storage holding pairs. Later pairs
// overwrite the values of earlier pairs with equal keys.
func (r *Runtime) CreateFromPairs(pairs [][2]Value) (*Storage, error) {
	s := r.NewGeneric(len(pairs))
	for _, p := range pairs {
		hash, err := r.hash(p[0])
		if err != nil {
			return nil, err
		}
		if err := r.putGeneric(s.generic, p[0], hash, p[1]); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (r *Runtime) hash(key Value) (int64, error) {
	if s, ok := key.(string); ok {
		return hashString(s), nil
	}
	return r.protocol.Hash(key)
}

// Len returns the number of entries in s.
func (r *Runtime) Len(s *Storage) int {
	switch s.kind {
	case KindEmpty:
		return 0
	case KindKeywords:
		return len(s.keywords)
	case KindGeneric:
		return s.generic.Len()
	case KindStrings:
		return s.strings.len()
	case KindFrame:
		return frameLen(s.frame)
	case KindForeign:
		return r.foreignLen(s.foreign)
	}
	panic(unknownKind(s))
}

// Get returns the value for key, with ok=false if s has no such key.
func (r *Runtime) Get(s *Storage, key Value) (value Value, ok bool, err error) {
	if s.kind == KindForeign {
		return r.foreignGet(s.foreign, key)
	}
	hash, err := r.hash(key)
	if err != nil {
		return nil, false, err
	}
	return r.getHashed(s, key, hash)
}

// Contains reports whether s has key.
func (r *Runtime) Contains(s *Storage, key Value) (bool, error) {
	_, ok, err := r.Get(s, key)
	return ok, err
}

func (r *Runtime) getHashed(s *Storage, key Value, hash int64) (Value, bool, error) {
	switch s.kind {
	case KindEmpty:
		return nil, false, nil
	case KindKeywords:
		i, err := keywordIndex(s.keywords, key, hash, r.protocol)
		if err != nil || i < 0 {
			return nil, false, err
		}
		return s.keywords[i].Value, true, nil
	case KindGeneric:
		return s.generic.Get(r.protocol, key, hash)
	case KindStrings:
		i, err := s.strings.find(r, key, hash)
		if err != nil || i < 0 {
			return nil, false, err
		}
		return s.strings.values[i], true, nil
	case KindFrame:
		i, v, err := frameLookup(s.frame, key, hash, r.protocol)
		return v, i >= 0, err
	case KindForeign:
		return r.foreignGet(s.foreign, key)
	}
	panic(unknownKind(s))
}

// Set inserts or overwrites the entry for key.
func (r *Runtime) Set(s *Storage, key, value Value) (*Storage, error) {
	if s.kind == KindForeign {
		return s, r.foreignPut(s.foreign, key, value)
	}
	hash, err := r.hash(key)
	if err != nil {
		return s, err
	}
	return r.setHashed(s, key, hash, value)
}

func (r *Runtime) setHashed(s *Storage, key Value, hash int64, value Value) (*Storage, error) {
	switch s.kind {
	case KindEmpty, KindKeywords:
		g := r.transition(s, KindGeneric, 1)
		return g, r.putGeneric(g.generic, key, hash, value)
	case KindGeneric:
		return s, r.putGeneric(s.generic, key, hash, value)
	case KindStrings:
		sm := s.strings
		if k, ok := key.(string); ok {
			if i := sm.shape.indexOf(k); i >= 0 {
				sm.values[i] = value
				return s, nil
			}
			if sm.len() < r.stringKeyLimit {
				sm.add(k, value)
				return s, nil
			}
		}
		g := r.transition(s, KindGeneric, 1)
		return g, r.putGeneric(g.generic, key, hash, value)
	case KindFrame:
		return r.setHashed(r.materialize(s, 1), key, hash, value)
	case KindForeign:
		return s, r.foreignPut(s.foreign, key, value)
	}
	panic(unknownKind(s))
}

func (r *Runtime) putGeneric(m *Map, key Value, hash int64, value Value) error {
	if !m.sideEffectingKeys && !r.protocol.SideEffectFree(key) {
		m.SetSideEffectingKeys()
	}
	return m.Put(r.protocol, key, hash, value)
}

// Delete removes the entry for key, returning its value.
func (r *Runtime) Delete(s *Storage, key Value) (_ *Storage, value Value, ok bool, err error) {
	if s.kind == KindForeign {
		value, ok, err = r.foreignDelete(s.foreign, key)
		return s, value, ok, err
	}
	hash, err := r.hash(key)
	if err != nil {
		return s, nil, false, err
	}
	return r.deleteHashed(s, key, hash)
}

func (r *Runtime) deleteHashed(s *Storage, key Value, hash int64) (*Storage, Value, bool, error) {
	switch s.kind {
	case KindEmpty:
		return s, nil, false, nil
	case KindKeywords:
		i, err := keywordIndex(s.keywords, key, hash, r.protocol)
		if err != nil || i < 0 {
			return s, nil, false, err
		}
		name := s.keywords[i].Name
		g := r.transition(s, KindGeneric, 0)
		v, ok, err := g.generic.Delete(r.protocol, name, hashString(name))
		return g, v, ok, err
	case KindGeneric:
		v, ok, err := s.generic.Delete(r.protocol, key, hash)
		return s, v, ok, err
	case KindStrings:
		i, err := s.strings.find(r, key, hash)
		if err != nil || i < 0 {
			return s, nil, false, err
		}
		e := s.strings.removeAt(i)
		return s, e.Value, true, nil
	case KindFrame:
		i, _, err := frameLookup(s.frame, key, hash, r.protocol)
		if err != nil || i < 0 {
			return s, nil, false, err
		}
		name := s.frame.Names()[i]
		return r.deleteHashed(r.materialize(s, 0), name, hashString(name))
	case KindForeign:
		v, ok, err := r.foreignDelete(s.foreign, key)
		return s, v, ok, err
	}
	panic(unknownKind(s))
}

// Pop removes and returns the most recently inserted entry.
func (r *Runtime) Pop(s *Storage) (_ *Storage, e Entry, ok bool, err error) {
	switch s.kind {
	case KindEmpty:
		return s, Entry{}, false, nil
	case KindKeywords:
		g := r.transition(s, KindGeneric, 0)
		e, ok = g.generic.PopLast()
		return g, e, ok, nil
	case KindGeneric:
		e, ok = s.generic.PopLast()
		return s, e, ok, nil
	case KindStrings:
		if s.strings.len() == 0 {
			return s, Entry{}, false, nil
		}
		return s, s.strings.removeAt(s.strings.len() - 1), true, nil
	case KindFrame:
		if frameLen(s.frame) == 0 {
			return s, Entry{}, false, nil
		}
		return r.Pop(r.materialize(s, 0))
	case KindForeign:
		var keys []Value
		if err := r.lock.released(func() (err error) {
			keys, err = s.foreign.Keys()
			return err
		}); err != nil || len(keys) == 0 {
			return s, Entry{}, false, err
		}
		e.Key = keys[len(keys)-1]
		if e.Hash, err = r.hash(e.Key); err != nil {
			return s, Entry{}, false, err
		}
		e.Value, ok, err = r.foreignDelete(s.foreign, e.Key)
		return s, e, ok, err
	}
	panic(unknownKind(s))
}

// Copy returns a storage with the same entries in the same order whose
// mutation does not affect s. Immutable storages are returned as is.
func (r *Runtime) Copy(s *Storage) (*Storage, error) {
	switch s.kind {
	case KindEmpty, KindKeywords:
		return s, nil
	case KindGeneric:
		return newGenericStorage(s.generic.Copy()), nil
	case KindStrings:
		return &Storage{kind: KindStrings, strings: s.strings.copy()}, nil
	case KindFrame:
		return r.materialize(s, 0), nil
	case KindForeign:
		keys, values, err := r.foreignSnapshot(s.foreign)
		if err != nil {
			return nil, err
		}
		g := r.NewGeneric(len(keys))
		for i, k := range keys {
			hash, err := r.hash(k)
			if err != nil {
				return nil, err
			}
			if err := r.putGeneric(g.generic, k, hash, values[i]); err != nil {
				return nil, err
			}
		}
		return g, nil
	}
	panic(unknownKind(s))
}

// Clear removes every entry. Generic, Strings and Foreign storages are
// cleared in place; the others are replaced by the empty storage.
func (r *Runtime) Clear(s *Storage) (*Storage, error) {
	switch s.kind {
	case KindEmpty, KindKeywords, KindFrame:
		return emptyStorage, nil
	case KindGeneric:
		s.generic.Clear()
		return s, nil
	case KindStrings:
		s.strings.clear(r.shapes)
		return s, nil
	case KindForeign:
		return s, r.foreignClear(s.foreign)
	}
	panic(unknownKind(s))
}

// Keys returns the keys of s in iteration order.
func (r *Runtime) Keys(s *Storage) ([]Value, error) {
	c, err := r.Iterate(s)
	if err != nil {
		return nil, err
	}
	var keys []Value
	for c.Advance() {
		keys = append(keys, c.Key())
	}
	return keys, nil
}

// AddAllInto inserts every entry of src into dest and returns the storage to
// use in place of dest. Values of src win over values of dest.
func (r *Runtime) AddAllInto(src, dest *Storage) (*Storage, error) {
	return forEach(r, src, dest, func(key Value, hash int64, value Value, dest *Storage) (*Storage, error) {
		return r.setHashed(dest, key, hash, value)
	})
}

// materialize copies a frame view into a storage of its own with room for
// extra more entries.
func (r *Runtime) materialize(s *Storage, extra int) *Storage {
	if frameLen(s.frame)+extra <= r.stringKeyLimit {
		return r.transition(s, KindStrings, extra)
	}
	return r.transition(s, KindGeneric, extra)
}

// transition returns a new storage of kind to holding the entries of s, with
// room for extra more. It is the only place representations change.
func (r *Runtime) transition(s *Storage, to Kind, extra int) *Storage {
	var out *Storage
	switch to {
	case KindGeneric:
		var m *Map
		switch s.kind {
		case KindEmpty:
			m = newMap(extra, false, r.hooks)
		case KindKeywords:
			m = keywordsToMap(s.keywords, extra, r.hooks)
		case KindStrings:
			m = s.strings.toMap(extra, r.hooks)
		case KindFrame:
			keys, values := frameSnapshot(s.frame)
			m = newMap(len(keys)+extra, false, r.hooks)
			for i, k := range keys {
				name := k.(string)
				m.PutBootstrap(name, hashString(name), values[i])
			}
		default:
			panic(errors.AssertionFailedf("no transition from %s to %s", s.kind, to))
		}
		out = newGenericStorage(m)
	case KindStrings:
		if s.kind != KindFrame {
			panic(errors.AssertionFailedf("no transition from %s to %s", s.kind, to))
		}
		sm := newStringMap(r.shapes)
		keys, values := frameSnapshot(s.frame)
		for i, k := range keys {
			sm.add(k.(string), values[i])
		}
		out = &Storage{kind: KindStrings, strings: sm}
	default:
		panic(errors.AssertionFailedf("no transition from %s to %s", s.kind, to))
	}
	if s.kind != KindEmpty {
		r.hooks.log.Debug("transition",
			zap.Stringer("from", s.kind), zap.Stringer("to", to), zap.Int("len", r.Len(out)))
	}
	return out
}

func unknownKind(s *Storage) error {
	return errors.AssertionFailedf("unknown storage kind %s", s.kind)
}
