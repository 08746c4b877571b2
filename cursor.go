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

// Cursor walks the entries of a Storage in insertion order, or in reverse.
// A new Cursor is positioned before the first entry; Advance must be called
// before reading one.
//
//	c, err := r.Iterate(s)
//	...
//	for c.Advance() {
//		fmt.Println(c.Key(), c.Value())
//	}
//
// The position of a Cursor is a single integer which can be saved with State
// and restored with SetState, so an iterator object of the language can be
// suspended and resumed. A restored position is only meaningful if the
// storage has not changed representation and has not been compacted since
// the position was saved. The Cursor does not check this.
//
// Entries inserted while iterating may or may not be visited. Foreign
// storages are iterated over a snapshot taken by Iterate.
type Cursor struct {
	s       *Storage
	index   int
	reverse bool

	// Snapshot of a foreign storage.
	keys   []Value
	values []Value
	hashes []int64
}

// Iterate returns a Cursor positioned before the first entry of s.
func (r *Runtime) Iterate(s *Storage) (*Cursor, error) {
	return r.newCursor(s, false)
}

// ReverseIterate returns a Cursor positioned after the last entry of s that
// walks the entries from the most recently inserted.
func (r *Runtime) ReverseIterate(s *Storage) (*Cursor, error) {
	return r.newCursor(s, true)
}

func (r *Runtime) newCursor(s *Storage, reverse bool) (*Cursor, error) {
	c := &Cursor{s: s, reverse: reverse}
	if s.kind == KindForeign {
		keys, values, err := r.foreignSnapshot(s.foreign)
		if err != nil {
			return nil, err
		}
		c.keys, c.values = keys, values
		c.hashes = make([]int64, len(keys))
		for i, k := range keys {
			if c.hashes[i], err = r.hash(k); err != nil {
				return nil, err
			}
		}
	}
	c.index = -1
	if reverse {
		c.index = c.limit()
	}
	return c, nil
}

// limit returns one past the largest position of the storage.
func (c *Cursor) limit() int {
	s := c.s
	switch s.kind {
	case KindEmpty:
		return 0
	case KindKeywords:
		return len(s.keywords)
	case KindGeneric:
		return s.generic.usedHashes
	case KindStrings:
		return s.strings.len()
	case KindFrame:
		return len(s.frame.Names())
	case KindForeign:
		return len(c.keys)
	}
	panic(unknownKind(s))
}

func (c *Cursor) live(i int) bool {
	switch c.s.kind {
	case KindGeneric:
		return c.s.generic.entries[i].live
	case KindFrame:
		_, ok := c.s.frame.Slot(i)
		return ok
	}
	return true
}

// Advance moves to the next entry and reports whether there is one.
func (c *Cursor) Advance() bool {
	for {
		n := c.limit()
		if c.reverse {
			c.index--
			if c.index >= n {
				c.index = n - 1
			}
			if c.index < 0 {
				c.index = -1
				return false
			}
		} else {
			c.index++
			if c.index >= n {
				c.index = n
				return false
			}
		}
		if c.live(c.index) {
			return true
		}
	}
}

// Key returns the key of the current entry.
func (c *Cursor) Key() Value {
	s := c.s
	switch s.kind {
	case KindKeywords:
		return s.keywords[c.index].Name
	case KindGeneric:
		return s.generic.entries[c.index].key
	case KindStrings:
		return s.strings.shape.keys[c.index]
	case KindFrame:
		return s.frame.Names()[c.index]
	case KindForeign:
		return c.keys[c.index]
	}
	panic(unknownKind(s))
}

// Value returns the value of the current entry.
func (c *Cursor) Value() Value {
	s := c.s
	switch s.kind {
	case KindKeywords:
		return s.keywords[c.index].Value
	case KindGeneric:
		return s.generic.entries[c.index].value
	case KindStrings:
		return s.strings.values[c.index]
	case KindFrame:
		v, _ := s.frame.Slot(c.index)
		return v
	case KindForeign:
		return c.values[c.index]
	}
	panic(unknownKind(s))
}

// Hash returns the cached hash of the key of the current entry.
func (c *Cursor) Hash() int64 {
	s := c.s
	switch s.kind {
	case KindGeneric:
		return s.generic.hashes[c.index]
	case KindForeign:
		return c.hashes[c.index]
	case KindKeywords, KindStrings, KindFrame:
		return hashString(c.Key().(string))
	}
	panic(unknownKind(s))
}

// State returns the position of the cursor.
func (c *Cursor) State() int {
	return c.index
}

// SetState restores a position returned by State.
func (c *Cursor) SetState(state int) {
	c.index = state
}
