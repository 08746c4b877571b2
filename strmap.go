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

// stringMap is the payload of a KindStrings storage: a shape and the values
// of its keys, in the same order.
type stringMap struct {
	shape  *shape
	values []Value
}

func newStringMap(tree *shapeTree) *stringMap {
	return &stringMap{shape: tree.root}
}

func (sm *stringMap) len() int {
	return len(sm.values)
}

func (sm *stringMap) copy() *stringMap {
	return &stringMap{
		shape:  sm.shape,
		values: append([]Value(nil), sm.values...),
	}
}

func (sm *stringMap) clear(tree *shapeTree) {
	sm.shape = tree.root
	sm.values = nil
}

// find returns the position of key, or -1. Comparing a non-string key runs
// user code which may change sm; the search then starts over.
func (sm *stringMap) find(r *Runtime, key Value, hash int64) (int, error) {
	if k, ok := key.(string); ok {
		return sm.shape.indexOf(k), nil
	}
	for {
		sh := sm.shape
		i, o, err := sm.findOnce(r, sh, key, hash)
		if err != nil || o == lookupDone {
			return i, err
		}
		r.hooks.log.Debug("restart strings lookup")
	}
}

func (sm *stringMap) findOnce(r *Runtime, sh *shape, key Value, hash int64) (int, outcome, error) {
	for i, name := range sh.keys {
		if hashString(name) != hash {
			continue
		}
		equal, err := r.protocol.Equal(name, key)
		if err != nil {
			return -1, lookupDone, err
		}
		if sm.shape != sh {
			return -1, lookupRestart, nil
		}
		if equal {
			return i, lookupDone, nil
		}
	}
	return -1, lookupDone, nil
}

// add appends a key known not to be present.
func (sm *stringMap) add(key string, value Value) {
	sm.shape = sm.shape.add(key)
	sm.values = append(sm.values, value)
}

// removeAt removes the i-th key. The keys after it are re-added to the shape
// that precedes it so that the result is shared like any other shape.
func (sm *stringMap) removeAt(i int) Entry {
	keys := sm.shape.keys
	e := Entry{Key: keys[i], Value: sm.values[i], Hash: hashString(keys[i])}
	sh := sm.shape.ancestor(i)
	for _, k := range keys[i+1:] {
		sh = sh.add(k)
	}
	sm.shape = sh
	n := len(sm.values)
	copy(sm.values[i:], sm.values[i+1:])
	sm.values[n-1] = nil
	sm.values = sm.values[:n-1]
	return e
}

// toMap copies the entries into a new Map with room for extra more entries.
func (sm *stringMap) toMap(extra int, h *hooks) *Map {
	m := newMap(sm.len()+extra, false, h)
	for i, k := range sm.shape.keys {
		m.PutBootstrap(k, hashString(k), sm.values[i])
	}
	return m
}
