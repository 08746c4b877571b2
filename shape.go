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

import "sync"

// unrollLimit is the largest key list searched by a plain loop. Longer
// lists use the shape's index.
const unrollLimit = 8

// shape is an immutable ordered list of string keys. Shapes form a tree:
// adding a key to a shape yields a child that is shared by every storage
// that adds the same key to the same parent, so storages built by the same
// sequence of insertions (the attribute dictionaries of objects of one
// class, say) share a single key list and only keep their own values.
//
//	root -> "x" -> "y" -> "z"
//	           \-> "name"
type shape struct {
	parent *shape
	keys   []string

	indexOnce sync.Once
	index     map[string]int

	// Shapes are shared by every storage of a Runtime, which may be used by
	// several interpreter threads, so transitions are guarded.
	mu          sync.Mutex
	transitions map[string]*shape
}

// shapeTree is the root of the shapes of a Runtime.
type shapeTree struct {
	root *shape
}

func newShapeTree() *shapeTree {
	return &shapeTree{root: &shape{}}
}

// add returns the shape with key appended. key must not be in s.
func (s *shape) add(key string) *shape {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.transitions[key]; ok {
		return c
	}
	keys := make([]string, len(s.keys)+1)
	copy(keys, s.keys)
	keys[len(s.keys)] = key
	c := &shape{parent: s, keys: keys}
	if s.transitions == nil {
		s.transitions = make(map[string]*shape)
	}
	s.transitions[key] = c
	return c
}

// ancestor returns the shape holding the first n keys of s.
func (s *shape) ancestor(n int) *shape {
	for len(s.keys) > n {
		s = s.parent
	}
	return s
}

// indexOf returns the position of key in s, or -1.
func (s *shape) indexOf(key string) int {
	keys := s.keys
	if len(keys) <= unrollLimit {
		for i := range keys {
			if keys[i] == key {
				return i
			}
		}
		return -1
	}
	s.indexOnce.Do(func() {
		s.index = make(map[string]int, len(keys))
		for i, k := range keys {
			s.index[k] = i
		}
	})
	if i, ok := s.index[key]; ok {
		return i
	}
	return -1
}
