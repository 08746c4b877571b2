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

// Package btreestore implements an ordered key/value store that can back a
// foreign storage of the dictstore package.
//
//	r := dictstore.NewRuntime()
//	s := r.NewForeign(btreestore.New())
//	s, err := r.Set(s, "k", 1)
//
// Keys are integers or strings. Integers order before strings; both order
// naturally among themselves. Keys are returned in that order, so a foreign
// storage backed by a Store iterates in key order rather than insertion
// order.
package btreestore

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"
)

// ErrUnsupportedKey is returned for keys that are neither integers nor
// strings.
var ErrUnsupportedKey = errors.New("btreestore: unsupported key type")

const degree = 16

// Store is a goroutine-safe ordered key/value store.
type Store struct {
	mu   sync.Mutex
	tree *btree.BTree
}

// New returns an empty Store.
func New() *Store {
	return &Store{tree: btree.New(degree)}
}

type item struct {
	// Integer keys are normalized to int64.
	i     int64
	s     string
	isStr bool
	key   interface{}
	value interface{}
}

func (a *item) Less(than btree.Item) bool {
	b := than.(*item)
	if a.isStr != b.isStr {
		return !a.isStr
	}
	if a.isStr {
		return a.s < b.s
	}
	return a.i < b.i
}

func makeItem(key interface{}) (*item, error) {
	it := &item{key: key}
	switch k := key.(type) {
	case string:
		it.s, it.isStr = k, true
	case int:
		it.i = int64(k)
	case int8:
		it.i = int64(k)
	case int16:
		it.i = int64(k)
	case int32:
		it.i = int64(k)
	case int64:
		it.i = k
	case uint8:
		it.i = int64(k)
	case uint16:
		it.i = int64(k)
	case uint32:
		it.i = int64(k)
	default:
		return nil, errors.Wrapf(ErrUnsupportedKey, "%T", key)
	}
	return it, nil
}

// Len returns the number of keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Len()
}

// Get returns the value for key.
func (s *Store) Get(key interface{}) (interface{}, bool, error) {
	probe, err := makeItem(key)
	if err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if it := s.tree.Get(probe); it != nil {
		return it.(*item).value, true, nil
	}
	return nil, false, nil
}

// Put sets the value for key. An existing entry keeps its original key.
func (s *Store) Put(key, value interface{}) error {
	it, err := makeItem(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old := s.tree.Get(it); old != nil {
		old.(*item).value = value
		return nil
	}
	it.value = value
	s.tree.ReplaceOrInsert(it)
	return nil
}

// Delete removes key and returns its value.
func (s *Store) Delete(key interface{}) (interface{}, bool, error) {
	probe, err := makeItem(key)
	if err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if it := s.tree.Delete(probe); it != nil {
		return it.(*item).value, true, nil
	}
	return nil, false, nil
}

// Keys returns the keys in order.
func (s *Store) Keys() ([]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]interface{}, 0, s.tree.Len())
	s.tree.Ascend(func(i btree.Item) bool {
		keys = append(keys, i.(*item).key)
		return true
	})
	return keys, nil
}

// Clear removes every key.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.Clear(false)
	return nil
}

func (s *Store) String() string {
	return fmt.Sprintf("btreestore(%d)", s.Len())
}
