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

import "fmt"

// Kind identifies the representation of a Storage.
type Kind uint8

const (
	// KindEmpty is the shared, immutable empty storage.
	KindEmpty Kind = iota
	// KindKeywords is an immutable array of keyword arguments.
	KindKeywords
	// KindGeneric is backed by a Map and accepts any key.
	KindGeneric
	// KindStrings holds a small number of string keys whose ordered key list
	// is shared with other storages through shapes.
	KindStrings
	// KindFrame is a read-only view of the named slots of a call frame.
	KindFrame
	// KindForeign delegates to an external Provider.
	KindForeign
)

var kindNames = [...]string{
	KindEmpty:    "empty",
	KindKeywords: "keywords",
	KindGeneric:  "generic",
	KindStrings:  "strings",
	KindFrame:    "frame",
	KindForeign:  "foreign",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Storage holds the entries of one dictionary or set. Exactly one payload
// field, selected by kind, is in use.
//
// A Storage is NOT goroutine-safe.
type Storage struct {
	kind     Kind
	keywords []Keyword
	generic  *Map
	strings  *stringMap
	frame    Frame
	foreign  Provider
}

// emptyStorage is the single instance of KindEmpty.
var emptyStorage = &Storage{kind: KindEmpty}

// Kind returns the current representation of s.
func (s *Storage) Kind() Kind {
	return s.kind
}

func (s *Storage) String() string {
	return fmt.Sprintf("%s storage", s.kind)
}

func newGenericStorage(m *Map) *Storage {
	return &Storage{kind: KindGeneric, generic: m}
}

// findName returns the position of key among n string names, or -1. A string
// key matches by value. Any other key is compared by eq against each name
// with the same hash, so that a key of a user type equal to a string is
// found.
func findName(n int, name func(i int) string, key Value, hash int64, eq Equaler) (int, error) {
	if k, ok := key.(string); ok {
		for i := 0; i < n; i++ {
			if name(i) == k {
				return i, nil
			}
		}
		return -1, nil
	}
	for i := 0; i < n; i++ {
		nm := name(i)
		if hashString(nm) != hash {
			continue
		}
		equal, err := eq.Equal(nm, key)
		if err != nil {
			return -1, err
		}
		if equal {
			return i, nil
		}
	}
	return -1, nil
}
