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

// Frame is the host's view of the named local slots of a call frame. A
// KindFrame storage reads through it without copying and never writes to it.
type Frame interface {
	// Names returns the slot names in definition order. The result must not
	// change for the lifetime of the frame.
	Names() []string
	// Slot returns the value of the i-th slot, or ok=false if it is unbound.
	Slot(i int) (value Value, ok bool)
}

func frameLen(f Frame) int {
	var n int
	for i := range f.Names() {
		if _, ok := f.Slot(i); ok {
			n++
		}
	}
	return n
}

// frameLookup returns the slot holding key, or -1 if there is no such slot
// or it is unbound.
func frameLookup(f Frame, key Value, hash int64, eq Equaler) (int, Value, error) {
	names := f.Names()
	i, err := findName(len(names), func(i int) string { return names[i] }, key, hash, eq)
	if err != nil || i < 0 {
		return -1, nil, err
	}
	v, ok := f.Slot(i)
	if !ok {
		return -1, nil, nil
	}
	return i, v, nil
}

// frameSnapshot returns the bound names and their values.
func frameSnapshot(f Frame) (keys []Value, values []Value) {
	for i, name := range f.Names() {
		if v, ok := f.Slot(i); ok {
			keys = append(keys, name)
			values = append(values, v)
		}
	}
	return keys, values
}
