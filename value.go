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
	"math"
	"math/bits"
	"reflect"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// Value is any value of the hosted language. Keys and values stored in a
// Storage are Values.
type Value = any

// ErrUnhashable is returned when a key has no hash.
var ErrUnhashable = errors.New("unhashable key")

// Equaler compares two keys. Equal may run arbitrary code, including code that
// mutates the table being searched.
type Equaler interface {
	Equal(a, b Value) (bool, error)
}

// KeyProtocol is the hashing and equality machinery of the hosted language.
type KeyProtocol interface {
	Equaler
	// Hash returns the hash of key. It is invoked exactly once per logical
	// lookup.
	Hash(key Value) (int64, error)
	// SideEffectFree reports whether hashing and comparing key is known to
	// have no observable side effects. It is only used to select fast paths.
	SideEffectFree(key Value) bool
}

// Hashable is implemented by values that define their own hash and equality,
// the equivalent of user-defined __hash__ and __eq__.
type Hashable interface {
	Hash() (int64, error)
	Equal(other Value) (bool, error)
}

// Tuple is an immutable sequence of values. A Tuple is hashable if all of its
// elements are.
type Tuple []Value

// BuiltinProtocol is the default KeyProtocol. Integers, floats and bools hash
// and compare numerically across types (1 == 1.0 == true), strings hash with
// xxhash, pointers hash and compare by identity and Hashable values use their
// own methods.
type BuiltinProtocol struct{}

var _ KeyProtocol = BuiltinProtocol{}

const (
	hashModulus = (1 << 61) - 1
	hashBits    = 61
	hashInf     = 314159
)

// Hash implements KeyProtocol.
func (BuiltinProtocol) Hash(key Value) (int64, error) {
	return hashValue(key)
}

// Equal implements KeyProtocol.
func (BuiltinProtocol) Equal(a, b Value) (bool, error) {
	return equalValues(a, b)
}

// SideEffectFree implements KeyProtocol.
func (BuiltinProtocol) SideEffectFree(key Value) bool {
	return isBuiltinImmutable(key)
}

func hashValue(key Value) (int64, error) {
	switch k := key.(type) {
	case string:
		return hashString(k), nil
	case nil:
		return 0xFCA86420, nil
	case bool:
		if k {
			return 1, nil
		}
		return 0, nil
	case int:
		return hashInt64(int64(k)), nil
	case int8:
		return hashInt64(int64(k)), nil
	case int16:
		return hashInt64(int64(k)), nil
	case int32:
		return hashInt64(int64(k)), nil
	case int64:
		return hashInt64(k), nil
	case uint:
		return hashUint64(uint64(k)), nil
	case uint8:
		return hashUint64(uint64(k)), nil
	case uint16:
		return hashUint64(uint64(k)), nil
	case uint32:
		return hashUint64(uint64(k)), nil
	case uint64:
		return hashUint64(k), nil
	case float32:
		return hashFloat64(float64(k)), nil
	case float64:
		return hashFloat64(k), nil
	case complex128:
		h := hashFloat64(real(k)) + 1000003*hashFloat64(imag(k))
		if h == -1 {
			h = -2
		}
		return h, nil
	case Tuple:
		return hashTuple(k)
	case Hashable:
		return k.Hash()
	}
	v := reflect.ValueOf(key)
	switch v.Kind() {
	case reflect.Pointer, reflect.Chan, reflect.UnsafePointer:
		p := uint64(v.Pointer())
		// The low bits of an address are mostly zero.
		return int64(bits.RotateLeft64(p, -4)), nil
	}
	return 0, errors.Wrapf(ErrUnhashable, "%T", key)
}

// hashString is the hash of a string key. Strings never have side effects, so
// specialized storages recompute it freely.
func hashString(s string) int64 {
	h := int64(xxhash.Sum64String(s))
	if h == -1 {
		h = -2
	}
	return h
}

func hashInt64(x int64) int64 {
	if x < 0 {
		// -x overflows for MinInt64; the unsigned negation does not.
		h := -int64((-uint64(x)) % hashModulus)
		if h == -1 {
			h = -2
		}
		return h
	}
	return int64(uint64(x) % hashModulus)
}

func hashUint64(x uint64) int64 {
	return int64(x % hashModulus)
}

// hashFloat64 reduces f modulo 2^61-1 so that integral floats hash like the
// equal integer.
func hashFloat64(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case math.IsInf(f, 1):
		return hashInf
	case math.IsInf(f, -1):
		return -hashInf
	}
	m, e := math.Frexp(f)
	sign := int64(1)
	if m < 0 {
		sign = -1
		m = -m
	}
	var x uint64
	for m != 0 {
		x = ((x << 28) & hashModulus) | x>>(hashBits-28)
		m *= 268435456.0 // 2**28
		e -= 28
		y := uint64(m)
		m -= float64(y)
		x += y
		if x >= hashModulus {
			x -= hashModulus
		}
	}
	if e >= 0 {
		e = e % hashBits
	} else {
		e = hashBits - 1 - ((-1 - e) % hashBits)
	}
	x = ((x << uint(e)) & hashModulus) | x>>uint(hashBits-e)
	h := int64(x) * sign
	if h == -1 {
		h = -2
	}
	return h
}

const (
	tuplePrime1 = 11400714785074694791
	tuplePrime2 = 14029467366897019727
	tuplePrime5 = 2870177450012600261
)

func hashTuple(t Tuple) (int64, error) {
	acc := uint64(tuplePrime5)
	for _, e := range t {
		lane, err := hashValue(e)
		if err != nil {
			return 0, err
		}
		acc += uint64(lane) * tuplePrime2
		acc = bits.RotateLeft64(acc, 31)
		acc *= tuplePrime1
	}
	acc += uint64(len(t)) ^ (tuplePrime5 ^ 3527539)
	if int64(acc) == -1 {
		return 1546275796, nil
	}
	return int64(acc), nil
}

// numeric reports the numeric value of v. Integers are returned as i (with
// isInt set), unsigned integers above MaxInt64 as u, floats as f.
type numeric struct {
	i     int64
	u     uint64
	f     float64
	kind  uint8
	valid bool
}

const (
	numInt = iota
	numBigUint
	numFloat
)

func toNumeric(v Value) numeric {
	switch x := v.(type) {
	case bool:
		if x {
			return numeric{i: 1, valid: true}
		}
		return numeric{valid: true}
	case int:
		return numeric{i: int64(x), valid: true}
	case int8:
		return numeric{i: int64(x), valid: true}
	case int16:
		return numeric{i: int64(x), valid: true}
	case int32:
		return numeric{i: int64(x), valid: true}
	case int64:
		return numeric{i: x, valid: true}
	case uint:
		return uintNumeric(uint64(x))
	case uint8:
		return numeric{i: int64(x), valid: true}
	case uint16:
		return numeric{i: int64(x), valid: true}
	case uint32:
		return numeric{i: int64(x), valid: true}
	case uint64:
		return uintNumeric(x)
	case float32:
		return numeric{f: float64(x), kind: numFloat, valid: true}
	case float64:
		return numeric{f: x, kind: numFloat, valid: true}
	}
	return numeric{}
}

func uintNumeric(x uint64) numeric {
	if x > math.MaxInt64 {
		return numeric{u: x, kind: numBigUint, valid: true}
	}
	return numeric{i: int64(x), valid: true}
}

func (a numeric) equal(b numeric) bool {
	if a.kind > b.kind {
		a, b = b, a
	}
	switch {
	case a.kind == numInt && b.kind == numInt:
		return a.i == b.i
	case a.kind == numBigUint && b.kind == numBigUint:
		return a.u == b.u
	case a.kind == numInt && b.kind == numBigUint:
		return false
	case a.kind == numFloat:
		return a.f == b.f
	case a.kind == numInt:
		// b is a float.
		if b.f != math.Trunc(b.f) || b.f < math.MinInt64 || b.f >= math.MaxInt64 {
			return false
		}
		return int64(b.f) == a.i
	default:
		// a is a large unsigned, b is a float.
		if b.f != math.Trunc(b.f) || b.f < math.MaxInt64 || b.f >= math.MaxUint64 {
			return false
		}
		return uint64(b.f) == a.u
	}
}

func equalValues(a, b Value) (bool, error) {
	if identical(a, b) {
		return true, nil
	}
	if h, ok := a.(Hashable); ok {
		return h.Equal(b)
	}
	if h, ok := b.(Hashable); ok {
		return h.Equal(a)
	}
	if na := toNumeric(a); na.valid {
		if c, ok := b.(complex128); ok {
			return equalValues(c, a)
		}
		nb := toNumeric(b)
		return nb.valid && na.equal(nb), nil
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y, nil
	case complex128:
		if y, ok := b.(complex128); ok {
			return x == y, nil
		}
		nb := toNumeric(b)
		if imag(x) != 0 || !nb.valid {
			return false, nil
		}
		return (numeric{f: real(x), kind: numFloat, valid: true}).equal(nb), nil
	case Tuple:
		y, ok := b.(Tuple)
		if !ok || len(x) != len(y) {
			return false, nil
		}
		for i := range x {
			eq, err := equalValues(x[i], y[i])
			if err != nil || !eq {
				return false, err
			}
		}
		return true, nil
	}
	return false, nil
}

// identical reports whether a and b are the same object: pointer-shaped values
// by address, other comparable values with ==. Identical keys are equal
// without consulting the protocol.
func identical(a, b Value) bool {
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case int:
		y, ok := b.(int)
		return ok && x == y
	case int64:
		y, ok := b.(int64)
		return ok && x == y
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) {
		return false
	}
	if ta == nil {
		return true
	}
	va := reflect.ValueOf(a)
	switch ta.Kind() {
	case reflect.Pointer, reflect.Chan, reflect.Func, reflect.Map, reflect.UnsafePointer:
		return va.Pointer() == reflect.ValueOf(b).Pointer()
	case reflect.Slice:
		vb := reflect.ValueOf(b)
		return va.Len() == vb.Len() && va.Pointer() == vb.Pointer()
	}
	if !va.Comparable() {
		return false
	}
	return a == b
}

// isBuiltinImmutable reports whether key is a builtin immutable value whose
// hash and equality have no side effects.
func isBuiltinImmutable(key Value) bool {
	switch k := key.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, complex128:
		return true
	case Tuple:
		for _, e := range k {
			if !isBuiltinImmutable(e) {
				return false
			}
		}
		return true
	}
	return false
}

// isBootstrapKey reports whether key may be inserted without the language's
// equality machinery. Numbers and bools are excluded: 1, 1.0 and true are the
// same key but differ under ==.
func isBootstrapKey(key Value) bool {
	switch key.(type) {
	case nil, string:
		return true
	}
	return false
}
