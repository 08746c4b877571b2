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

import "github.com/cockroachdb/errors"

// errAbort stops a forEach traversal early without failing it.
var errAbort = errors.New("dictstore: traversal aborted")

// forEach calls fn for every entry of s in insertion order, threading acc
// through the calls. If fn returns errAbort the traversal stops and the
// accumulator fn returned with it is the result.
//
// A Generic storage that may hold side-effecting keys is traversed over a
// copy, since fn may compare keys and so run code which mutates s.
func forEach[T any](
	r *Runtime, s *Storage, acc T, fn func(key Value, hash int64, value Value, acc T) (T, error),
) (T, error) {
	if s.kind == KindGeneric && s.generic.MayHaveSideEffectingKeys() {
		s = newGenericStorage(s.generic.Copy())
	}
	c, err := r.Iterate(s)
	if err != nil {
		return acc, err
	}
	var n int
	defer func() { r.hooks.reportLoop(n) }()
	for c.Advance() {
		n++
		acc, err = fn(c.Key(), c.Hash(), c.Value(), acc)
		if err != nil {
			if errors.Is(err, errAbort) {
				return acc, nil
			}
			return acc, err
		}
	}
	return acc, nil
}

// newResult returns the Generic storage the algebra operations build their
// result in. Its keys come from storages with unknown keys, so it is marked
// as possibly holding side-effecting keys.
func (r *Runtime) newResult(capacity int) *Storage {
	return newGenericStorage(newMap(capacity, true, r.hooks))
}

func (r *Runtime) putResult(
	key Value, hash int64, value Value, out *Storage,
) (*Storage, error) {
	return out, out.generic.Put(r.protocol, key, hash, value)
}

// Union returns the entries of a and b. The value of b wins for keys in both.
func (r *Runtime) Union(a, b *Storage) (*Storage, error) {
	out, err := forEach(r, a, r.newResult(r.Len(a)+r.Len(b)), r.putResult)
	if err != nil {
		return nil, err
	}
	return forEach(r, b, out, r.putResult)
}

// Xor returns the entries whose keys are in exactly one of a and b.
func (r *Runtime) Xor(a, b *Storage) (*Storage, error) {
	out, err := forEach(r, a, r.newResult(r.Len(a)+r.Len(b)), r.missingFrom(b))
	if err != nil {
		return nil, err
	}
	return forEach(r, b, out, r.missingFrom(a))
}

// Diff returns the entries of a whose keys are not in b.
func (r *Runtime) Diff(a, b *Storage) (*Storage, error) {
	return forEach(r, a, r.newResult(r.Len(a)), r.missingFrom(b))
}

// missingFrom returns a forEach callback adding the entries whose keys are
// not in other.
func (r *Runtime) missingFrom(
	other *Storage,
) func(key Value, hash int64, value Value, out *Storage) (*Storage, error) {
	return func(key Value, hash int64, value Value, out *Storage) (*Storage, error) {
		_, ok, err := r.getHashed(other, key, hash)
		if err != nil || ok {
			return out, err
		}
		return r.putResult(key, hash, value, out)
	}
}

// Intersect returns the keys of a that are also in b, with the values of b.
func (r *Runtime) Intersect(a, b *Storage) (*Storage, error) {
	out := r.newResult(min(r.Len(a), r.Len(b)))
	return forEach(r, a, out, func(key Value, hash int64, _ Value, out *Storage) (*Storage, error) {
		v, ok, err := r.getHashed(b, key, hash)
		if err != nil || !ok {
			return out, err
		}
		return r.putResult(key, hash, v, out)
	})
}

// CompareKeys compares the key sets of a and b. It returns -1 if the keys of
// a are a proper subset of the keys of b, 0 if they are equal and 1
// otherwise.
func (r *Runtime) CompareKeys(a, b *Storage) (int, error) {
	la, lb := r.Len(a), r.Len(b)
	if la > lb {
		return 1, nil
	}
	subset, err := forEach(r, a, true, func(key Value, hash int64, _ Value, _ bool) (bool, error) {
		_, ok, err := r.getHashed(b, key, hash)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, errAbort
		}
		return true, nil
	})
	switch {
	case err != nil:
		return 0, err
	case !subset:
		return 1, nil
	case la == lb:
		return 0, nil
	default:
		return -1, nil
	}
}

// KeysEqual reports whether a and b have the same keys.
func (r *Runtime) KeysEqual(a, b *Storage) (bool, error) {
	c, err := r.CompareKeys(a, b)
	return c == 0, err
}

// IsSubset reports whether every key of a is in b.
func (r *Runtime) IsSubset(a, b *Storage) (bool, error) {
	c, err := r.CompareKeys(a, b)
	return c <= 0 && err == nil, err
}

// IsSuperset reports whether every key of b is in a.
func (r *Runtime) IsSuperset(a, b *Storage) (bool, error) {
	return r.IsSubset(b, a)
}

// Disjoint reports whether a and b have no key in common. The smaller
// storage is traversed.
func (r *Runtime) Disjoint(a, b *Storage) (bool, error) {
	if r.Len(a) > r.Len(b) {
		a, b = b, a
	}
	return forEach(r, a, true, func(key Value, hash int64, _ Value, _ bool) (bool, error) {
		_, ok, err := r.getHashed(b, key, hash)
		if err != nil {
			return false, err
		}
		if ok {
			return false, errAbort
		}
		return true, nil
	})
}

// Equal reports whether a and b hold the same keys with equal values.
func (r *Runtime) Equal(a, b *Storage) (bool, error) {
	if r.Len(a) != r.Len(b) {
		return false, nil
	}
	return forEach(r, a, true, func(key Value, hash int64, value Value, _ bool) (bool, error) {
		other, ok, err := r.getHashed(b, key, hash)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, errAbort
		}
		equal, err := r.protocol.Equal(value, other)
		if err != nil {
			return false, err
		}
		if !equal {
			return false, errAbort
		}
		return true, nil
	})
}
