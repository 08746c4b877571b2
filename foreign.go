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

// Provider is an external key/value store wrapped by a KindForeign storage.
// Providers are called with the interpreter Lock released and must not call
// back into the Runtime that wraps them.
type Provider interface {
	Len() int
	Get(key Value) (value Value, ok bool, err error)
	Put(key, value Value) error
	Delete(key Value) (value Value, ok bool, err error)
	// Keys returns a snapshot of the keys in iteration order.
	Keys() ([]Value, error)
	Clear() error
}

func (r *Runtime) foreignLen(p Provider) int {
	var n int
	_ = r.lock.released(func() error {
		n = p.Len()
		return nil
	})
	return n
}

func (r *Runtime) foreignGet(p Provider, key Value) (v Value, ok bool, err error) {
	err = r.lock.released(func() error {
		v, ok, err = p.Get(key)
		return err
	})
	return v, ok, err
}

func (r *Runtime) foreignPut(p Provider, key, value Value) error {
	return r.lock.released(func() error {
		return p.Put(key, value)
	})
}

func (r *Runtime) foreignDelete(p Provider, key Value) (v Value, ok bool, err error) {
	err = r.lock.released(func() error {
		v, ok, err = p.Delete(key)
		return err
	})
	return v, ok, err
}

func (r *Runtime) foreignClear(p Provider) error {
	return r.lock.released(p.Clear)
}

// foreignSnapshot reads every key and its value. Keys deleted between the
// two steps are skipped.
func (r *Runtime) foreignSnapshot(p Provider) (keys []Value, values []Value, err error) {
	err = r.lock.released(func() error {
		all, err := p.Keys()
		if err != nil {
			return err
		}
		keys = make([]Value, 0, len(all))
		for _, k := range all {
			v, ok, err := p.Get(k)
			if err != nil {
				return err
			}
			if ok {
				keys = append(keys, k)
				values = append(values, v)
			}
		}
		return nil
	})
	return keys, values, err
}
