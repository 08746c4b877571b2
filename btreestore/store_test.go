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

package btreestore_test

import (
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/cockroachdb/dictstore"
	"github.com/cockroachdb/dictstore/btreestore"
	"github.com/stretchr/testify/require"
)

var _ dictstore.Provider = (*btreestore.Store)(nil)

func TestStore(t *testing.T) {
	s := btreestore.New()
	require.Equal(t, 0, s.Len())

	require.NoError(t, s.Put("b", 1))
	require.NoError(t, s.Put(int8(3), 2))
	require.NoError(t, s.Put("a", 3))
	require.NoError(t, s.Put(-1, 4))
	require.Equal(t, 4, s.Len())

	// Integers of any width name the same key.
	require.NoError(t, s.Put(int64(3), 5))
	v, ok, err := s.Get(uint16(3))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 5, v)

	keys, err := s.Keys()
	require.NoError(t, err)
	require.Equal(t, []interface{}{-1, int8(3), "a", "b"}, keys)

	v, ok, err = s.Delete("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, v)
	_, ok, err = s.Delete("a")
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = s.Get("a")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Clear())
	require.Equal(t, 0, s.Len())
	require.Equal(t, "btreestore(0)", s.String())
}

func TestStoreUnsupportedKey(t *testing.T) {
	s := btreestore.New()
	for _, k := range []interface{}{1.5, nil, uint64(1), []byte("x")} {
		require.ErrorIs(t, s.Put(k, 1), btreestore.ErrUnsupportedKey)
		_, _, err := s.Get(k)
		require.ErrorIs(t, err, btreestore.ErrUnsupportedKey)
		_, _, err = s.Delete(k)
		require.ErrorIs(t, err, btreestore.ErrUnsupportedKey)
	}
	require.Equal(t, 0, s.Len())
}

func TestStoreRandom(t *testing.T) {
	s := btreestore.New()
	e := make(map[int]int)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 5000; i++ {
		k := rng.Intn(500)
		if rng.Intn(3) == 0 {
			_, ok, err := s.Delete(k)
			require.NoError(t, err)
			_, expected := e[k]
			require.Equal(t, expected, ok)
			delete(e, k)
			continue
		}
		require.NoError(t, s.Put(k, i))
		e[k] = i
	}
	require.Equal(t, len(e), s.Len())

	var expected []int
	for k := range e {
		expected = append(expected, k)
	}
	sort.Ints(expected)
	keys, err := s.Keys()
	require.NoError(t, err)
	require.Len(t, keys, len(expected))
	for i, k := range keys {
		require.Equal(t, expected[i], k)
		v, ok, err := s.Get(k)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, e[expected[i]], v)
	}
}

func TestStoreConcurrent(t *testing.T) {
	s := btreestore.New()
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = s.Put(g*1000+i, i)
			}
		}(g)
	}
	wg.Wait()
	require.Equal(t, 400, s.Len())
}

func TestForeignStorage(t *testing.T) {
	r := dictstore.NewRuntime()
	s := r.NewForeign(btreestore.New())
	require.Equal(t, dictstore.KindForeign, s.Kind())
	for _, k := range []string{"z", "m", "a"} {
		var err error
		s, err = r.Set(s, k, k+k)
		require.NoError(t, err)
	}
	keys, err := r.Keys(s)
	require.NoError(t, err)
	require.Equal(t, []dictstore.Value{"a", "m", "z"}, keys)

	other, err := r.CreateFromPairs([][2]dictstore.Value{{"m", 0}, {"q", 0}})
	require.NoError(t, err)
	u, err := r.Union(s, other)
	require.NoError(t, err)
	keys, err = r.Keys(u)
	require.NoError(t, err)
	require.Equal(t, []dictstore.Value{"a", "m", "z", "q"}, keys)
}
