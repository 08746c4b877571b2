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
	"fmt"
	"io"
	"strconv"
	"testing"

	"github.com/aclements/go-perfevent/perfbench"
)

func BenchmarkMapIter(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int", benchSizes(benchmarkRuntimeMapIter, genIntKeys))
	})
	b.Run("impl=dictMap", func(b *testing.B) {
		b.Run("t=Int", benchSizes(benchmarkDictMapIter, genIntKeys))
	})
}

func BenchmarkMapGetHit(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int", benchSizes(benchmarkRuntimeMapGetHit, genIntKeys))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapGetHit, genStringKeys))
	})
	b.Run("impl=dictMap", func(b *testing.B) {
		b.Run("t=Int", benchSizes(benchmarkDictMapGetHit, genIntKeys))
		b.Run("t=String", benchSizes(benchmarkDictMapGetHit, genStringKeys))
	})
}

func BenchmarkMapGetMiss(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int", benchSizes(benchmarkRuntimeMapGetMiss, genIntKeys))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapGetMiss, genStringKeys))
	})
	b.Run("impl=dictMap", func(b *testing.B) {
		b.Run("t=Int", benchSizes(benchmarkDictMapGetMiss, genIntKeys))
		b.Run("t=String", benchSizes(benchmarkDictMapGetMiss, genStringKeys))
	})
}

func BenchmarkMapPutGrow(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int", benchSizes(benchmarkRuntimeMapPutGrow, genIntKeys))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapPutGrow, genStringKeys))
	})
	b.Run("impl=dictMap", func(b *testing.B) {
		b.Run("t=Int", benchSizes(benchmarkDictMapPutGrow, genIntKeys))
		b.Run("t=String", benchSizes(benchmarkDictMapPutGrow, genStringKeys))
	})
}

func BenchmarkMapPutPreAllocate(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int", benchSizes(benchmarkRuntimeMapPutPreAllocate, genIntKeys))
	})
	b.Run("impl=dictMap", func(b *testing.B) {
		b.Run("t=Int", benchSizes(benchmarkDictMapPutPreAllocate, genIntKeys))
	})
}

func BenchmarkMapPutDelete(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int", benchSizes(benchmarkRuntimeMapPutDelete, genIntKeys))
	})
	b.Run("impl=dictMap", func(b *testing.B) {
		b.Run("t=Int", benchSizes(benchmarkDictMapPutDelete, genIntKeys))
	})
}

func BenchmarkStorageSet(b *testing.B) {
	for _, n := range []int{4, 16, 64} {
		keys := genStringKeys(0, n)
		b.Run(fmt.Sprintf("kind=strings/len=%d", n), func(b *testing.B) {
			r := NewRuntime(WithStringKeyLimit(n))
			benchmarkStorageSet(b, r, r.NewStrings, keys)
		})
		b.Run(fmt.Sprintf("kind=generic/len=%d", n), func(b *testing.B) {
			r := NewRuntime()
			benchmarkStorageSet(b, r, func() *Storage { return r.NewGeneric(0) }, keys)
		})
	}
}

func benchmarkStorageSet(b *testing.B, r *Runtime, create func() *Storage, keys []Value) {
	cs := perfbench.Open(b)
	b.ResetTimer()
	cs.Reset()
	for i := 0; i < b.N; i++ {
		s := create()
		for _, k := range keys {
			s, _ = r.Set(s, k, k)
		}
	}
}

func BenchmarkUnion(b *testing.B) {
	r := NewRuntime()
	for _, n := range []int{16, 1024} {
		b.Run(fmt.Sprintf("len=%d", n), func(b *testing.B) {
			x, _ := r.CreateFromPairs(pairsOf(genIntKeys(0, n)))
			y, _ := r.CreateFromPairs(pairsOf(genIntKeys(n/2, n+n/2)))
			cs := perfbench.Open(b)
			b.ResetTimer()
			cs.Reset()
			for i := 0; i < b.N; i++ {
				_, _ = r.Union(x, y)
			}
		})
	}
}

func pairsOf(keys []Value) [][2]Value {
	pairs := make([][2]Value, len(keys))
	for i, k := range keys {
		pairs[i] = [2]Value{k, k}
	}
	return pairs
}

type keyGen func(start, end int) []Value

func benchSizes(f func(b *testing.B, n int, genKeys keyGen), genKeys keyGen) func(*testing.B) {
	var cases = []int{
		6, 12, 18, 24, 30,
		64,
		128,
		256,
		512,
		1024,
		2048,
		4096,
		8192,
		1 << 16,
	}

	return func(b *testing.B) {
		for _, n := range cases {
			b.Run("len="+strconv.Itoa(n), func(b *testing.B) { f(b, n, genKeys) })
		}
	}
}

func genIntKeys(start, end int) []Value {
	keys := make([]Value, end-start)
	for i := range keys {
		keys[i] = start + i
	}
	return keys
}

func genStringKeys(start, end int) []Value {
	keys := make([]Value, end-start)
	for i := range keys {
		keys[i] = strconv.Itoa(start + i)
	}
	return keys
}

func hashesOf(b *testing.B, keys []Value) []int64 {
	hashes := make([]int64, len(keys))
	for i, k := range keys {
		h, err := hashValue(k)
		if err != nil {
			b.Fatal(err)
		}
		hashes[i] = h
	}
	return hashes
}

func benchmarkRuntimeMapIter(b *testing.B, n int, genKeys keyGen) {
	m := make(map[Value]Value, n)
	for _, k := range genKeys(0, n) {
		m[k] = k
	}
	cs := perfbench.Open(b)
	b.ResetTimer()
	cs.Reset()
	var tmp int
	for i := 0; i < b.N; i++ {
		for k := range m {
			tmp += k.(int)
		}
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, tmp)
}

func benchmarkDictMapIter(b *testing.B, n int, genKeys keyGen) {
	m := NewMap(n)
	keys := genKeys(0, n)
	hashes := hashesOf(b, keys)
	for i, k := range keys {
		_ = m.Put(BuiltinProtocol{}, k, hashes[i], k)
	}
	cs := perfbench.Open(b)
	b.ResetTimer()
	cs.Reset()
	var tmp int
	for i := 0; i < b.N; i++ {
		m.All(func(k, _ Value) bool {
			tmp += k.(int)
			return true
		})
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, tmp)
}

func benchmarkRuntimeMapGetMiss(b *testing.B, n int, genKeys keyGen) {
	m := make(map[Value]Value)
	for _, k := range genKeys(0, n) {
		m[k] = k
	}
	miss := genKeys(-n, 0)
	cs := perfbench.Open(b)
	b.ResetTimer()
	cs.Reset()
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m[miss[i%len(miss)]]
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkDictMapGetMiss(b *testing.B, n int, genKeys keyGen) {
	eq := BuiltinProtocol{}
	m := NewMap(0)
	keys := genKeys(0, n)
	hashes := hashesOf(b, keys)
	for i, k := range keys {
		_ = m.Put(eq, k, hashes[i], k)
	}
	miss := genKeys(-n, 0)
	missHashes := hashesOf(b, miss)
	cs := perfbench.Open(b)
	b.ResetTimer()
	cs.Reset()
	var ok bool
	for i := 0; i < b.N; i++ {
		j := i % len(miss)
		_, ok, _ = m.Get(eq, miss[j], missHashes[j])
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkRuntimeMapGetHit(b *testing.B, n int, genKeys keyGen) {
	m := make(map[Value]Value, n)
	for _, k := range genKeys(0, n) {
		m[k] = k
	}
	// Look up with keys that do not share memory with the stored ones.
	keys := genKeys(0, n)
	cs := perfbench.Open(b)
	b.ResetTimer()
	cs.Reset()
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m[keys[i%n]]
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkDictMapGetHit(b *testing.B, n int, genKeys keyGen) {
	eq := BuiltinProtocol{}
	m := NewMap(n)
	keys := genKeys(0, n)
	hashes := hashesOf(b, keys)
	for i, k := range keys {
		_ = m.Put(eq, k, hashes[i], k)
	}
	keys = genKeys(0, n)
	cs := perfbench.Open(b)
	b.ResetTimer()
	cs.Reset()
	var ok bool
	for i := 0; i < b.N; i++ {
		j := i % n
		_, ok, _ = m.Get(eq, keys[j], hashes[j])
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkRuntimeMapPutGrow(b *testing.B, n int, genKeys keyGen) {
	keys := genKeys(0, n)
	cs := perfbench.Open(b)
	b.ResetTimer()
	cs.Reset()
	for i := 0; i < b.N; i++ {
		m := make(map[Value]Value)
		for _, k := range keys {
			m[k] = k
		}
	}
}

func benchmarkDictMapPutGrow(b *testing.B, n int, genKeys keyGen) {
	eq := BuiltinProtocol{}
	keys := genKeys(0, n)
	hashes := hashesOf(b, keys)
	cs := perfbench.Open(b)
	b.ResetTimer()
	cs.Reset()
	for i := 0; i < b.N; i++ {
		m := NewMap(0)
		for j, k := range keys {
			_ = m.Put(eq, k, hashes[j], k)
		}
	}
}

func benchmarkRuntimeMapPutPreAllocate(b *testing.B, n int, genKeys keyGen) {
	keys := genKeys(0, n)
	cs := perfbench.Open(b)
	b.ResetTimer()
	cs.Reset()
	for i := 0; i < b.N; i++ {
		m := make(map[Value]Value, n)
		for _, k := range keys {
			m[k] = k
		}
	}
}

func benchmarkDictMapPutPreAllocate(b *testing.B, n int, genKeys keyGen) {
	eq := BuiltinProtocol{}
	keys := genKeys(0, n)
	hashes := hashesOf(b, keys)
	cs := perfbench.Open(b)
	b.ResetTimer()
	cs.Reset()
	for i := 0; i < b.N; i++ {
		m := NewMap(n)
		for j, k := range keys {
			_ = m.Put(eq, k, hashes[j], k)
		}
	}
}

func benchmarkRuntimeMapPutDelete(b *testing.B, n int, genKeys keyGen) {
	m := make(map[Value]Value, n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m[k] = k
	}
	cs := perfbench.Open(b)
	b.ResetTimer()
	cs.Reset()
	for i := 0; i < b.N; i++ {
		j := i % n
		delete(m, keys[j])
		m[keys[j]] = keys[j]
	}
}

func benchmarkDictMapPutDelete(b *testing.B, n int, genKeys keyGen) {
	eq := BuiltinProtocol{}
	m := NewMap(n)
	keys := genKeys(0, n)
	hashes := hashesOf(b, keys)
	for i, k := range keys {
		_ = m.Put(eq, k, hashes[i], k)
	}
	cs := perfbench.Open(b)
	b.ResetTimer()
	cs.Reset()
	for i := 0; i < b.N; i++ {
		j := i % n
		_, _, _ = m.Delete(eq, keys[j], hashes[j])
		_ = m.Put(eq, keys[j], hashes[j], keys[j])
	}
}
