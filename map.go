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

// Package dictstore implements the key/value storage behind the dictionary
// and set types of a dynamic language. It consists of an ordered
// open-addressing hash table (Map) and a family of interchangeable storage
// representations (Storage) that a Runtime dispatches over.
//
// # Map
//
// A Map keeps its entries in two places. A sparse array of buckets, the
// indices, whose length is a power of 2, maps hash(key) to a slot number. A
// pair of compact parallel arrays, hashes and entries, holds the entries
// themselves in insertion order, so iterating the compact arrays yields keys
// in the order they were first inserted. This is the layout CPython uses for
// its dict.
//
// Probing starts at hash & (len(indices)-1). On a collision the next bucket
// is derived from the recurrence
//
//	perturb >>= 5
//	idx = (5*idx + perturb + 1) & (len(indices)-1)
//
// Once perturb has been shifted down to zero the recurrence is a full-period
// linear congruential generator modulo a power of 2, so every bucket is
// visited. Each bucket passed over while inserting is marked with the
// collision bit. A lookup that reaches an occupied bucket without the
// collision bit knows that no key it is looking for lives further down the
// chain and stops early.
//
// Deletion replaces the bucket with a dummy marker (the chain must not be
// broken) and clears the compact slot. Dummies are dropped when the table is
// resized; cleared compact slots are reclaimed by compaction, which Delete
// performs before it starts a lookup once too many slots are dead. The table
// grows when more than 3/4 of the buckets are in use.
//
// # Reentrancy
//
// Key comparison calls back into the hosted language (its __eq__), and that
// code may use the very Map being searched. Before a comparison result is
// trusted the Map checks that its bucket array is the one the lookup started
// with and that the compared slot still holds the same key. If either check
// fails the whole operation is restarted from the top. Restarts are
// performed by a loop in the exported methods, never by recursion.
//
// # Storage
//
// A Storage is a tagged union of six representations: Empty, Keywords,
// Generic (a Map), Strings (small string-keyed storage sharing key lists
// through shapes), Frame (a read-only view of a call frame) and Foreign (a
// delegate to an external Provider). Mutating Runtime operations return the
// Storage to use from then on, which differs from the argument whenever a
// representation is promoted.
package dictstore

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const (
	initialIndicesSize         = 8
	maxPreallocatedIndicesSize = 1 << 20
	maxIndicesSize             = 1 << 30

	growthRate = 4

	perturbShift = 5
	// It takes at most this many shifts to turn any 64-bit perturb into 0.
	perturbShiftsCount = 13

	collisionBit uint32 = 1 << 31
	emptyIndex   uint32 = 0xFFFFFFFF
	dummyIndex   uint32 = 0xFFFFFFFE
)

// Entry is a key, its value and the cached hash of the key.
type Entry struct {
	Key   Value
	Value Value
	Hash  int64
}

type entry struct {
	key   Value
	value Value
	live  bool
}

// outcome is the result of one attempt at a lookup based operation.
type outcome uint8

const (
	lookupDone outcome = iota
	lookupRestart
)

// hooks carries the instrumentation shared by a Runtime and the Maps it
// creates.
type hooks struct {
	log        *zap.Logger
	reportLoop func(n int)
}

var defaultHooks = &hooks{
	log:        zap.NewNop(),
	reportLoop: func(int) {},
}

// Map is an insertion ordered hash table from keys to values with Get, Put,
// Delete, PopLast and All operations. Keys are hashed by the caller; the Map
// caches the hash of each key and calls the supplied Equaler only when two
// different keys have the same hash.
//
// A Map is NOT goroutine-safe.
type Map struct {
	// indices maps buckets to slots of the compact arrays. Its length is a
	// power of 2. The top bit of a slot number marks a bucket that is part of
	// a collision chain.
	indices []uint32
	// hashes and entries are the compact arrays. They are 3/4*len(indices)+2
	// long.
	hashes  []int64
	entries []entry
	// The number of live entries.
	size int
	// The number of compact slots in use, live or dead.
	usedHashes int
	// The number of buckets in use, including dummies. This may be larger
	// than usedHashes after a compaction.
	usedIndices int
	// removals counts operations that vacate or move compact slots. A
	// comparison that sees it change cannot trust the slot it compared.
	removals uint64
	// sideEffectingKeys is set once a key that may have observable
	// hash/equality side effects has been stored.
	sideEffectingKeys bool
	hooks             *hooks
}

// NewMap constructs a new Map able to hold capacity entries without growing.
// Requests too large to be reasonable are clamped rather than honored; the
// Map then grows on demand.
func NewMap(capacity int) *Map {
	return newMap(capacity, false, defaultHooks)
}

func newMap(capacity int, sideEffects bool, h *hooks) *Map {
	m := &Map{
		sideEffectingKeys: sideEffects,
		hooks:             h,
	}
	if capacity <= maxEntries(initialIndicesSize) {
		m.allocate(initialIndicesSize)
	} else {
		// The smallest bucket count n with maxEntries(n) >= capacity.
		indicesCapacity := ((capacity-1)*4 + 2) / 3
		if indicesCapacity < 0 || indicesCapacity > maxPreallocatedIndicesSize {
			m.allocate(maxPreallocatedIndicesSize)
		} else {
			m.allocate(nextPow2(indicesCapacity))
		}
	}
	m.checkInvariants()
	return m
}

// maxEntries returns the number of entries a table of n buckets holds before
// an insertion makes it grow.
func maxEntries(n int) int {
	return n - n>>2 + 1
}

func (m *Map) allocate(n int) {
	if n&(n-1) != 0 {
		panic(errors.AssertionFailedf("indices size %d is not a power of 2", n))
	}
	m.indices = make([]uint32, n)
	for i := range m.indices {
		m.indices[i] = emptyIndex
	}
	// Only 3/4 of the buckets are ever used, so this many compact slots
	// suffice, with a little headroom.
	usable := 3*(n>>2) + 2
	m.hashes = make([]int64, usable)
	m.entries = make([]entry, usable)
}

// Len returns the number of entries in the map.
func (m *Map) Len() int {
	return m.size
}

// SetSideEffectingKeys records that the map may hold keys with observable
// hash or equality side effects.
func (m *Map) SetSideEffectingKeys() {
	m.sideEffectingKeys = true
}

// MayHaveSideEffectingKeys reports whether the map may hold keys with
// observable hash or equality side effects.
func (m *Map) MayHaveSideEffectingKeys() bool {
	return m.sideEffectingKeys
}

// Clear removes all entries, releasing the bucket array.
func (m *Map) Clear() {
	m.removals++
	m.size = 0
	m.usedHashes = 0
	m.usedIndices = 0
	m.allocate(initialIndicesSize)
}

// Copy returns a structural duplicate of the map. Dead slots and collision
// marks are preserved.
func (m *Map) Copy() *Map {
	r := &Map{
		indices:           append([]uint32(nil), m.indices...),
		hashes:            append([]int64(nil), m.hashes...),
		entries:           append([]entry(nil), m.entries...),
		size:              m.size,
		usedHashes:        m.usedHashes,
		usedIndices:       m.usedIndices,
		sideEffectingKeys: m.sideEffectingKeys,
		hooks:             m.hooks,
	}
	r.checkInvariants()
	return r
}

// Get retrieves the value for key, returning ok=false if the key is not
// present. Errors from eq are returned unchanged.
func (m *Map) Get(eq Equaler, key Value, hash int64) (value Value, ok bool, err error) {
	for {
		value, ok, o, err := m.get(eq, key, hash)
		if err != nil || o == lookupDone {
			return value, ok, err
		}
		m.restarted("get")
	}
}

func (m *Map) get(eq Equaler, key Value, hash int64) (Value, bool, outcome, error) {
	indices := m.indices
	seq := makeProbeSeq(hash, len(indices))
	for i, n := 0, len(indices)+perturbShiftsCount; i < n; i, seq = i+1, seq.next() {
		index := indices[seq.offset]
		if index == emptyIndex {
			return nil, false, lookupDone, nil
		}
		if index != dummyIndex {
			slot := unwrapIndex(index)
			equal, o, err := m.keysEqual(eq, indices, slot, key, hash)
			if err != nil || o == lookupRestart {
				return nil, false, o, err
			}
			if equal {
				return m.entries[slot].value, true, lookupDone, nil
			}
		}
		if !isCollision(index) {
			return nil, false, lookupDone, nil
		}
	}
	// Deleted buckets are reclaimed on growth and growth keeps a quarter of
	// the buckets empty, so the sequence always reaches an empty bucket.
	panic(errors.AssertionFailedf("get: probe sequence exhausted\n%s", m.debugString()))
}

// Put inserts an entry into the map, overwriting the value of an existing
// entry with an equal key. The key object of an existing entry is never
// replaced.
func (m *Map) Put(eq Equaler, key Value, hash int64, value Value) error {
	for {
		o, err := m.put(eq, key, hash, value)
		if err != nil || o == lookupDone {
			m.checkInvariants()
			return err
		}
		m.restarted("put")
	}
}

func (m *Map) put(eq Equaler, key Value, hash int64, value Value) (outcome, error) {
	indices := m.indices
	seq := makeProbeSeq(hash, len(indices))
	for i, n := 0, len(indices)+perturbShiftsCount; i < n; i, seq = i+1, seq.next() {
		index := indices[seq.offset]
		if index == emptyIndex {
			m.putInNewSlot(key, hash, value, seq.offset)
			return lookupDone, nil
		}
		if index != dummyIndex {
			slot := unwrapIndex(index)
			equal, o, err := m.keysEqual(eq, indices, slot, key, hash)
			if err != nil || o == lookupRestart {
				return o, err
			}
			if equal {
				m.entries[slot].value = value
				return lookupDone, nil
			}
		}
		// Marks are advisory: a restarted or failed put may leave a few
		// behind, which only lengthens negative lookups.
		indices[seq.offset] |= collisionBit
	}
	panic(errors.AssertionFailedf("put: probe sequence exhausted\n%s", m.debugString()))
}

// PutBootstrap inserts an entry using Go equality instead of the hosted
// language's. It is meant for populating tables before the language's own
// equality is available and panics if key is not a string or nil.
func (m *Map) PutBootstrap(key Value, hash int64, value Value) {
	if !isBootstrapKey(key) {
		panic(errors.AssertionFailedf("bootstrap insertion of %T key", key))
	}
	// bootstrapEqualer never fails and never mutates the map.
	_ = m.Put(bootstrapEqualer{}, key, hash, value)
}

type bootstrapEqualer struct{}

func (bootstrapEqualer) Equal(a, b Value) (bool, error) {
	return a == b, nil
}

// Delete removes the entry for key, returning its value. It is a noop to
// delete a non-existent key.
func (m *Map) Delete(eq Equaler, key Value, hash int64) (value Value, ok bool, err error) {
	for {
		if m.needsCompaction() {
			m.compact()
		}
		value, ok, o, err := m.delete(eq, key, hash)
		if err != nil || o == lookupDone {
			m.checkInvariants()
			return value, ok, err
		}
		m.restarted("delete")
	}
}

func (m *Map) delete(eq Equaler, key Value, hash int64) (Value, bool, outcome, error) {
	indices := m.indices
	seq := makeProbeSeq(hash, len(indices))
	for i, n := 0, len(indices)+perturbShiftsCount; i < n; i, seq = i+1, seq.next() {
		index := indices[seq.offset]
		if index == emptyIndex {
			return nil, false, lookupDone, nil
		}
		if index != dummyIndex {
			slot := unwrapIndex(index)
			equal, o, err := m.keysEqual(eq, indices, slot, key, hash)
			if err != nil || o == lookupRestart {
				return nil, false, o, err
			}
			if equal {
				value := m.entries[slot].value
				indices[seq.offset] = dummyIndex
				m.entries[slot] = entry{}
				m.hashes[slot] = 0
				m.size--
				m.removals++
				return value, true, lookupDone, nil
			}
		}
		if !isCollision(index) {
			return nil, false, lookupDone, nil
		}
	}
	panic(errors.AssertionFailedf("delete: probe sequence exhausted\n%s", m.debugString()))
}

// PopLast removes and returns the most recently inserted live entry.
func (m *Map) PopLast() (Entry, bool) {
	for i := m.usedHashes - 1; i >= 0; i-- {
		e := &m.entries[i]
		if !e.live {
			continue
		}
		popped := Entry{Key: e.key, Value: e.value, Hash: m.hashes[i]}
		m.indices[m.findBucket(uint32(i), popped.Hash)] = dummyIndex
		*e = entry{}
		m.hashes[i] = 0
		m.size--
		m.removals++
		// Everything at and above i is dead now.
		m.usedHashes = i
		m.checkInvariants()
		return popped, true
	}
	return Entry{}, false
}

// All calls yield sequentially for each key and value present in the map, in
// insertion order. If yield returns false, iteration stops. The map can be
// mutated during iteration, though there is no guarantee that the mutations
// will be visible to the iteration.
func (m *Map) All(yield func(key, value Value) bool) {
	for i := 0; i < m.usedHashes; i++ {
		e := m.entries[i]
		if e.live && !yield(e.key, e.value) {
			return
		}
	}
}

// keysEqual compares key with the key in slot. A restart is requested if the
// comparison ran code that reallocated the table or vacated or moved a slot.
// Keys are never compared with themselves to detect this: a key need not
// equal itself.
func (m *Map) keysEqual(
	eq Equaler, indices []uint32, slot uint32, key Value, hash int64,
) (bool, outcome, error) {
	if m.hashes[slot] != hash {
		return false, lookupDone, nil
	}
	stored := m.entries[slot].key
	if identical(stored, key) {
		return true, lookupDone, nil
	}
	removals := m.removals
	equal, err := eq.Equal(stored, key)
	if err != nil {
		return false, lookupDone, err
	}
	if !sameIndices(indices, m.indices) || m.removals != removals {
		return false, lookupRestart, nil
	}
	return equal, lookupDone, nil
}

func (m *Map) restarted(op string) {
	m.hooks.log.Debug("restart", zap.String("op", op), zap.Int("len", m.size))
}

// needsResize reports whether inserting into an empty bucket would push the
// table beyond 3/4 full.
func (m *Map) needsResize() bool {
	quarter := len(m.indices) >> 2
	if quarter < 1 {
		quarter = 1
	}
	return m.usedIndices+quarter > len(m.indices)
}

// needsCompaction reports whether more than a quarter of the compact slots
// are dead.
func (m *Map) needsCompaction() bool {
	return m.usedHashes-m.size > len(m.hashes)>>2
}

func (m *Map) putInNewSlot(key Value, hash int64, value Value, bucket uint64) {
	if m.needsResize() {
		m.rehashAndPut(key, hash, value)
		return
	}
	m.insertAt(key, hash, value, bucket)
}

func (m *Map) insertAt(key Value, hash int64, value Value, bucket uint64) {
	slot := m.usedHashes
	m.usedHashes++
	m.usedIndices++
	m.size++
	m.indices[bucket] = uint32(slot)
	m.hashes[slot] = hash
	m.entries[slot] = entry{key: key, value: value, live: true}
}

// insertNewKey inserts a key known not to be in the table without checking
// the load factor.
func (m *Map) insertNewKey(key Value, hash int64, value Value) {
	seq := makeProbeSeq(hash, len(m.indices))
	for i, n := 0, len(m.indices)+perturbShiftsCount; i < n; i, seq = i+1, seq.next() {
		if m.indices[seq.offset] == emptyIndex {
			m.insertAt(key, hash, value, seq.offset)
			return
		}
		m.indices[seq.offset] |= collisionBit
	}
	panic(errors.AssertionFailedf("insert: probe sequence exhausted\n%s", m.debugString()))
}

// rehashAndPut grows (or shrinks) the table to fit the live entries with room
// to spare and reinserts them in their original order, dropping dead slots and
// dummy buckets.
func (m *Map) rehashAndPut(key Value, hash int64, value Value) {
	required := (m.size + 1) * growthRate
	newSize := required + required/3
	if newSize < initialIndicesSize {
		newSize = initialIndicesSize
	} else {
		newSize = nextPow2(newSize)
		if newSize > maxIndicesSize || newSize < 0 {
			panic(errors.AssertionFailedf("cannot grow table of %d entries", m.size))
		}
	}

	oldEntries, oldHashes, oldUsed, oldSize := m.entries, m.hashes, m.usedHashes, m.size
	oldLen := len(m.indices)
	m.removals++
	m.allocate(newSize)
	m.size, m.usedHashes, m.usedIndices = 0, 0, 0
	for i := 0; i < oldUsed; i++ {
		if e := oldEntries[i]; e.live {
			m.insertNewKey(e.key, oldHashes[i], e.value)
		}
	}
	m.hooks.reportLoop(oldUsed)
	if m.size != oldSize {
		panic(errors.AssertionFailedf("rehash: size=%d, expected %d", m.size, oldSize))
	}
	m.insertNewKey(key, hash, value)
	m.hooks.log.Debug("resize",
		zap.Int("from", oldLen), zap.Int("to", newSize), zap.Int("len", m.size))
}

// compact shifts the live entries of the compact arrays down over the dead
// ones, preserving their order, and rewrites the bucket array to match. The
// bucket array keeps its dummies so collision chains stay intact.
func (m *Map) compact() {
	shift := make([]int, m.usedHashes)
	dead := 0
	for i := 0; i < m.usedHashes; i++ {
		if !m.entries[i].live {
			dead++
			continue
		}
		if dead > 0 {
			m.entries[i-dead] = m.entries[i]
			m.hashes[i-dead] = m.hashes[i]
			m.entries[i] = entry{}
			m.hashes[i] = 0
			shift[i] = dead
		}
	}
	m.usedHashes -= dead
	m.removals++
	for i, index := range m.indices {
		if index == emptyIndex || index == dummyIndex {
			continue
		}
		slot := unwrapIndex(index)
		m.indices[i] = (slot - uint32(shift[slot])) | (index & collisionBit)
	}
	m.hooks.reportLoop(len(shift) + len(m.indices))
	m.hooks.log.Debug("compact", zap.Int("dead", dead), zap.Int("len", m.size))
}

// findBucket returns the bucket that points at slot.
func (m *Map) findBucket(slot uint32, hash int64) uint64 {
	seq := makeProbeSeq(hash, len(m.indices))
	for i, n := 0, len(m.indices)+perturbShiftsCount; i < n; i, seq = i+1, seq.next() {
		index := m.indices[seq.offset]
		if index == emptyIndex {
			break
		}
		if index != dummyIndex && unwrapIndex(index) == slot {
			return seq.offset
		}
	}
	panic(errors.AssertionFailedf("slot %d is not reachable from its hash\n%s", slot, m.debugString()))
}

func (m *Map) checkInvariants() {
	if invariants {
		if n := len(m.indices); n == 0 || n&(n-1) != 0 {
			panic(fmt.Sprintf("invariant failed: %d buckets is not a power of 2", n))
		}
		if m.usedIndices >= len(m.indices) {
			panic(fmt.Sprintf("invariant failed: %d of %d buckets used\n%s",
				m.usedIndices, len(m.indices), m.debugString()))
		}
		var live int
		for i := 0; i < m.usedHashes; i++ {
			if m.entries[i].live {
				live++
				m.findBucket(uint32(i), m.hashes[i])
			}
		}
		for i := m.usedHashes; i < len(m.entries); i++ {
			if m.entries[i].live {
				panic(fmt.Sprintf("invariant failed: slot(%d) is live beyond %d\n%s",
					i, m.usedHashes, m.debugString()))
			}
		}
		if live != m.size {
			panic(fmt.Sprintf("invariant failed: found %d live slots, but size is %d\n%s",
				live, m.size, m.debugString()))
		}
		for i, index := range m.indices {
			if index == emptyIndex || index == dummyIndex {
				continue
			}
			if slot := unwrapIndex(index); int(slot) >= m.usedHashes || !m.entries[slot].live {
				panic(fmt.Sprintf("invariant failed: bucket(%d) points at dead slot %d\n%s",
					i, slot, m.debugString()))
			}
		}
	}
}

func (m *Map) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "buckets=%d  size=%d  used-hashes=%d  used-indices=%d\n",
		len(m.indices), m.size, m.usedHashes, m.usedIndices)
	for i, index := range m.indices {
		switch index {
		case emptyIndex:
			fmt.Fprintf(&buf, "  %4d: empty\n", i)
		case dummyIndex:
			fmt.Fprintf(&buf, "  %4d: dummy\n", i)
		default:
			slot := unwrapIndex(index)
			if int(slot) < len(m.entries) {
				fmt.Fprintf(&buf, "  %4d: -> %d %v [collision=%t hash=%x]\n",
					i, slot, m.entries[slot].key, isCollision(index), m.hashes[slot])
			} else {
				fmt.Fprintf(&buf, "  %4d: -> %d (out of range)\n", i, slot)
			}
		}
	}
	return buf.String()
}

func isCollision(index uint32) bool {
	return index&collisionBit != 0
}

func unwrapIndex(index uint32) uint32 {
	return index &^ collisionBit
}

func sameIndices(a, b []uint32) bool {
	return len(a) == len(b) && &a[0] == &b[0]
}

func nextPow2(n int) int {
	if n&(n-1) == 0 {
		return n
	}
	return 1 << bits.Len(uint(n))
}

// probeSeq maintains the state for a probe sequence. The sequence starts at
// hash & mask and continues with
//
//	perturb >>= 5
//	offset = (5*offset + perturb + 1) & mask
//
// The perturbation lets all the bits of the hash take part in the sequence.
// Once perturb is zero the sequence is x -> 5x+1 (mod 2^k) which, by the
// Hull-Dobell theorem, visits every bucket before repeating.
type probeSeq struct {
	mask    uint64
	offset  uint64
	perturb uint64
}

func makeProbeSeq(hash int64, buckets int) probeSeq {
	mask := uint64(buckets - 1)
	return probeSeq{
		mask:    mask,
		offset:  uint64(hash) & mask,
		perturb: uint64(hash),
	}
}

func (s probeSeq) next() probeSeq {
	s.perturb >>= perturbShift
	s.offset = (5*s.offset + s.perturb + 1) & s.mask
	return s
}

func (s probeSeq) String() string {
	return fmt.Sprintf("mask=%d offset=%d perturb=%x", s.mask, s.offset, s.perturb)
}
