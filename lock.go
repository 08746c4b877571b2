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
	"context"

	"golang.org/x/sync/semaphore"
)

// Lock is the cooperative lock of an interpreter: only the goroutine holding
// it may run code of the hosted language. Calls into a Foreign provider
// release it so that other goroutines can run while the provider works.
type Lock struct {
	sem *semaphore.Weighted
}

// NewLock returns an unheld Lock.
func NewLock() *Lock {
	return &Lock{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the lock is held or ctx is done.
func (l *Lock) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// TryAcquire acquires the lock without blocking, reporting success.
func (l *Lock) TryAcquire() bool {
	return l.sem.TryAcquire(1)
}

// Release releases the lock. It panics if the lock is not held.
func (l *Lock) Release() {
	l.sem.Release(1)
}

// released runs fn with the lock released and reacquires it before
// returning. Any state read before the call must be considered stale
// afterwards. A nil Lock runs fn directly.
func (l *Lock) released(fn func() error) error {
	if l == nil {
		return fn()
	}
	l.Release()
	// Background never expires, so Acquire only returns once the lock is
	// held again.
	defer func() { _ = l.sem.Acquire(context.Background(), 1) }()
	return fn()
}
