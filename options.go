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

import "go.uber.org/zap"

// option provide an interface to do work on Runtime while it is being
// created.
type option interface {
	apply(r *Runtime)
}

type protocolOption struct {
	protocol KeyProtocol
}

func (op protocolOption) apply(r *Runtime) {
	r.protocol = op.protocol
}

// WithProtocol is an option to specify the hashing and equality machinery of
// the hosted language. The default is BuiltinProtocol.
func WithProtocol(p KeyProtocol) option {
	return protocolOption{p}
}

type loggerOption struct {
	log *zap.Logger
}

func (op loggerOption) apply(r *Runtime) {
	r.hooks.log = op.log
}

// WithLogger is an option to specify the logger receiving debug events about
// restarts, resizes, compactions and representation transitions. The
// default discards everything.
func WithLogger(log *zap.Logger) option {
	return loggerOption{log}
}

type loopReporterOption struct {
	report func(n int)
}

func (op loopReporterOption) apply(r *Runtime) {
	r.hooks.reportLoop = op.report
}

// WithLoopReporter is an option to receive the iteration counts of full
// table scans (rehash, compaction, bulk traversal), for the host's
// cooperative scheduling and instrumentation.
func WithLoopReporter(report func(n int)) option {
	return loopReporterOption{report}
}

type lockOption struct {
	lock *Lock
}

func (op lockOption) apply(r *Runtime) {
	r.lock = op.lock
}

// WithLock is an option to specify the interpreter lock that is released
// around calls into Foreign providers. The caller must hold the lock while
// using the Runtime.
func WithLock(l *Lock) option {
	return lockOption{l}
}

type stringKeyLimitOption struct {
	limit int
}

func (op stringKeyLimitOption) apply(r *Runtime) {
	r.stringKeyLimit = op.limit
}

// WithStringKeyLimit is an option to specify how many keys a Strings storage
// may hold before it is promoted to a Generic one.
func WithStringKeyLimit(limit int) option {
	return stringKeyLimitOption{limit}
}
