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

// Keyword is a named argument of a call.
type Keyword struct {
	Name  string
	Value Value
}

func keywordIndex(kws []Keyword, key Value, hash int64, eq Equaler) (int, error) {
	return findName(len(kws), func(i int) string { return kws[i].Name }, key, hash, eq)
}

// keywordsToMap copies keyword arguments into a new Map with room for extra
// more entries. Names are strings, so no equality callbacks run.
func keywordsToMap(kws []Keyword, extra int, h *hooks) *Map {
	m := newMap(len(kws)+extra, false, h)
	for _, kw := range kws {
		m.PutBootstrap(kw.Name, hashString(kw.Name), kw.Value)
	}
	return m
}
