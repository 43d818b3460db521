/**
 * Copyright 2021 The GlacierSQL Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package storage

import (
	"fmt"
	"sort"

	"github.com/dr0pdb/glaciersql/internal/common"
	"github.com/dr0pdb/glaciersql/pkg/frontend"
)

// Index is an equality hash index over a single column: a mapping from a
// value to the set of row identifiers holding that value.
//
// Null values are never indexed. For a UNIQUE index every key maps to a set
// of size at most one.
type Index struct {
	Name   string
	Column string
	Unique bool

	entries map[frontend.Value]map[uint64]struct{}
}

// NewIndex creates an empty index over the given column.
func NewIndex(name, column string, unique bool) *Index {
	return &Index{
		Name:    name,
		Column:  column,
		Unique:  unique,
		entries: make(map[frontend.Value]map[uint64]struct{}),
	}
}

// Add records that the row identified by rid holds v in the indexed column.
// For a unique index a key that is already present under a different rid is
// rejected; the storage engine consults the index before mutating so this
// check is defensive.
func (idx *Index) Add(v frontend.Value, rid uint64) error {
	if v.IsNull() {
		return nil
	}

	set, ok := idx.entries[v]
	if !ok {
		set = make(map[uint64]struct{})
		idx.entries[v] = set
	}

	if idx.Unique && len(set) > 0 {
		if _, self := set[rid]; !self {
			return common.NewConstraintViolationError(
				fmt.Sprintf("duplicate value %s for unique index %s", v, idx.Name))
		}
	}

	set[rid] = struct{}{}
	return nil
}

// Remove drops the (v, rid) entry. Removing an unknown entry is a no-op.
func (idx *Index) Remove(v frontend.Value, rid uint64) {
	if v.IsNull() {
		return
	}

	set, ok := idx.entries[v]
	if !ok {
		return
	}

	delete(set, rid)
	if len(set) == 0 {
		delete(idx.entries, v)
	}
}

// LookupEq returns the rids holding v in ascending order.
// An unknown key yields an empty result.
func (idx *Index) LookupEq(v frontend.Value) []uint64 {
	if v.IsNull() {
		return nil
	}

	set, ok := idx.entries[v]
	if !ok {
		return nil
	}

	rids := make([]uint64, 0, len(set))
	for rid := range set {
		rids = append(rids, rid)
	}
	sort.Slice(rids, func(i, j int) bool { return rids[i] < rids[j] })
	return rids
}

// Contains reports whether any row holds v.
func (idx *Index) Contains(v frontend.Value) bool {
	if v.IsNull() {
		return false
	}

	_, ok := idx.entries[v]
	return ok
}

// Len returns the number of distinct keys.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Entries returns a copy of the full index content keyed by value.
// Used by the snapshot codec and the invariant checks.
func (idx *Index) Entries() map[frontend.Value][]uint64 {
	out := make(map[frontend.Value][]uint64, len(idx.entries))
	for v := range idx.entries {
		out[v] = idx.LookupEq(v)
	}
	return out
}
