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
	log "github.com/sirupsen/logrus"
)

// Column is a single column of a table schema.
type Column struct {
	Name       string
	Type       frontend.FieldType
	NotNull    bool
	PrimaryKey bool
	Unique     bool

	// foreign key target; both empty when the column carries no reference
	RefTable  string
	RefColumn string
}

// Row is an ordered tuple of values matching a table's column list.
type Row []frontend.Value

// Clone returns a copy of the row. Values themselves are immutable.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// ScanEntry is a single (rid, tuple) pair produced by a table scan.
type ScanEntry struct {
	Rid uint64
	Row Row
}

// Table is the storage engine unit: a row container with stable row
// identity, constraint metadata and a set of hash indexes.
//
// Row identifiers are allocated from a counter that never decreases and
// never reuses a value, even after deletion.
type Table struct {
	Name    string
	Columns []Column

	rows    map[uint64]Row
	nextRid uint64

	indexes map[string]*Index
	colPos  map[string]int
}

// NewTable creates an empty table for the given schema. An automatic unique
// index is created for the PRIMARY KEY column and for every UNIQUE column.
func NewTable(name string, cols []Column) (*Table, error) {
	if len(cols) == 0 {
		return nil, common.NewSchemaError(fmt.Sprintf("table %s has no columns", name))
	}

	t := &Table{
		Name:    name,
		Columns: make([]Column, len(cols)),
		rows:    make(map[uint64]Row),
		nextRid: 1,
		indexes: make(map[string]*Index),
		colPos:  make(map[string]int),
	}
	copy(t.Columns, cols)

	pkSeen := false
	for i := range t.Columns {
		c := &t.Columns[i]

		if _, ok := t.colPos[c.Name]; ok {
			return nil, common.NewSchemaError(fmt.Sprintf("duplicate column %s in table %s", c.Name, name))
		}
		t.colPos[c.Name] = i

		if c.PrimaryKey {
			if pkSeen {
				return nil, common.NewSchemaError(fmt.Sprintf("table %s declares more than one PRIMARY KEY column", name))
			}
			pkSeen = true

			// PRIMARY KEY is implicitly UNIQUE and NOT NULL
			c.Unique = true
			c.NotNull = true
		}
	}

	for _, c := range t.Columns {
		if !c.Unique {
			continue
		}

		idxName := "uniq_" + c.Name
		if c.PrimaryKey {
			idxName = "pk_" + c.Name
		}
		t.indexes[idxName] = NewIndex(idxName, c.Name, true)
	}

	log.WithFields(log.Fields{"table": name, "columns": len(cols)}).Info("storage::table::NewTable; created table")
	return t, nil
}

// ColumnPos returns the position of the named column.
func (t *Table) ColumnPos(name string) (int, bool) {
	pos, ok := t.colPos[name]
	return pos, ok
}

// PrimaryKey returns the PRIMARY KEY column and its position, if any.
func (t *Table) PrimaryKey() (Column, int, bool) {
	for i, c := range t.Columns {
		if c.PrimaryKey {
			return c, i, true
		}
	}
	return Column{}, 0, false
}

// PrimaryKeyIndex returns the automatic index over the PRIMARY KEY column.
func (t *Table) PrimaryKeyIndex() (*Index, bool) {
	c, _, ok := t.PrimaryKey()
	if !ok {
		return nil, false
	}
	return t.indexes["pk_"+c.Name], true
}

// PrepareRow coerces the given tuple against the schema: it checks arity,
// coerces each value to the declared column type and enforces NOT NULL.
// No table state is touched.
func (t *Table) PrepareRow(values []frontend.Value) (Row, error) {
	if len(values) != len(t.Columns) {
		return nil, common.NewArityError(
			fmt.Sprintf("table %s expects %d values, got %d", t.Name, len(t.Columns), len(values)))
	}

	row := make(Row, len(values))
	for i, v := range values {
		coerced, err := v.Coerce(t.Columns[i].Type)
		if err != nil {
			return nil, common.NewTypeError(
				fmt.Sprintf("column %s of table %s: %s", t.Columns[i].Name, t.Name, err.Error()))
		}

		if coerced.IsNull() && t.Columns[i].NotNull {
			return nil, common.NewConstraintViolationError(
				fmt.Sprintf("column %s of table %s cannot be null", t.Columns[i].Name, t.Name))
		}

		row[i] = coerced
	}

	return row, nil
}

// CheckUnique verifies the row against every unique index. When self is
// non-nil the row's own rid does not count as a conflict with itself.
func (t *Table) CheckUnique(row Row, self *uint64) error {
	for _, idx := range t.indexes {
		if !idx.Unique {
			continue
		}

		pos := t.colPos[idx.Column]
		v := row[pos]
		if v.IsNull() {
			continue
		}

		holders := idx.LookupEq(v)
		if len(holders) == 0 {
			continue
		}
		if self != nil && len(holders) == 1 && holders[0] == *self {
			continue
		}

		return common.NewConstraintViolationError(
			fmt.Sprintf("duplicate value %s for column %s of table %s", v, idx.Column, t.Name))
	}

	return nil
}

// AllocRid allocates the next row identifier.
func (t *Table) AllocRid() uint64 {
	rid := t.nextRid
	t.nextRid++
	return rid
}

// ApplyInsert stores the row under rid and updates every index.
// The row must already have passed PrepareRow and CheckUnique.
func (t *Table) ApplyInsert(rid uint64, row Row) error {
	if _, ok := t.rows[rid]; ok {
		return common.NewConstraintViolationError(
			fmt.Sprintf("row identifier %d already occupied in table %s", rid, t.Name))
	}

	t.rows[rid] = row
	for _, idx := range t.indexes {
		if err := idx.Add(row[t.colPos[idx.Column]], rid); err != nil {
			return err
		}
	}
	return nil
}

// ApplyUpdate replaces the tuple stored under rid and reconciles every
// index whose column changed.
func (t *Table) ApplyUpdate(rid uint64, newRow Row) error {
	old, ok := t.rows[rid]
	if !ok {
		return common.NewSchemaError(fmt.Sprintf("row %d not found in table %s", rid, t.Name))
	}

	for _, idx := range t.indexes {
		pos := t.colPos[idx.Column]
		if old[pos] == newRow[pos] {
			continue
		}
		idx.Remove(old[pos], rid)
		if err := idx.Add(newRow[pos], rid); err != nil {
			return err
		}
	}

	t.rows[rid] = newRow
	return nil
}

// ApplyDelete removes the row and its entry from every index.
func (t *Table) ApplyDelete(rid uint64) {
	row, ok := t.rows[rid]
	if !ok {
		return
	}

	for _, idx := range t.indexes {
		idx.Remove(row[t.colPos[idx.Column]], rid)
	}
	delete(t.rows, rid)
}

// RestoreRow reinserts a previously deleted row under its original rid,
// rebuilding its index entries. The rid counter never moves backwards.
func (t *Table) RestoreRow(rid uint64, row Row) error {
	if err := t.ApplyInsert(rid, row); err != nil {
		return err
	}
	if rid >= t.nextRid {
		t.nextRid = rid + 1
	}
	return nil
}

// Get returns the tuple stored under rid.
func (t *Table) Get(rid uint64) (Row, bool) {
	row, ok := t.rows[rid]
	return row, ok
}

// Scan yields every (rid, tuple) pair in ascending rid order.
func (t *Table) Scan() []ScanEntry {
	rids := make([]uint64, 0, len(t.rows))
	for rid := range t.rows {
		rids = append(rids, rid)
	}
	sort.Slice(rids, func(i, j int) bool { return rids[i] < rids[j] })

	out := make([]ScanEntry, 0, len(rids))
	for _, rid := range rids {
		out = append(out, ScanEntry{Rid: rid, Row: t.rows[rid]})
	}
	return out
}

// NumRows returns the number of live rows.
func (t *Table) NumRows() int {
	return len(t.rows)
}

// NextRid returns the value the rid counter will hand out next.
func (t *Table) NextRid() uint64 {
	return t.nextRid
}

// SetNextRid restores the rid counter. Used by the snapshot codec only.
func (t *Table) SetNextRid(rid uint64) {
	t.nextRid = rid
}

// CreateIndex declares an explicit (non-unique) index over the named column
// and backfills it from the current rows.
func (t *Table) CreateIndex(name, column string) (*Index, error) {
	if _, ok := t.indexes[name]; ok {
		return nil, common.NewSchemaError(fmt.Sprintf("index %s already exists on table %s", name, t.Name))
	}
	pos, ok := t.colPos[column]
	if !ok {
		return nil, common.NewSchemaError(fmt.Sprintf("unknown column %s in table %s", column, t.Name))
	}

	idx := NewIndex(name, column, false)
	for rid, row := range t.rows {
		if err := idx.Add(row[pos], rid); err != nil {
			return nil, err
		}
	}
	t.indexes[name] = idx

	log.WithFields(log.Fields{"table": t.Name, "index": name, "column": column}).Info("storage::table::CreateIndex; created index")
	return idx, nil
}

// AttachIndex registers a prebuilt index. Used by the snapshot codec only.
func (t *Table) AttachIndex(idx *Index) error {
	if _, ok := t.indexes[idx.Name]; ok {
		return common.NewSchemaError(fmt.Sprintf("index %s already exists on table %s", idx.Name, t.Name))
	}
	if _, ok := t.colPos[idx.Column]; !ok {
		return common.NewSchemaError(fmt.Sprintf("unknown column %s in table %s", idx.Column, t.Name))
	}
	t.indexes[idx.Name] = idx
	return nil
}

// Index returns the named index.
func (t *Table) Index(name string) (*Index, bool) {
	idx, ok := t.indexes[name]
	return idx, ok
}

// IndexOnColumn returns an index over the given column if one exists.
// When several indexes cover the column the lexicographically first name
// wins, which keeps plans deterministic.
func (t *Table) IndexOnColumn(column string) (*Index, bool) {
	names := make([]string, 0, len(t.indexes))
	for name, idx := range t.indexes {
		if idx.Column == column {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, false
	}
	sort.Strings(names)
	return t.indexes[names[0]], true
}

// Indexes returns every index sorted by name.
func (t *Table) Indexes() []*Index {
	names := make([]string, 0, len(t.indexes))
	for name := range t.indexes {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*Index, 0, len(names))
	for _, name := range names {
		out = append(out, t.indexes[name])
	}
	return out
}
