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

package engine

import (
	"fmt"

	"github.com/dr0pdb/glaciersql/internal/common"
	"github.com/dr0pdb/glaciersql/pkg/frontend"
	"github.com/dr0pdb/glaciersql/pkg/storage"
	log "github.com/sirupsen/logrus"
)

// executeInsert runs a single-row INSERT. Pre-checks (arity, coercion,
// NOT NULL, uniqueness, foreign keys) complete before any state mutation.
func (db *Database) executeInsert(st *frontend.InsertStatement) (*Result, error) {
	t, err := db.table(st.TableName)
	if err != nil {
		return nil, err
	}

	row, err := t.PrepareRow(st.Values)
	if err != nil {
		return nil, err
	}
	if err := t.CheckUnique(row, nil); err != nil {
		return nil, err
	}
	if err := db.checkForeignKeys(t, row); err != nil {
		return nil, err
	}

	rid := t.AllocRid()
	db.txn.LogInsert(t.Name, rid)
	if err := t.ApplyInsert(rid, row); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"table": t.Name, "rid": rid}).Info("engine::dml::executeInsert; row inserted")
	return &Result{RowsAffected: 1, LastInsertRid: rid}, nil
}

// checkForeignKeys verifies every non-null foreign key value of the row
// against the primary key index of its target table.
func (db *Database) checkForeignKeys(t *storage.Table, row storage.Row) error {
	for i, col := range t.Columns {
		if col.RefTable == "" {
			continue
		}
		v := row[i]
		if v.IsNull() {
			continue
		}

		parent, ok := db.tables[col.RefTable]
		if !ok {
			return common.NewSchemaError(fmt.Sprintf("unknown table %s", col.RefTable))
		}
		pkIdx, ok := parent.PrimaryKeyIndex()
		if !ok {
			return common.NewSchemaError(
				fmt.Sprintf("foreign key target table %s has no PRIMARY KEY", parent.Name))
		}

		if !pkIdx.Contains(v) {
			return common.NewReferentialIntegrityError(
				fmt.Sprintf("value %s of column %s has no parent in %s.%s",
					v, col.Name, col.RefTable, col.RefColumn))
		}
	}
	return nil
}

// executeUpdate runs an UPDATE: candidate rows are selected through the
// filter protocol, every new tuple is validated, then the mutations are
// applied with an undo entry capturing each pre-image.
func (db *Database) executeUpdate(st *frontend.UpdateStatement) (*Result, error) {
	t, err := db.table(st.TableName)
	if err != nil {
		return nil, err
	}

	// bind the assignments to column positions and coerce their values
	type boundAssign struct {
		pos int
		val frontend.Value
	}
	bound := make([]boundAssign, 0, len(st.Assignments))
	for _, a := range st.Assignments {
		pos, ok := t.ColumnPos(a.Column)
		if !ok {
			return nil, common.NewSchemaError(
				fmt.Sprintf("unknown column %s in table %s", a.Column, t.Name))
		}
		col := t.Columns[pos]

		v, err := a.Value.Coerce(col.Type)
		if err != nil {
			return nil, common.NewTypeError(
				fmt.Sprintf("column %s of table %s: %s", col.Name, t.Name, err.Error()))
		}
		if v.IsNull() && col.NotNull {
			return nil, common.NewConstraintViolationError(
				fmt.Sprintf("column %s of table %s cannot be null", col.Name, t.Name))
		}
		bound = append(bound, boundAssign{pos: pos, val: v})
	}

	candidates, plan, err := db.filterTable(t, st.Where)
	if err != nil {
		return nil, err
	}

	// assignments are constant literals, so assigning a non-null value to a
	// unique column across more than one row is a guaranteed collision
	if len(candidates) > 1 {
		for _, b := range bound {
			if t.Columns[b.pos].Unique && !b.val.IsNull() {
				return nil, common.NewConstraintViolationError(
					fmt.Sprintf("duplicate value %s for column %s of table %s",
						b.val, t.Columns[b.pos].Name, t.Name))
			}
		}
	}

	// validate every new tuple before mutating anything
	newRows := make([]storage.Row, len(candidates))
	for i, entry := range candidates {
		newRow := entry.Row.Clone()
		for _, b := range bound {
			newRow[b.pos] = b.val
		}

		rid := entry.Rid
		if err := t.CheckUnique(newRow, &rid); err != nil {
			return nil, err
		}
		if err := db.checkForeignKeys(t, newRow); err != nil {
			return nil, err
		}
		newRows[i] = newRow
	}

	for i, entry := range candidates {
		db.txn.LogUpdate(t.Name, entry.Rid, entry.Row)
		if err := t.ApplyUpdate(entry.Rid, newRows[i]); err != nil {
			return nil, err
		}
	}

	log.WithFields(log.Fields{"table": t.Name, "rows": len(candidates)}).Info("engine::dml::executeUpdate; rows updated")
	return &Result{RowsAffected: len(candidates), Plan: plan}, nil
}

// executeDelete runs a DELETE: candidate rows are selected through the
// filter protocol and the whole operation aborts before removing anything
// if any candidate is still referenced by a foreign key.
func (db *Database) executeDelete(st *frontend.DeleteStatement) (*Result, error) {
	t, err := db.table(st.TableName)
	if err != nil {
		return nil, err
	}

	candidates, plan, err := db.filterTable(t, st.Where)
	if err != nil {
		return nil, err
	}

	for _, entry := range candidates {
		if err := db.checkNotReferenced(t, entry.Row); err != nil {
			return nil, err
		}
	}

	for _, entry := range candidates {
		db.txn.LogDelete(t.Name, entry.Rid, entry.Row)
		t.ApplyDelete(entry.Rid)
	}

	log.WithFields(log.Fields{"table": t.Name, "rows": len(candidates)}).Info("engine::dml::executeDelete; rows deleted")
	return &Result{RowsAffected: len(candidates), Plan: plan}, nil
}

// checkNotReferenced fails when any foreign key in the database still
// points at the given row of t. The referencing column's index is consulted
// when one exists; otherwise the child table is scanned.
func (db *Database) checkNotReferenced(t *storage.Table, row storage.Row) error {
	for _, childName := range db.TableNames() {
		child := db.tables[childName]

		for pos, col := range child.Columns {
			if col.RefTable != t.Name {
				continue
			}

			refPos, ok := t.ColumnPos(col.RefColumn)
			if !ok {
				continue
			}
			refVal := row[refPos]
			if refVal.IsNull() {
				continue
			}

			if idx, ok := child.IndexOnColumn(col.Name); ok {
				if idx.Contains(refVal) {
					return common.NewReferentialIntegrityError(
						fmt.Sprintf("row is referenced by %s.%s", childName, col.Name))
				}
				continue
			}

			for _, entry := range child.Scan() {
				if entry.Row[pos].Equal(refVal) {
					return common.NewReferentialIntegrityError(
						fmt.Sprintf("row is referenced by %s.%s", childName, col.Name))
				}
			}
		}
	}
	return nil
}
