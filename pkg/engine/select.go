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
)

// sourceColumn describes one column of a derived relation.
type sourceColumn struct {
	Table string
	Name  string
	Typ   frontend.FieldType
}

// relation is the intermediate result a SELECT pipeline operates on: the
// filtered source rows with their column descriptors. Rows keep the
// ascending-rid order of the underlying scans.
type relation struct {
	cols []sourceColumn
	rows []storage.Row

	// qualified selects the table.column display form, used for join output
	// where both sides may carry the same column name
	qualified bool
}

// resolve binds a column reference against the relation. A bare name must
// match exactly one source column; several matches fail with
// AmbiguousColumn.
func (r *relation) resolve(ref frontend.ColumnRef) (int, error) {
	if ref.Table != "" {
		for i, c := range r.cols {
			if c.Table == ref.Table && c.Name == ref.Column {
				return i, nil
			}
		}
		return 0, common.NewSchemaError(fmt.Sprintf("unknown column %s", ref))
	}

	found := -1
	for i, c := range r.cols {
		if c.Name == ref.Column {
			if found >= 0 {
				return 0, common.NewAmbiguousColumnError(
					fmt.Sprintf("column %s is ambiguous between %s and %s",
						ref.Column, r.cols[found].Table, c.Table))
			}
			found = i
		}
	}
	if found < 0 {
		return 0, common.NewSchemaError(fmt.Sprintf("unknown column %s", ref.Column))
	}
	return found, nil
}

func (r *relation) displayName(i int) string {
	if r.qualified {
		return r.cols[i].Table + "." + r.cols[i].Name
	}
	return r.cols[i].Name
}

func relationFromTable(t *storage.Table, entries []storage.ScanEntry) *relation {
	rel := &relation{
		cols: make([]sourceColumn, len(t.Columns)),
		rows: make([]storage.Row, 0, len(entries)),
	}
	for i, c := range t.Columns {
		rel.cols[i] = sourceColumn{Table: t.Name, Name: c.Name, Typ: c.Type}
	}
	for _, e := range entries {
		rel.rows = append(rel.rows, e.Row)
	}
	return rel
}

// executeSelect evaluates a SELECT statement: candidate selection (with
// index substitution on a single table), optional hash-equi-join, row-wise
// filtering, then projection or grouped aggregation.
func (db *Database) executeSelect(st *frontend.SelectStatement) (*Result, error) {
	left, err := db.table(st.From)
	if err != nil {
		return nil, err
	}

	var rel *relation
	var plan PlanKind

	if st.Join == nil {
		entries, p, err := db.filterTable(left, st.Where)
		if err != nil {
			return nil, err
		}
		rel = relationFromTable(left, entries)
		plan = p
	} else {
		rel, err = db.buildJoin(left, st.Join)
		if err != nil {
			return nil, err
		}
		plan = PlanFullScan

		// remaining WHERE conjuncts apply post-join to the joined tuple
		if len(st.Where) > 0 {
			if err := rel.applyWhere(st.Where); err != nil {
				return nil, err
			}
		}
	}

	hasAgg := false
	for _, p := range st.Projections {
		if p.Agg != frontend.AggNone {
			hasAgg = true
			break
		}
	}
	if hasAgg || len(st.GroupBy) > 0 {
		return db.evaluateAggregate(rel, st, plan)
	}

	return rel.project(st.Projections, plan)
}

// applyWhere filters the relation rows in place with a compiled conjunction.
func (r *relation) applyWhere(preds []*frontend.Predicate) error {
	compiled := make([]compiledPred, 0, len(preds))
	for _, p := range preds {
		pos, err := r.resolve(p.Col)
		if err != nil {
			return err
		}
		cp, err := compilePredicate(p, pos, r.cols[pos].Typ)
		if err != nil {
			return err
		}
		compiled = append(compiled, cp)
	}

	kept := r.rows[:0]
	for _, row := range r.rows {
		ok, err := rowMatchesAll(row, compiled)
		if err != nil {
			return err
		}
		if ok {
			kept = append(kept, row)
		}
	}
	r.rows = kept
	return nil
}

// buildJoin evaluates the two-table hash-equi-join: the right relation is
// hashed on its join column in scan order, then the left relation probes it
// and emits L||R concatenations in L-scan x R-scan order. Null join keys
// never match.
func (db *Database) buildJoin(left *storage.Table, jc *frontend.JoinClause) (*relation, error) {
	right, err := db.table(jc.TableName)
	if err != nil {
		return nil, err
	}

	leftRef, rightRef := jc.Left, jc.Right
	if leftRef.Table != left.Name {
		leftRef, rightRef = rightRef, leftRef
	}
	if leftRef.Table != left.Name || rightRef.Table != right.Name {
		return nil, common.NewSchemaError(
			fmt.Sprintf("join condition %s = %s does not reference %s and %s",
				jc.Left, jc.Right, left.Name, right.Name))
	}

	leftPos, ok := left.ColumnPos(leftRef.Column)
	if !ok {
		return nil, common.NewSchemaError(
			fmt.Sprintf("unknown column %s in table %s", leftRef.Column, left.Name))
	}
	rightPos, ok := right.ColumnPos(rightRef.Column)
	if !ok {
		return nil, common.NewSchemaError(
			fmt.Sprintf("unknown column %s in table %s", rightRef.Column, right.Name))
	}

	// build phase over the right relation
	build := make(map[frontend.Value][]storage.Row)
	for _, e := range right.Scan() {
		key := e.Row[rightPos]
		if key.IsNull() {
			continue
		}
		build[key] = append(build[key], e.Row)
	}

	rel := &relation{qualified: true}
	for _, c := range left.Columns {
		rel.cols = append(rel.cols, sourceColumn{Table: left.Name, Name: c.Name, Typ: c.Type})
	}
	for _, c := range right.Columns {
		rel.cols = append(rel.cols, sourceColumn{Table: right.Name, Name: c.Name, Typ: c.Type})
	}

	// probe phase over the left relation
	for _, e := range left.Scan() {
		key := e.Row[leftPos]
		if key.IsNull() {
			continue
		}
		for _, rightRow := range build[key] {
			joined := make(storage.Row, 0, len(e.Row)+len(rightRow))
			joined = append(joined, e.Row...)
			joined = append(joined, rightRow...)
			rel.rows = append(rel.rows, joined)
		}
	}

	return rel, nil
}

// project materializes the projection list over the relation.
func (r *relation) project(items []*frontend.ProjectionItem, plan PlanKind) (*Result, error) {
	var positions []int
	var headers []string

	for _, item := range items {
		switch {
		case item.Star:
			for i := range r.cols {
				positions = append(positions, i)
				headers = append(headers, r.displayName(i))
			}

		default:
			pos, err := r.resolve(item.Col)
			if err != nil {
				return nil, err
			}
			positions = append(positions, pos)
			headers = append(headers, item.Col.String())
		}
	}

	rows := make([][]frontend.Value, 0, len(r.rows))
	for _, row := range r.rows {
		out := make([]frontend.Value, len(positions))
		for i, pos := range positions {
			out[i] = row[pos]
		}
		rows = append(rows, out)
	}

	return &Result{Columns: headers, Rows: rows, Plan: plan}, nil
}
