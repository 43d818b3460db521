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

// compiledPred is a predicate bound to a column position with its operand
// coerced to the column's domain.
type compiledPred struct {
	pos     int
	op      frontend.Operator
	operand frontend.Value

	// a null operand never matches anything
	alwaysFalse bool
}

// compilePredicate binds a parsed predicate to a column of the given type.
// For the ordering operators the operand is coerced to the column domain;
// LIKE requires a text pattern and a string-backed column.
func compilePredicate(p *frontend.Predicate, pos int, colType frontend.FieldType) (compiledPred, error) {
	cp := compiledPred{pos: pos, op: p.Op}

	if p.Operand.IsNull() {
		cp.alwaysFalse = true
		return cp, nil
	}

	if p.Op == frontend.OperatorLike {
		if p.Operand.Typ != frontend.FieldTypeText {
			return compiledPred{}, common.NewTypeError(
				fmt.Sprintf("LIKE pattern must be a string, got %s", p.Operand.Typ))
		}
		if colType != frontend.FieldTypeText && colType != frontend.FieldTypeDate {
			return compiledPred{}, common.NewTypeError(
				fmt.Sprintf("LIKE is not defined for %s columns", colType))
		}
		cp.operand = p.Operand
		return cp, nil
	}

	coerced, err := p.Operand.Coerce(colType)
	if err != nil {
		return compiledPred{}, err
	}
	cp.operand = coerced
	return cp, nil
}

// matches evaluates the predicate against a single row.
// Null cells never match.
func (cp compiledPred) matches(row storage.Row) (bool, error) {
	if cp.alwaysFalse {
		return false, nil
	}

	cell := row[cp.pos]
	if cell.IsNull() {
		return false, nil
	}

	if cp.op == frontend.OperatorLike {
		return frontend.MatchLike(cell.GetAsText(), cp.operand.GetAsText()), nil
	}

	cmp, err := cell.Compare(cp.operand)
	if err != nil {
		return false, err
	}

	switch cp.op {
	case frontend.OperatorEqual:
		return cmp == 0, nil
	case frontend.OperatorLessThan:
		return cmp < 0, nil
	case frontend.OperatorGreaterThan:
		return cmp > 0, nil
	}

	return false, common.NewTypeError(fmt.Sprintf("unsupported operator %s", cp.op))
}

func rowMatchesAll(row storage.Row, preds []compiledPred) (bool, error) {
	for _, cp := range preds {
		ok, err := cp.matches(row)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// compileTablePredicates binds a WHERE conjunction to a single table.
// A qualifier, when present, must name that table.
func compileTablePredicates(t *storage.Table, preds []*frontend.Predicate) ([]compiledPred, []*frontend.Predicate, error) {
	compiled := make([]compiledPred, 0, len(preds))
	for _, p := range preds {
		if p.Col.Table != "" && p.Col.Table != t.Name {
			return nil, nil, common.NewSchemaError(
				fmt.Sprintf("unknown table %s in predicate %s", p.Col.Table, p.Col))
		}
		pos, ok := t.ColumnPos(p.Col.Column)
		if !ok {
			return nil, nil, common.NewSchemaError(
				fmt.Sprintf("unknown column %s in table %s", p.Col.Column, t.Name))
		}

		cp, err := compilePredicate(p, pos, t.Columns[pos].Type)
		if err != nil {
			return nil, nil, err
		}
		compiled = append(compiled, cp)
	}
	return compiled, preds, nil
}

// filterTable selects the rows of t matching the WHERE conjunction.
//
// Before scanning, the conjuncts are inspected: the first one of the form
// column = literal over an indexed column is answered from the index and
// its result becomes the candidate set; the remaining conjuncts are applied
// row-wise. With no indexable conjunct every row is visited.
func (db *Database) filterTable(t *storage.Table, preds []*frontend.Predicate) ([]storage.ScanEntry, PlanKind, error) {
	compiled, parsed, err := compileTablePredicates(t, preds)
	if err != nil {
		return nil, PlanNone, err
	}

	var candidates []storage.ScanEntry
	plan := PlanFullScan

	for i, cp := range compiled {
		if cp.op != frontend.OperatorEqual || cp.alwaysFalse {
			continue
		}
		if idx, ok := t.IndexOnColumn(parsed[i].Col.Column); ok {
			rids := idx.LookupEq(cp.operand)
			candidates = make([]storage.ScanEntry, 0, len(rids))
			for _, rid := range rids {
				if row, ok := t.Get(rid); ok {
					candidates = append(candidates, storage.ScanEntry{Rid: rid, Row: row})
				}
			}
			plan = PlanIndexScan
			break
		}
	}

	if plan == PlanFullScan {
		candidates = t.Scan()
	}

	out := make([]storage.ScanEntry, 0, len(candidates))
	for _, entry := range candidates {
		ok, err := rowMatchesAll(entry.Row, compiled)
		if err != nil {
			return nil, PlanNone, err
		}
		if ok {
			out = append(out, entry)
		}
	}

	return out, plan, nil
}
