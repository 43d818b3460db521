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
	"sort"
	"strings"

	"github.com/dr0pdb/glaciersql/internal/common"
	"github.com/dr0pdb/glaciersql/pkg/frontend"
	"github.com/dr0pdb/glaciersql/pkg/storage"
)

// group is one partition of the input rows keyed by the GROUP BY tuple.
type group struct {
	key  []frontend.Value
	rows []storage.Row
}

// evaluateAggregate runs the grouped-aggregation path of a SELECT: rows are
// partitioned by the GROUP BY tuple (null forms its own group), aggregates
// are computed per group and the groups are emitted in ascending
// lexicographic key order with nulls first. Without grouping columns a
// single implicit group produces exactly one row, even over empty input.
func (db *Database) evaluateAggregate(rel *relation, st *frontend.SelectStatement, plan PlanKind) (*Result, error) {
	groupPos := make([]int, 0, len(st.GroupBy))
	for _, ref := range st.GroupBy {
		pos, err := rel.resolve(ref)
		if err != nil {
			return nil, err
		}
		groupPos = append(groupPos, pos)
	}

	// bind each projection item; every non-aggregate item must be one of
	// the grouping columns
	type boundItem struct {
		header   string
		agg      frontend.AggFunc
		aggStar  bool
		pos      int // column position; unused for COUNT(*)
		isKeyRef bool
	}

	items := make([]boundItem, 0, len(st.Projections))
	for _, item := range st.Projections {
		if item.Star {
			return nil, common.NewSchemaError("* cannot appear in an aggregated projection")
		}

		if item.Agg == frontend.AggNone {
			pos, err := rel.resolve(item.Col)
			if err != nil {
				return nil, err
			}

			grouped := false
			for _, gp := range groupPos {
				if gp == pos {
					grouped = true
					break
				}
			}
			if !grouped {
				return nil, common.NewSchemaError(
					fmt.Sprintf("column %s must appear in GROUP BY", item.Col))
			}

			items = append(items, boundItem{header: item.Col.String(), pos: pos, isKeyRef: true})
			continue
		}

		bi := boundItem{agg: item.Agg, aggStar: item.AggStar}
		if item.AggStar {
			bi.header = fmt.Sprintf("%s(*)", item.Agg)
		} else {
			pos, err := rel.resolve(item.Col)
			if err != nil {
				return nil, err
			}
			bi.pos = pos
			bi.header = fmt.Sprintf("%s(%s)", item.Agg, item.Col)

			if item.Agg == frontend.AggSum || item.Agg == frontend.AggAvg {
				typ := rel.cols[pos].Typ
				if typ != frontend.FieldTypeInteger && typ != frontend.FieldTypeReal {
					return nil, common.NewTypeError(
						fmt.Sprintf("%s is not defined for %s columns", item.Agg, typ))
				}
			}
		}
		items = append(items, bi)
	}

	groups := partition(rel.rows, groupPos)

	headers := make([]string, len(items))
	for i, bi := range items {
		headers[i] = bi.header
	}

	rows := make([][]frontend.Value, 0, len(groups))
	for _, g := range groups {
		out := make([]frontend.Value, len(items))
		for i, bi := range items {
			if bi.isKeyRef {
				// a grouping column holds the same value for every row of
				// the group; read it from the key tuple
				for ki, gp := range groupPos {
					if gp == bi.pos {
						out[i] = g.key[ki]
						break
					}
				}
				continue
			}

			v, err := computeAggregate(bi.agg, bi.aggStar, bi.pos, rel, g.rows)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		rows = append(rows, out)
	}

	return &Result{Columns: headers, Rows: rows, Plan: plan}, nil
}

// partition splits the rows into groups keyed by the values at groupPos,
// ordered ascending lexicographically over the key tuple with nulls first.
// With no grouping columns a single implicit group holds every row.
func partition(rows []storage.Row, groupPos []int) []*group {
	if len(groupPos) == 0 {
		return []*group{{rows: rows}}
	}

	byKey := make(map[string]*group)
	for _, row := range rows {
		key := make([]frontend.Value, len(groupPos))
		for i, pos := range groupPos {
			key[i] = row[pos]
		}

		enc := encodeGroupKey(key)
		g, ok := byKey[enc]
		if !ok {
			g = &group{key: key}
			byKey[enc] = g
		}
		g.rows = append(g.rows, row)
	}

	groups := make([]*group, 0, len(byKey))
	for _, g := range byKey {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		return compareKeyTuples(groups[i].key, groups[j].key) < 0
	})
	return groups
}

func encodeGroupKey(key []frontend.Value) string {
	var b strings.Builder
	for _, v := range key {
		fmt.Fprintf(&b, "%d\x00%v\x01", v.Typ, v.Val)
	}
	return b.String()
}

// compareKeyTuples orders group keys lexicographically with nulls first.
func compareKeyTuples(a, b []frontend.Value) int {
	for i := range a {
		if c := compareNullsFirst(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

func compareNullsFirst(a, b frontend.Value) int {
	if a.IsNull() && b.IsNull() {
		return 0
	}
	if a.IsNull() {
		return -1
	}
	if b.IsNull() {
		return 1
	}

	c, err := a.Compare(b)
	if err != nil {
		return 0
	}
	return c
}

// computeAggregate evaluates one aggregate over the rows of a group.
// SUM and AVG skip nulls and yield null over an empty or all-null group;
// MIN/MAX yield null over an empty group; COUNT(col) counts non-null values.
func computeAggregate(agg frontend.AggFunc, star bool, pos int, rel *relation, rows []storage.Row) (frontend.Value, error) {
	switch agg {
	case frontend.AggCount:
		if star {
			return frontend.NewIntegerValue(int64(len(rows))), nil
		}
		n := int64(0)
		for _, row := range rows {
			if !row[pos].IsNull() {
				n++
			}
		}
		return frontend.NewIntegerValue(n), nil

	case frontend.AggSum:
		if rel.cols[pos].Typ == frontend.FieldTypeInteger {
			var sum int64
			seen := false
			for _, row := range rows {
				if row[pos].IsNull() {
					continue
				}
				sum += row[pos].GetAsInt()
				seen = true
			}
			if !seen {
				return frontend.NewNullValue(), nil
			}
			return frontend.NewIntegerValue(sum), nil
		}

		var sum float64
		seen := false
		for _, row := range rows {
			if row[pos].IsNull() {
				continue
			}
			sum += row[pos].GetAsReal()
			seen = true
		}
		if !seen {
			return frontend.NewNullValue(), nil
		}
		return frontend.NewRealValue(sum), nil

	case frontend.AggAvg:
		var sum float64
		n := 0
		for _, row := range rows {
			v := row[pos]
			if v.IsNull() {
				continue
			}
			if v.Typ == frontend.FieldTypeInteger {
				sum += float64(v.GetAsInt())
			} else {
				sum += v.GetAsReal()
			}
			n++
		}
		if n == 0 {
			return frontend.NewNullValue(), nil
		}
		return frontend.NewRealValue(sum / float64(n)), nil

	case frontend.AggMin, frontend.AggMax:
		var best frontend.Value
		bestSet := false
		for _, row := range rows {
			v := row[pos]
			if v.IsNull() {
				continue
			}
			if !bestSet {
				best = v
				bestSet = true
				continue
			}

			c, err := v.Compare(best)
			if err != nil {
				return frontend.Value{}, err
			}
			if (agg == frontend.AggMin && c < 0) || (agg == frontend.AggMax && c > 0) {
				best = v
			}
		}
		if !bestSet {
			return frontend.NewNullValue(), nil
		}
		return best, nil
	}

	return frontend.Value{}, common.NewTypeError(fmt.Sprintf("unknown aggregate %d", agg))
}
