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

import "github.com/dr0pdb/glaciersql/pkg/frontend"

// PlanKind identifies how the evaluator selected candidate rows.
// Exposed on the result so callers (and tests) can observe whether an
// index lookup was substituted for a full scan.
type PlanKind uint8

const (
	// PlanNone is reported by statements that don't read rows.
	PlanNone PlanKind = iota

	// PlanFullScan means every row of the source was visited.
	PlanFullScan

	// PlanIndexScan means an equality conjunct was answered from an index
	// and only the matching rids were visited.
	PlanIndexScan
)

func (p PlanKind) String() string {
	switch p {
	case PlanNone:
		return "None"
	case PlanFullScan:
		return "FullScan"
	case PlanIndexScan:
		return "IndexScan"
	}

	panic("programming error: unexpected plan kind in String() of PlanKind")
}

// Result is the outcome of executing a single statement.
// SELECT fills Columns and Rows; DML fills RowsAffected; DDL and
// transaction statements fill Message.
type Result struct {
	Columns []string
	Rows    [][]frontend.Value

	RowsAffected  int
	LastInsertRid uint64

	Plan PlanKind

	Message string
}
