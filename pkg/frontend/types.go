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

package frontend

import (
	"fmt"
	"strings"
	"time"

	"github.com/dr0pdb/glaciersql/internal/common"
)

// FieldType denotes the type of a column or a value.
type FieldType uint64

const (
	FieldTypeNull FieldType = iota
	FieldTypeInteger
	FieldTypeReal
	FieldTypeText
	FieldTypeBoolean
	FieldTypeDate
)

const dateLayout = "2006-01-02"

func (f FieldType) String() string {
	switch f {
	case FieldTypeNull:
		return "NULL"

	case FieldTypeInteger:
		return "INTEGER"

	case FieldTypeReal:
		return "REAL"

	case FieldTypeText:
		return "TEXT"

	case FieldTypeBoolean:
		return "BOOLEAN"

	case FieldTypeDate:
		return "DATE"
	}

	panic("programming error: unexpected field type in String() of FieldType")
}

// Value is a single tagged value.
//
// The dynamic type of Val depends on Typ:
//
//	FieldTypeNull    -> nil
//	FieldTypeInteger -> int64
//	FieldTypeReal    -> float64
//	FieldTypeText    -> string
//	FieldTypeBoolean -> bool
//	FieldTypeDate    -> string in the form YYYY-MM-DD
//
// All dynamic types are comparable so a Value can be used as a map key.
type Value struct {
	Typ FieldType
	Val interface{}
}

// NewNullValue returns the distinguished null value.
func NewNullValue() Value {
	return Value{Typ: FieldTypeNull}
}

// NewIntegerValue returns an integer value.
func NewIntegerValue(v int64) Value {
	return Value{Typ: FieldTypeInteger, Val: v}
}

// NewRealValue returns a real value.
func NewRealValue(v float64) Value {
	return Value{Typ: FieldTypeReal, Val: v}
}

// NewTextValue returns a text value.
func NewTextValue(v string) Value {
	return Value{Typ: FieldTypeText, Val: v}
}

// NewBooleanValue returns a boolean value.
func NewBooleanValue(v bool) Value {
	return Value{Typ: FieldTypeBoolean, Val: v}
}

// NewDateValue returns a date value. The string must already be a valid
// YYYY-MM-DD date.
func NewDateValue(v string) Value {
	return Value{Typ: FieldTypeDate, Val: v}
}

// IsNull reports whether the value is the null value.
func (v Value) IsNull() bool {
	return v.Typ == FieldTypeNull
}

func (v Value) GetAsInt() int64 {
	if v.Typ != FieldTypeInteger {
		panic("programming error: expected type to be integer")
	}

	return v.Val.(int64)
}

func (v Value) GetAsReal() float64 {
	if v.Typ != FieldTypeReal {
		panic("programming error: expected type to be real")
	}

	return v.Val.(float64)
}

func (v Value) GetAsText() string {
	if v.Typ != FieldTypeText && v.Typ != FieldTypeDate {
		panic("programming error: expected type to be text or date")
	}

	return v.Val.(string)
}

func (v Value) GetAsBoolean() bool {
	if v.Typ != FieldTypeBoolean {
		panic("programming error: expected type to be boolean")
	}

	return v.Val.(bool)
}

func (v Value) String() string {
	if v.IsNull() {
		return "NULL"
	}

	switch v.Typ {
	case FieldTypeText, FieldTypeDate:
		return fmt.Sprintf("'%v'", v.Val)
	default:
		return fmt.Sprintf("%v", v.Val)
	}
}

// Coerce converts the value to the target field type following the ingestion
// rules: integer literals are accepted for REAL columns, text literals in the
// form YYYY-MM-DD are accepted for DATE columns and the textual forms
// TRUE/FALSE (case-insensitive) are accepted for BOOLEAN columns. Null is
// accepted for every target. Everything else fails with a TypeError.
func (v Value) Coerce(target FieldType) (Value, error) {
	if v.IsNull() {
		return NewNullValue(), nil
	}

	switch target {
	case FieldTypeInteger:
		if v.Typ == FieldTypeInteger {
			return v, nil
		}

	case FieldTypeReal:
		if v.Typ == FieldTypeReal {
			return v, nil
		}
		if v.Typ == FieldTypeInteger {
			return NewRealValue(float64(v.GetAsInt())), nil
		}

	case FieldTypeText:
		if v.Typ == FieldTypeText {
			return v, nil
		}

	case FieldTypeBoolean:
		if v.Typ == FieldTypeBoolean {
			return v, nil
		}
		if v.Typ == FieldTypeText {
			switch strings.ToUpper(v.GetAsText()) {
			case "TRUE":
				return NewBooleanValue(true), nil
			case "FALSE":
				return NewBooleanValue(false), nil
			}
		}

	case FieldTypeDate:
		if v.Typ == FieldTypeDate {
			return v, nil
		}
		if v.Typ == FieldTypeText {
			if _, err := time.Parse(dateLayout, v.GetAsText()); err == nil {
				return NewDateValue(v.GetAsText()), nil
			}
		}
	}

	return Value{}, common.NewTypeError(fmt.Sprintf("cannot coerce %s to %s", v, target))
}

// Compare compares two non-null values of the same domain.
// It returns -1, 0 or 1. Comparing null or values of different domains
// fails with a TypeError.
func (v Value) Compare(o Value) (int, error) {
	if v.IsNull() || o.IsNull() {
		return 0, common.NewTypeError("cannot compare null values")
	}
	if v.Typ != o.Typ {
		return 0, common.NewTypeError(fmt.Sprintf("cannot compare %s with %s", v.Typ, o.Typ))
	}

	switch v.Typ {
	case FieldTypeInteger:
		return compareOrdered(v.GetAsInt(), o.GetAsInt()), nil

	case FieldTypeReal:
		return compareOrdered(v.GetAsReal(), o.GetAsReal()), nil

	case FieldTypeText, FieldTypeDate:
		// ISO dates order correctly under lexicographic comparison
		return compareOrdered(v.GetAsText(), o.GetAsText()), nil

	case FieldTypeBoolean:
		a, b := v.GetAsBoolean(), o.GetAsBoolean()
		if a == b {
			return 0, nil
		}
		if !a {
			return -1, nil
		}
		return 1, nil
	}

	return 0, common.NewTypeError(fmt.Sprintf("cannot compare values of type %s", v.Typ))
}

// Equal reports structural equality within a domain.
// Null never equals anything, including null.
func (v Value) Equal(o Value) bool {
	if v.IsNull() || o.IsNull() {
		return false
	}

	return v == o
}

func compareOrdered[T int64 | float64 | string](a, b T) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// MatchLike matches s against an SQL LIKE pattern where '%' matches any span
// and '_' matches exactly one character. Matching is case-sensitive.
func MatchLike(s, pattern string) bool {
	sr := []rune(s)
	pr := []rune(pattern)

	// two-pointer matching, backtracking to the last '%'
	si, pi := 0, 0
	starPi, starSi := -1, 0

	for si < len(sr) {
		switch {
		case pi < len(pr) && pr[pi] == '%':
			starPi = pi
			starSi = si
			pi++

		case pi < len(pr) && (pr[pi] == '_' || pr[pi] == sr[si]):
			si++
			pi++

		case starPi != -1:
			pi = starPi + 1
			starSi++
			si = starSi

		default:
			return false
		}
	}

	for pi < len(pr) && pr[pi] == '%' {
		pi++
	}

	return pi == len(pr)
}
