// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package collect

import (
	"fmt"
	"strings"
)

// Field selects one column of a data point
type Field int

const (
	FieldTime     Field = iota // seconds since Initialize
	FieldPosition              // mm
	FieldLoad                  // force source units, tared at Initialize
)

func (f Field) String() string {
	switch f {
	case FieldTime:
		return "time"
	case FieldPosition:
		return "position"
	case FieldLoad:
		return "load"
	default:
		return fmt.Sprintf("Field(%d)", int(f))
	}
}

// ParseField parses a field name
func ParseField(s string) (Field, error) {
	switch strings.ToLower(s) {
	case "time":
		return FieldTime, nil
	case "position", "displacement":
		return FieldPosition, nil
	case "load", "force":
		return FieldLoad, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownField, s)
}

// Comparator is the stop condition of CollectUntil and WaitUntil
type Comparator int

const (
	LessThan Comparator = iota
	GreaterThan
)

func (c Comparator) String() string {
	switch c {
	case LessThan:
		return "lessthan"
	case GreaterThan:
		return "greaterthan"
	default:
		return fmt.Sprintf("Comparator(%d)", int(c))
	}
}

// checkCondition rejects fields and comparators outside the enums
func checkCondition(f Field, c Comparator) error {
	if f < FieldTime || f > FieldLoad {
		return fmt.Errorf("%w: %s", ErrUnknownField, f)
	}
	if c != LessThan && c != GreaterThan {
		return fmt.Errorf("%w: %s", ErrUnknownComparator, c)
	}
	return nil
}

// Holds reports whether value compares to threshold as c requires
func (c Comparator) Holds(value, threshold float64) bool {
	switch c {
	case LessThan:
		return value < threshold
	case GreaterThan:
		return value > threshold
	default:
		return false
	}
}

// ParseComparator parses "lessthan"/"<" or "greaterthan"/">"
func ParseComparator(s string) (Comparator, error) {
	switch strings.ToLower(s) {
	case "lessthan", "lt", "<":
		return LessThan, nil
	case "greaterthan", "gt", ">":
		return GreaterThan, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownComparator, s)
}

// Point is one sample
type Point struct {
	Time     float64 `cbor:"t"`
	Position float64 `cbor:"p"`
	Load     float64 `cbor:"l"`
}

// Get returns the value of field
func (p Point) Get(f Field) float64 {
	switch f {
	case FieldTime:
		return p.Time
	case FieldPosition:
		return p.Position
	case FieldLoad:
		return p.Load
	default:
		return 0
	}
}
