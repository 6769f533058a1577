// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

// Package query provides SQL query building utilities for the
// storage package's span queries.
package query

import (
	"fmt"
	"strings"
	"time"
)

// WhereBuilder constructs SQL WHERE clauses with parameterized
// arguments, reducing SQL injection risk and clause-duplication
// across span queries.
//
// Example usage:
//
//	wb := query.NewWhereBuilder()
//	wb.AddTimeRange(start, end)
//	wb.AddKind("session")
//	whereClause, args := wb.Build()
type WhereBuilder struct {
	clauses []string
	args    []interface{}
}

// NewWhereBuilder creates a new WhereBuilder instance.
func NewWhereBuilder() *WhereBuilder {
	return &WhereBuilder{
		clauses: []string{},
		args:    []interface{}{},
	}
}

// AddClause adds a raw WHERE clause with its arguments, for
// conditions not covered by the helper methods below.
func (wb *WhereBuilder) AddClause(clause string, args ...interface{}) *WhereBuilder {
	wb.clauses = append(wb.clauses, clause)
	wb.args = append(wb.args, args...)
	return wb
}

// AddTimeRange adds an overlap filter for spans whose [t_start,t_end]
// interval overlaps [start,end]. Nil bounds are skipped.
func (wb *WhereBuilder) AddTimeRange(start, end *time.Time) *WhereBuilder {
	if start != nil {
		wb.clauses = append(wb.clauses, "t_end >= ?")
		wb.args = append(wb.args, start.UnixNano())
	}
	if end != nil {
		wb.clauses = append(wb.clauses, "t_start <= ?")
		wb.args = append(wb.args, end.UnixNano())
	}
	return wb
}

// AddKind adds an exact-match filter on span kind. Empty string is
// skipped.
func (wb *WhereBuilder) AddKind(kind string) *WhereBuilder {
	if kind != "" {
		wb.clauses = append(wb.clauses, "kind = ?")
		wb.args = append(wb.args, kind)
	}
	return wb
}

// AddTags adds a membership filter: the span's JSON tags array must
// contain every requested tag. Empty slice is skipped.
func (wb *WhereBuilder) AddTags(tags []string) *WhereBuilder {
	for _, t := range tags {
		wb.clauses = append(wb.clauses, "list_contains(CAST(tags AS VARCHAR[]), ?)")
		wb.args = append(wb.args, t)
	}
	return wb
}

// Build constructs the final WHERE clause and returns it with
// arguments. Clauses are joined with AND; returns ("1=1", []) if none
// were added.
func (wb *WhereBuilder) Build() (string, []interface{}) {
	if len(wb.clauses) == 0 {
		return "1=1", []interface{}{}
	}
	return strings.Join(wb.clauses, " AND "), wb.args
}

// BuildWithPrefix returns the WHERE clause with a "WHERE " prefix.
func (wb *WhereBuilder) BuildWithPrefix() (string, []interface{}) {
	whereClause, args := wb.Build()
	return "WHERE " + whereClause, args
}

// Count returns the number of clauses added to the builder.
func (wb *WhereBuilder) Count() int {
	return len(wb.clauses)
}

// IsEmpty returns true if no clauses have been added.
func (wb *WhereBuilder) IsEmpty() bool {
	return len(wb.clauses) == 0
}

// Paginate appends a LIMIT/OFFSET clause to a query string.
func Paginate(query string, limit, offset int) string {
	if limit <= 0 {
		limit = 50
	}
	return fmt.Sprintf("%s LIMIT %d OFFSET %d", query, limit, offset)
}
