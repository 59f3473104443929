// Package statement implements the per-handle bounded prepared-statement
// cache: key derivation and LRU-evicting storage, coordinated with a
// statement's close-to-cache handoff.
package statement

import (
	"strconv"
	"strings"
)

// PrepareOption adjusts how a statement is prepared and, by extension, its
// cache key. Each variant contributes one component to Key.
type PrepareOption func(*Variants)

// Variants accumulates the non-SQL-text components of a cache key, mapped
// from the capability set a JDBC-style prepareStatement overload would
// take: result-set type/concurrency/holdability, auto-generated-keys
// selection, and explicit column index/name lists.
type Variants struct {
	ResultSetType        string
	ResultSetConcurrency string
	ResultSetHoldability string
	AutoGeneratedKeys    string
	ColumnIndexes        []int
	ColumnNames          []string
}

func WithResultSetType(v string) PrepareOption {
	return func(o *Variants) { o.ResultSetType = v }
}

func WithResultSetConcurrency(v string) PrepareOption {
	return func(o *Variants) { o.ResultSetConcurrency = v }
}

func WithResultSetHoldability(v string) PrepareOption {
	return func(o *Variants) { o.ResultSetHoldability = v }
}

func WithAutoGeneratedKeys(v string) PrepareOption {
	return func(o *Variants) { o.AutoGeneratedKeys = v }
}

func WithColumnIndexes(idx ...int) PrepareOption {
	return func(o *Variants) { o.ColumnIndexes = idx }
}

func WithColumnNames(names ...string) PrepareOption {
	return func(o *Variants) { o.ColumnNames = names }
}

// Key derives the canonical cache key spec.md §3 requires: SQL text plus
// every variant component, in a fixed order so identical calls always
// collide on the same key regardless of option call order.
func Key(sql string, opts ...PrepareOption) string {
	var v Variants
	for _, opt := range opts {
		opt(&v)
	}

	var b strings.Builder
	b.WriteString(sql)
	b.WriteByte('\x00')
	b.WriteString(v.ResultSetType)
	b.WriteByte('\x00')
	b.WriteString(v.ResultSetConcurrency)
	b.WriteByte('\x00')
	b.WriteString(v.ResultSetHoldability)
	b.WriteByte('\x00')
	b.WriteString(v.AutoGeneratedKeys)
	b.WriteByte('\x00')
	for _, i := range v.ColumnIndexes {
		b.WriteString(strconv.Itoa(i))
		b.WriteByte(',')
	}
	b.WriteByte('\x00')
	b.WriteString(strings.Join(v.ColumnNames, ","))
	return b.String()
}
