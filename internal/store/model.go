package store

import (
	"fmt"
	"time"
)

// DatabaseType identifies the SQL dialect or warehouse a training item
// pertains to. Items never cross this boundary at query time.
type DatabaseType string

// Supported database types.
const (
	DatabaseBigQuery DatabaseType = "bigquery"
	DatabaseMSSQL    DatabaseType = "mssql"
	DatabasePostgres DatabaseType = "postgres"
	DatabaseMySQL    DatabaseType = "mysql"
)

// DatabaseTypes lists every supported database type.
func DatabaseTypes() []DatabaseType {
	return []DatabaseType{DatabaseBigQuery, DatabaseMSSQL, DatabasePostgres, DatabaseMySQL}
}

// Valid reports whether d is a supported database type.
func (d DatabaseType) Valid() bool {
	switch d {
	case DatabaseBigQuery, DatabaseMSSQL, DatabasePostgres, DatabaseMySQL:
		return true
	}
	return false
}

// ParseDatabaseType converts a configuration string into a DatabaseType.
func ParseDatabaseType(s string) (DatabaseType, error) {
	d := DatabaseType(s)
	if !d.Valid() {
		return "", fmt.Errorf("%w: unknown database type %q", ErrInvalidRequest, s)
	}
	return d, nil
}

// ContentKind classifies what a training item teaches the model.
type ContentKind string

// Content kinds.
const (
	// KindSchema is a DDL statement or table definition.
	KindSchema ContentKind = "schema"
	// KindDocumentation is free-form business or domain documentation.
	KindDocumentation ContentKind = "documentation"
	// KindQueryExample is a natural-language question paired with the SQL
	// that answers it.
	KindQueryExample ContentKind = "query_example"
)

// Valid reports whether k is a known content kind.
func (k ContentKind) Valid() bool {
	switch k {
	case KindSchema, KindDocumentation, KindQueryExample:
		return true
	}
	return false
}

// TrainingItem is one unit of retrievable knowledge. Items are immutable
// after insertion: content, vector and tags are fixed for the item's
// lifetime, and re-embedding requires a new item.
type TrainingItem struct {
	// ID is assigned at creation and never changes.
	ID string

	// Content is the text payload: a schema definition, a documentation
	// note, or the SQL of a query example.
	Content string

	// Question is the natural-language question for KindQueryExample
	// items. It is the embedded text for that kind; empty otherwise.
	Question string

	// Kind classifies the content.
	Kind ContentKind

	// Vector is the embedding of Content (or of Question for query
	// examples), produced once at insertion.
	Vector []float32

	// DatabaseType tags the dialect this item belongs to. Required.
	DatabaseType DatabaseType

	// TenantID is the owning tenant, or the reserved "shared" sentinel.
	TenantID string

	// CreatedAt is set once at insertion and breaks distance ties
	// (newer items win).
	CreatedAt time.Time
}

// EmbeddedText returns the text whose embedding represents the item: the
// question for query examples, the content otherwise.
func (t *TrainingItem) EmbeddedText() string {
	if t.Kind == KindQueryExample {
		return t.Question
	}
	return t.Content
}

// Clone returns a deep copy so stored items stay immutable even if the
// caller keeps mutating its argument.
func (t *TrainingItem) Clone() *TrainingItem {
	cp := *t
	cp.Vector = make([]float32, len(t.Vector))
	copy(cp.Vector, t.Vector)
	return &cp
}

// Match pairs a visible item with its cosine distance to the query vector.
// Smaller distance means more similar.
type Match struct {
	Item     TrainingItem
	Distance float32
}

// Stats summarizes the training corpus held by a store.
type Stats struct {
	Total          int
	ByDatabaseType map[DatabaseType]int
	ByTenant       map[string]int
}
