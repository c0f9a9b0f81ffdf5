// Package models defines the core data structures of the stock pipeline.
package models

import "strings"

// Entity is one tracked ticker symbol.
type Entity string

// TableName returns the raw table that holds the entity's price history.
func (e Entity) TableName() string {
	return strings.ToLower(string(e)) + "_stock_prices"
}

func (e Entity) String() string {
	return string(e)
}

// ParseEntities splits a comma or whitespace separated ticker list.
func ParseEntities(raw string) []Entity {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})

	entities := make([]Entity, 0, len(fields))
	for _, field := range fields {
		entities = append(entities, Entity(strings.ToUpper(field)))
	}

	return entities
}
