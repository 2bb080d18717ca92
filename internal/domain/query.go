package domain

import (
	"errors"
	"strings"
)

var (
	ErrEmptyToolName = errors.New("tool name is required")
	ErrEmptyQuery    = errors.New("question is required")
)

// Query is one user request: the program to explain and the question about it.
// The zero value is not valid; construct with NewQuery.
type Query struct {
	toolName string
	query    string
}

// NewQuery trims both parts and rejects an empty tool name or question.
func NewQuery(toolName, query string) (Query, error) {
	toolName = strings.TrimSpace(toolName)
	query = strings.TrimSpace(query)
	if toolName == "" {
		return Query{}, ErrEmptyToolName
	}
	if query == "" {
		return Query{}, ErrEmptyQuery
	}
	return Query{toolName: toolName, query: query}, nil
}

func (q Query) ToolName() string { return q.toolName }
func (q Query) Query() string    { return q.query }

func (q Query) String() string {
	return q.toolName + ": " + q.query
}
