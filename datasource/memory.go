package datasource

import (
	"context"

	"github.com/teranos/kestrel/dataset"
	"github.com/teranos/kestrel/stixquery"
)

// Memory serves a fixed in-memory bundle and records every request,
// which makes it the source of choice for embedding and tests.
type Memory struct {
	Bundle *Bundle

	// Retrievals and Traversals record requests in arrival order
	Retrievals []stixquery.Pattern
	Traversals []stixquery.TraverseRequest

	// Err, when set, fails every request
	Err error
}

// NewMemory creates a source serving records
func NewMemory(records []map[string]interface{}) *Memory {
	return &Memory{Bundle: NewBundle(records)}
}

// Retrieve implements Source
func (m *Memory) Retrieve(ctx context.Context, entityType, ref string, p stixquery.Pattern) (*dataset.Dataset, error) {
	m.Retrievals = append(m.Retrievals, p)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Bundle.Retrieve(entityType, p)
}

// Traverse implements Source
func (m *Memory) Traverse(ctx context.Context, ref string, req stixquery.TraverseRequest) (*dataset.Dataset, error) {
	m.Traversals = append(m.Traversals, req)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Bundle.Traverse(req)
}
