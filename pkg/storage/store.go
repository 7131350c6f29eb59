// Package storage provides the generic document persistence layer: named
// collections of JSON-like records addressed by id, with equality-match
// filters. The voting and participation components depend only on the Store
// interface; Postgres is the authoritative implementation and Memory backs
// tests and database-less development.
package storage

import (
	"context"
	"errors"
)

// Collection names used by the application.
const (
	CollectionVotingSessions     = "voting_sessions"
	CollectionParticipationVotes = "participation_votes"
	CollectionTalks              = "talks"
)

// ErrNotFound is returned by FindOne and Update when no record matches.
var ErrNotFound = errors.New("storage: record not found")

// Filter matches records whose top-level fields equal every entry.
// An empty filter matches all records in the collection.
type Filter map[string]any

// Record is a stored document. Every record carries an "id" field.
type Record map[string]any

// ID returns the record's id field, or "" when absent.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Store is the persistence contract shared by all backends.
type Store interface {
	// Create inserts a record. A missing "id" field is assigned a new one.
	// Returns the stored record including the id.
	Create(ctx context.Context, collection string, record Record) (Record, error)
	// FindOne returns the first record matching the filter, or ErrNotFound.
	FindOne(ctx context.Context, collection string, filter Filter) (Record, error)
	// Find returns all records matching the filter.
	Find(ctx context.Context, collection string, filter Filter) ([]Record, error)
	// Update merges patch into the record with the given id and returns the
	// updated record, or ErrNotFound.
	Update(ctx context.Context, collection string, id string, patch Record) (Record, error)
	// Delete removes the record with the given id. Deleting a missing record
	// is not an error.
	Delete(ctx context.Context, collection string, id string) error
}
