// Package models defines the core domain models for tripsync.
//
// # Entities
//
//   - User: the signed-in traveler, including the pointer to their current trip
//   - Trip: a jointly owned trip with its destinations (itinerary)
//   - Destination: a stop on the itinerary, optionally scheduled on a date
//   - Bill: a shared expense with its settlement summary
//   - Transaction: a manually recorded payment between two travelers
//
// # Remote documents
//
// Remote documents are schemaless field maps. The Parse* functions in this
// package are the only place that reads them: everything past the
// subscription boundary works with typed values. A malformed document yields
// a *ParseError instead of a partially filled entity.
//
// # Ownership
//
// Relationships use id strings, never pointers. Destinations, bills and
// transactions live in sub-collections of their trip and are owned by it.
// Bill.Archived is local state merged in by the bill store; it is never
// read from or written to the remote store.
package models
