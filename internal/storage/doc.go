// Package storage persists the job queue and the announcement-post
// projections in a single sqlite file.
//
// Shapes are validated at this boundary: a row missing required fields comes
// back as ErrInvalidRecord instead of failing deep inside business logic.
package storage
