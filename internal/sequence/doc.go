// Package sequence implements sequence and step lifecycle management.
//
// The service layer owns validation (step order contiguity, backward-only
// condition references, send window sanity) and the draft→active↔paused→
// archived lifecycle. It depends on the Repository interface defined in this
// package; the Postgres implementation lives in repository/postgres.
package sequence
