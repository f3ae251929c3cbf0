// Package syncer reconciles the local entity store with the remote service.
//
// One reconciliation pass handles each entity type in a fixed,
// parent-before-child order. Per type the pass is push-then-pull: locally
// pending rows are pushed first so a row the user just edited is never
// clobbered by a pull that predates the edit, then conflicts are settled by
// last-write-wins on updated_at, then server-side changes since the last
// checkpoint are pulled in, stamped synced.
//
// The pass is resilient the way the rest of the system expects: transport
// failures (including an open circuit) leave rows exactly as they were and
// are retried on the next pass; only an authorization failure halts the
// pass, because nothing will succeed until the user re-authenticates.
// Abandoning a pass between entity types leaves the store valid, just
// partially synced.
package syncer
