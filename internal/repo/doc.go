// Package repo implements the repositories through which all domain code
// touches the entity store.
//
// One generic Repo handles CRUD, pagination, search, and sync-state stamping
// for every entity type; each concrete repository supplies a Table
// descriptor (columns plus bind/scan conversion functions) and adds its
// domain-specific operations on top. No call site outside this package can
// forget to stamp sync state because no call site outside this package
// writes rows.
//
// Errors stay local: repositories surface store.ErrNotFound,
// store.ErrClosed, and store.ErrConstraint, never network or circuit
// breaker errors.
package repo
