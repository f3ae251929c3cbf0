// Package entity defines the domain types shared by the local store, the
// repositories, the sync reconciler, and the import/export engine.
//
// Every syncable type embeds Meta, which carries the row identity, the
// created/updated timestamps, and the SyncState marker used to track whether
// the remote service has acknowledged the current local state. Repositories
// are the only writers of Meta fields; domain code reads them.
package entity
