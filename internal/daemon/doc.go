// Package daemon provides the background process that keeps a local
// ember-core store reconciled with the remote service.
//
// The daemon:
// 1. Runs the sync reconciler on a fixed interval
// 2. Watches an inbox directory for dropped backup documents and imports them
// 3. Moves imported documents to done/ or failed/ subdirectories
// 4. Handles graceful shutdown
package daemon
