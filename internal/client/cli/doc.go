// Package cli implements the synkctl command tree.
//
// Every command works against the local SQLite store first. The sync and
// pull commands then reconcile that store with the server using
// last-write-wins on last_changed. Configuration comes from defaults, an
// optional YAML or JSON file (--config) and finally the command line flags.
package cli
