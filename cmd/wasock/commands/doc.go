// Package commands defines the wasock CLI and wires dependencies for subcommands.
//
// Commands
//
//   - connect   Pair or restore a session and keep it connected
//   - info      Print the client id, key fingerprint and pairing state
//   - forget    Delete the stored session
//
// # Implementation
//
// The root command loads the TOML config, builds the logger and the
// dependency graph (stores, identity service, client factory) before any
// subcommand runs, so handlers share one app.Wire.
package commands
