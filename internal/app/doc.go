// Package app wires application dependencies for the CLI.
//
// It loads Config from defaults and an optional TOML file, then builds the
// concrete stores, the identity service and session clients from it, exposing
// them via the Wire struct for commands to use.
package app
