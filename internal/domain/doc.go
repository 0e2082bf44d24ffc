// Package domain defines core data models and interfaces shared across the app.
// It contains plain types (session state, Conn payloads, keys) and contracts
// (stores, crypto, codec) only.
package domain
