// Package node models the structured tree carried by binary frames.
//
// A Node has a tag, string attributes and a body that is empty, raw bytes or
// an ordered list of children. Two encodings are provided:
//
//   - JSON array form ["tag", {attrs}, content], used by text frames that carry
//     node pushes.
//   - CBORCodec, a deterministic CBOR encoding used as the binary codec.
//
// The session layer only needs the domain.NodeCodec contract; CBORCodec is the
// implementation wired by default.
package node
