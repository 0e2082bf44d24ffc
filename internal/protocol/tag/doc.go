// Package tag generates, classifies and tracks correlation tags.
//
// Every outbound frame starts with a tag; the server echoes it on the reply.
// Inbound tags that match no pending request are push events, and Classify
// decides which kind from the tag's shape alone.
package tag
