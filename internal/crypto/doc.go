// Package crypto exposes the primitives the session layer needs.
//
// Contents
//
//   - X25519 key generation and Diffie–Hellman (GenerateX25519, DH)
//   - Unwrapping of the server-provided key blob into the symmetric session
//     keys (DeriveEncryptionKeys), and its server-side inverse
//     (SealEncryptionKeys)
//   - Authenticated binary frames: HMAC-SHA256 over AES-256-CBC
//     (EncryptFrame, DecryptFrame)
//   - Challenge signing (SignChallenge)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// # Notes
//
// Intermediate secrets are wiped with memzero once they are no longer needed.
// Returned keys are fresh slices owned by the caller.
package crypto
