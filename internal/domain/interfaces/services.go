package interfaces

import (
	domaintypes "wasock/internal/domain/types"
	"wasock/internal/protocol/node"
)

// IdentityService creates, stores and inspects session configurations.
type IdentityService interface {
	NewSessionConfig() (domaintypes.SessionConfig, error)
	LoadSessionConfig(passphrase string) (domaintypes.SessionConfig, bool, error)
	SaveSessionConfig(passphrase string, cfg domaintypes.SessionConfig) error
	ForgetSessionConfig() error
	Fingerprint(cfg domaintypes.SessionConfig) domaintypes.Fingerprint
}

// FrameCipher is the symmetric crypto the session layer depends on. It is
// treated as a trusted black box: DecryptFrame must fail on a MAC mismatch and
// never return wrong plaintext.
type FrameCipher interface {
	EncryptFrame(encKey, macKey, plaintext []byte) ([]byte, error)
	DecryptFrame(encKey, macKey, frame []byte) ([]byte, error)
	DeriveEncryptionKeys(secret []byte, priv domaintypes.X25519Private) (encKey, macKey []byte, err error)
	SignChallenge(macKey, challenge []byte) []byte
}

// NodeCodec turns structured nodes into bytes and back.
type NodeCodec interface {
	Encode(n *node.Node) ([]byte, error)
	Decode(data []byte) (*node.Node, error)
}
