package crypto

import "wasock/internal/domain"

// Cipher implements domain.FrameCipher with the package-level primitives.
type Cipher struct{}

var _ domain.FrameCipher = Cipher{}

// EncryptFrame implements domain.FrameCipher.
func (Cipher) EncryptFrame(encKey, macKey, plaintext []byte) ([]byte, error) {
	return EncryptFrame(encKey, macKey, plaintext)
}

// DecryptFrame implements domain.FrameCipher.
func (Cipher) DecryptFrame(encKey, macKey, frame []byte) ([]byte, error) {
	return DecryptFrame(encKey, macKey, frame)
}

// DeriveEncryptionKeys implements domain.FrameCipher.
func (Cipher) DeriveEncryptionKeys(secret []byte, priv domain.X25519Private) ([]byte, []byte, error) {
	return DeriveEncryptionKeys(secret, priv)
}

// SignChallenge implements domain.FrameCipher.
func (Cipher) SignChallenge(macKey, challenge []byte) []byte {
	return SignChallenge(macKey, challenge)
}
