package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"errors"
	"fmt"
)

const macSize = 32

var (
	// ErrFrameAuth reports a binary frame whose MAC does not verify.
	ErrFrameAuth = errors.New("crypto: frame authentication failed")
	// ErrShortFrame reports a binary frame too short to hold MAC, IV and one block.
	ErrShortFrame = errors.New("crypto: frame too short")

	errPadding = errors.New("invalid padding")
)

// EncryptFrame seals plaintext as HMAC-SHA256(macKey, iv|ct) | iv | ct with
// AES-256-CBC under encKey and a random IV.
func EncryptFrame(encKey, macKey, plaintext []byte) ([]byte, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	ct, err := cbcEncrypt(encKey, iv, plaintext)
	if err != nil {
		return nil, err
	}
	body := append(iv, ct...)
	out := make([]byte, 0, macSize+len(body))
	out = append(out, hmacSHA256(macKey, body)...)
	return append(out, body...), nil
}

// DecryptFrame verifies and opens a frame produced by EncryptFrame. It never
// returns plaintext for a frame whose MAC fails.
func DecryptFrame(encKey, macKey, frame []byte) ([]byte, error) {
	if len(frame) < macSize+2*aes.BlockSize {
		return nil, ErrShortFrame
	}
	body := frame[macSize:]
	if !hmac.Equal(hmacSHA256(macKey, body), frame[:macSize]) {
		return nil, ErrFrameAuth
	}
	pt, err := cbcDecrypt(encKey, body[:aes.BlockSize], body[aes.BlockSize:])
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt frame: %w", err)
	}
	return pt, nil
}

// SignChallenge answers a server challenge with HMAC-SHA256 under macKey.
func SignChallenge(macKey, challenge []byte) []byte {
	return hmacSHA256(macKey, challenge)
}

func cbcEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	pad := aes.BlockSize - len(plaintext)%aes.BlockSize
	buf := make([]byte, len(plaintext)+pad)
	copy(buf, plaintext)
	for i := len(plaintext); i < len(buf); i++ {
		buf[i] = byte(pad)
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(buf, buf)
	return buf, nil
}

func cbcDecrypt(key, iv, ct []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext is not a multiple of the block size")
	}
	buf := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(buf, ct)

	pad := int(buf[len(buf)-1])
	if pad == 0 || pad > aes.BlockSize {
		return nil, errPadding
	}
	for _, b := range buf[len(buf)-pad:] {
		if int(b) != pad {
			return nil, errPadding
		}
	}
	return buf[:len(buf)-pad], nil
}
