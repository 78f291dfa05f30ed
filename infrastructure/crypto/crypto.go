// Package crypto provides the primitives the account/message layers build
// on: HKDF-based key derivation, AES-GCM symmetric encryption, and ECDSA
// signing of message envelopes with the server's long-term key.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey derives a key using HKDF-SHA256. salt is typically an account
// id and info a stable purpose string, so the same (masterKey, salt, info)
// always yields the same key.
func DeriveKey(masterKey []byte, salt []byte, info string, keyLen int) ([]byte, error) {
	hkdfReader := hkdf.New(sha256.New, masterKey, salt, []byte(info))
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// GenerateRandomBytes generates cryptographically secure random bytes.
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// HMACSign generates an HMAC-SHA256 signature.
func HMACSign(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// HMACVerify verifies an HMAC-SHA256 signature.
func HMACVerify(key, data, signature []byte) bool {
	expected := HMACSign(key, data)
	return hmac.Equal(signature, expected)
}

// Encrypt encrypts data using AES-256-GCM, prepending the nonce.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts data produced by Encrypt.
func Decrypt(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return gcm.Open(nil, nonce, body, nil)
}

// =============================================================================
// ECDSA envelope signing (P-256)
// =============================================================================

// KeyPair is an ECDSA key pair used to sign message envelopes.
type KeyPair struct {
	PrivateKey *ecdsa.PrivateKey
	PublicKey  *ecdsa.PublicKey
}

// GenerateKeyPair generates a new ECDSA key pair on P-256.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{PrivateKey: priv, PublicKey: &priv.PublicKey}, nil
}

// LoadOrCreateKeyPair reads a PKCS#8/PEM-encoded P-256 key from path,
// generating and persisting a fresh one on first run. This is the
// server's own long-term envelope-signing key (applications/messaging),
// not an account's — losing it invalidates every envelope signature
// already handed out.
func LoadOrCreateKeyPair(path string) (*KeyPair, error) {
	if raw, err := os.ReadFile(path); err == nil {
		block, _ := pem.Decode(raw)
		if block == nil {
			return nil, fmt.Errorf("load signing key %s: not PEM-encoded", path)
		}
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("load signing key %s: %w", path, err)
		}
		priv, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("load signing key %s: not an ECDSA key", path)
		}
		return &KeyPair{PrivateKey: priv, PublicKey: &priv.PublicKey}, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read signing key %s: %w", path, err)
	}

	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	der, err := x509.MarshalPKCS8PrivateKey(kp.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("marshal signing key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create signing key dir: %w", err)
	}
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		return nil, fmt.Errorf("persist signing key %s: %w", path, err)
	}
	return kp, nil
}

// Sign signs data with the server's long-term key, returning a fixed
// 64-byte (r || s) signature.
func Sign(privateKey *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	hash := sha256.Sum256(data)
	r, s, err := ecdsa.Sign(rand.Reader, privateKey, hash[:])
	if err != nil {
		return nil, err
	}
	sig := make([]byte, 64)
	rBytes, sBytes := r.Bytes(), s.Bytes()
	copy(sig[32-len(rBytes):32], rBytes)
	copy(sig[64-len(sBytes):64], sBytes)
	return sig, nil
}

// Verify verifies a signature produced by Sign.
func Verify(publicKey *ecdsa.PublicKey, data, signature []byte) bool {
	if len(signature) != 64 {
		return false
	}
	hash := sha256.Sum256(data)
	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:])
	return ecdsa.Verify(publicKey, hash[:], r, s)
}

// PublicKeyToBytes converts a public key to compressed format (33 bytes),
// used as the sender/receiver public-key id carried in a message envelope.
func PublicKeyToBytes(pub *ecdsa.PublicKey) []byte {
	x := pub.X.Bytes()
	xPadded := make([]byte, 32)
	copy(xPadded[32-len(x):], x)

	prefix := byte(0x02)
	if pub.Y.Bit(0) == 1 {
		prefix = 0x03
	}

	out := make([]byte, 33)
	out[0] = prefix
	copy(out[1:], xPadded)
	return out
}

// PublicKeyFromBytes parses a compressed or uncompressed public key.
func PublicKeyFromBytes(data []byte) (*ecdsa.PublicKey, error) {
	curve := elliptic.P256()

	switch len(data) {
	case 33:
		x := new(big.Int).SetBytes(data[1:])
		y := decompressPoint(curve, x, data[0] == 0x03)
		if y == nil {
			return nil, fmt.Errorf("invalid compressed public key")
		}
		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil

	case 65:
		if data[0] != 0x04 {
			return nil, fmt.Errorf("invalid uncompressed public key prefix")
		}
		x := new(big.Int).SetBytes(data[1:33])
		y := new(big.Int).SetBytes(data[33:65])
		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil

	default:
		return nil, fmt.Errorf("invalid public key length: %d", len(data))
	}
}

// decompressPoint recovers Y from X on the curve, choosing the root whose
// parity matches yOdd.
func decompressPoint(curve elliptic.Curve, x *big.Int, yOdd bool) *big.Int {
	params := curve.Params()

	x3 := new(big.Int).Mul(x, x)
	x3.Mul(x3, x)

	threeX := new(big.Int).Mul(x, big.NewInt(3))
	x3.Sub(x3, threeX)
	x3.Add(x3, params.B)
	x3.Mod(x3, params.P)

	y := new(big.Int).ModSqrt(x3, params.P)
	if y == nil {
		return nil
	}
	if y.Bit(0) != 0 != yOdd {
		y.Sub(params.P, y)
	}
	return y
}

// Hash256 computes a SHA-256 hash.
func Hash256(data []byte) []byte {
	hash := sha256.Sum256(data)
	return hash[:]
}

// ZeroBytes overwrites a byte slice with zeros, for clearing key material
// after use.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
