// Package crypto loads the service wallet key, either raw or from a
// password-protected keyfile, and turns it into a transaction signer.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations = 480_000
	saltSize      = 16
	keySize       = 32
	keyfileFormat = 1
)

// keyfile is the on-disk envelope written by EncryptKey.
type keyfile struct {
	Format     int    `json:"format"`
	KDF        string `json:"kdf"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource says where the wallet key comes from. A raw key wins over a
// keyfile.
type KeySource struct {
	PrivateKey  string
	KeyfilePath string
	Password    string
}

// Configured reports whether any key source is set.
func (s KeySource) Configured() bool {
	return s.PrivateKey != "" || s.KeyfilePath != ""
}

// EncryptKey seals a hex private key under password and returns the JSON
// keyfile contents.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: empty password")
	}
	raw, err := decodeKeyHex(privateKeyHex)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	aead, err := newAEAD(password, salt, kdfIterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	return json.MarshalIndent(keyfile{
		Format:     keyfileFormat,
		KDF:        "pbkdf2-sha256",
		Iterations: kdfIterations,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, raw, nil)),
	}, "", "  ")
}

// DecryptKey opens a keyfile produced by EncryptKey and returns the private
// key as hex without a 0x prefix.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: empty password")
	}
	var kf keyfile
	if err := json.Unmarshal(data, &kf); err != nil {
		return "", fmt.Errorf("crypto: parse keyfile: %w", err)
	}
	if kf.Format != keyfileFormat {
		return "", fmt.Errorf("crypto: unsupported keyfile format %d", kf.Format)
	}
	if kf.Iterations <= 0 {
		kf.Iterations = kdfIterations
	}

	fields := map[string]string{"salt": kf.Salt, "nonce": kf.Nonce, "ciphertext": kf.Ciphertext}
	decoded := make(map[string][]byte, len(fields))
	for name, v := range fields {
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return "", fmt.Errorf("crypto: decode %s: %w", name, err)
		}
		decoded[name] = b
	}

	aead, err := newAEAD(password, decoded["salt"], kf.Iterations)
	if err != nil {
		return "", err
	}
	if len(decoded["nonce"]) != aead.NonceSize() {
		return "", fmt.Errorf("crypto: nonce is %d bytes, want %d", len(decoded["nonce"]), aead.NonceSize())
	}
	plain, err := aead.Open(nil, decoded["nonce"], decoded["ciphertext"], nil)
	if err != nil {
		return "", fmt.Errorf("crypto: open keyfile (wrong password?): %w", err)
	}
	return hex.EncodeToString(plain), nil
}

// LoadKey resolves the private key from src.
func LoadKey(src KeySource) (string, error) {
	if src.PrivateKey != "" {
		raw, err := decodeKeyHex(src.PrivateKey)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(raw), nil
	}
	if src.KeyfilePath != "" {
		data, err := os.ReadFile(src.KeyfilePath)
		if err != nil {
			return "", fmt.Errorf("crypto: read keyfile: %w", err)
		}
		return DecryptKey(data, src.Password)
	}
	return "", errors.New("crypto: no wallet key configured")
}

func newAEAD(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, iterations, keySize, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return aead, nil
}

func decodeKeyHex(s string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: private key is not hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("crypto: private key is %d bytes, want 32", len(raw))
	}
	return raw, nil
}
