// Package crypto resolves the settler's private key and signs settlement
// receipts and event payloads.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations = 480_000
	saltSize      = 16
	aesKeySize    = 32
	sealedVersion = 1
)

// ErrNoKey is returned by LoadSettlerKey when no key source is configured.
var ErrNoKey = errors.New("crypto: no settler key configured")

// sealedKey is the on-disk form produced by SealKey.
type sealedKey struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource names where the settler key comes from. A raw hex key wins over
// a sealed key file.
type KeySource struct {
	RawHex   string
	File     string
	Password string
}

// SealKey encrypts a hex secp256k1 key under password with PBKDF2-SHA256 and
// AES-256-GCM. The settler address is stored in clear so operators can
// identify the file without the password.
func SealKey(keyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	pk, err := parseKey(keyHex)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	return json.MarshalIndent(sealedKey{
		Version:    sealedVersion,
		Address:    ethcrypto.PubkeyToAddress(pk.PublicKey).Hex(),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, ethcrypto.FromECDSA(pk), nil)),
	}, "", "  ")
}

// OpenKey decrypts a blob produced by SealKey.
func OpenKey(blob []byte, password string) (*ecdsa.PrivateKey, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	var sk sealedKey
	if err := json.Unmarshal(blob, &sk); err != nil {
		return nil, fmt.Errorf("crypto: parse sealed key: %w", err)
	}
	if sk.Version != sealedVersion {
		return nil, fmt.Errorf("crypto: unsupported sealed key version %d", sk.Version)
	}

	var parts [3][]byte
	for i, s := range []string{sk.Salt, sk.Nonce, sk.Ciphertext} {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("crypto: decode sealed key: %w", err)
		}
		parts[i] = b
	}
	gcm, err := newGCM(password, parts[0])
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, parts[1], parts[2], nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt (wrong password?): %w", err)
	}
	pk, err := ethcrypto.ToECDSA(plain)
	if err != nil {
		return nil, fmt.Errorf("crypto: sealed key: %w", err)
	}
	if sk.Address != "" && !strings.EqualFold(sk.Address, ethcrypto.PubkeyToAddress(pk.PublicKey).Hex()) {
		return nil, errors.New("crypto: sealed key address mismatch")
	}
	return pk, nil
}

// LoadSettlerKey resolves the key from src.
func LoadSettlerKey(src KeySource) (*ecdsa.PrivateKey, error) {
	switch {
	case src.RawHex != "":
		return parseKey(src.RawHex)
	case src.File != "":
		blob, err := os.ReadFile(src.File)
		if err != nil {
			return nil, fmt.Errorf("crypto: read key file: %w", err)
		}
		return OpenKey(blob, src.Password)
	default:
		return nil, ErrNoKey
	}
}

func parseKey(keyHex string) (*ecdsa.PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(keyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: key is not hex: %w", err)
	}
	pk, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid secp256k1 key: %w", err)
	}
	return pk, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, kdfIterations, aesKeySize, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}
