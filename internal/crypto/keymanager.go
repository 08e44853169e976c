// Package crypto loads operator keys, signs transactions and wallet
// messages, and produces the random salts used by commitments.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keyFileVersion   = 1
)

// keyFile is the on-disk format of a password-protected operator key.
type keyFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig says where the operator key comes from. A raw key wins over a
// key file.
type KeyConfig struct {
	RawPrivateKey string
	KeyFile       string
	KeyPassword   string
}

// Configured reports whether any key source is set.
func (c KeyConfig) Configured() bool {
	return c.RawPrivateKey != "" || c.KeyFile != ""
}

// ErrNoKey is returned when no key source is configured.
var ErrNoKey = errors.New("crypto: no operator key configured")

// SealKey encrypts key under password with PBKDF2-SHA256 and AES-256-GCM.
func SealKey(key *ecdsa.PrivateKey, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	gcm, err := keyCipher(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	enc := base64.StdEncoding
	return json.MarshalIndent(keyFile{
		Version:    keyFileVersion,
		Address:    ethcrypto.PubkeyToAddress(key.PublicKey).Hex(),
		Salt:       enc.EncodeToString(salt),
		Nonce:      enc.EncodeToString(nonce),
		Ciphertext: enc.EncodeToString(gcm.Seal(nil, nonce, ethcrypto.FromECDSA(key), nil)),
	}, "", "  ")
}

// OpenKey decrypts a blob produced by SealKey.
func OpenKey(blob []byte, password string) (*ecdsa.PrivateKey, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	var kf keyFile
	if err := json.Unmarshal(blob, &kf); err != nil {
		return nil, fmt.Errorf("crypto: parse key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return nil, fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}
	var parts [3][]byte
	for i, s := range []string{kf.Salt, kf.Nonce, kf.Ciphertext} {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("crypto: decode key file field %d: %w", i, err)
		}
		parts[i] = b
	}
	gcm, err := keyCipher(password, parts[0])
	if err != nil {
		return nil, err
	}
	raw, err := gcm.Open(nil, parts[1], parts[2], nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt key file (wrong password?): %w", err)
	}
	key, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("crypto: key file payload: %w", err)
	}
	if kf.Address != "" && !strings.EqualFold(kf.Address, ethcrypto.PubkeyToAddress(key.PublicKey).Hex()) {
		return nil, errors.New("crypto: key file address does not match key")
	}
	return key, nil
}

// LoadKey resolves the operator key from cfg.
func LoadKey(cfg KeyConfig) (*ecdsa.PrivateKey, error) {
	if cfg.RawPrivateKey != "" {
		key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(cfg.RawPrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("crypto: raw private key: %w", err)
		}
		return key, nil
	}
	if cfg.KeyFile != "" {
		blob, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("crypto: read key file: %w", err)
		}
		return OpenKey(blob, cfg.KeyPassword)
	}
	return nil, ErrNoKey
}

func keyCipher(password string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}
