package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/argon2"
)

// SealedPrefix marks a config value sealed with Seal.
const SealedPrefix = "enc:"

// ConfigKeyEnv names the environment variable holding the passphrase that
// opens sealed values.
const ConfigKeyEnv = "WALLETBRIDGE_CONFIG_KEY"

const (
	sealVersion = 1
	saltLen     = 16
)

// ErrSealedSecret is returned by Load when sealed values are present but
// no passphrase was provided.
var ErrSealedSecret = errors.New("config holds sealed secrets but " + ConfigKeyEnv + " is not set")

// Seal encrypts plaintext under passphrase with AES-256-GCM and an
// Argon2id-derived key. The result carries SealedPrefix and can be pasted
// into any secret field.
func Seal(plaintext, passphrase string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("seal: salt: %w", err)
	}
	aead, err := sealer(passphrase, salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("seal: nonce: %w", err)
	}

	blob := make([]byte, 0, 1+saltLen+len(nonce)+len(plaintext)+aead.Overhead())
	blob = append(blob, sealVersion)
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = aead.Seal(blob, nonce, []byte(plaintext), []byte{sealVersion})
	return SealedPrefix + base64.RawURLEncoding.EncodeToString(blob), nil
}

// Open reverses Seal.
func Open(sealed, passphrase string) (string, error) {
	encoded, ok := strings.CutPrefix(sealed, SealedPrefix)
	if !ok {
		return "", fmt.Errorf("open: value is not sealed")
	}
	blob, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	if len(blob) < 1+saltLen || blob[0] != sealVersion {
		return "", fmt.Errorf("open: unknown sealed format")
	}
	salt, rest := blob[1:1+saltLen], blob[1+saltLen:]

	aead, err := sealer(passphrase, salt)
	if err != nil {
		return "", err
	}
	if len(rest) < aead.NonceSize() {
		return "", fmt.Errorf("open: value truncated")
	}
	nonce, ciphertext := rest[:aead.NonceSize()], rest[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte{sealVersion})
	if err != nil {
		return "", fmt.Errorf("open: wrong passphrase or corrupted value")
	}
	return string(plaintext), nil
}

func sealer(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	return cipher.NewGCM(block)
}

// secretFields are the config values that may be sealed, by YAML path.
func secretFields(cfg *Config) map[string]*string {
	fields := map[string]*string{
		"transport.token":          &cfg.Transport.Token,
		"transport.redis.password": &cfg.Transport.Redis.Password,
		"provider.rpc.endpoint":    &cfg.Provider.RPC.Endpoint,
	}
	for i := range cfg.Gateway.Auth.Tokens {
		t := &cfg.Gateway.Auth.Tokens[i]
		fields[fmt.Sprintf("gateway.auth.tokens[%s]", t.Name)] = &t.Token
	}
	return fields
}

// openSecrets replaces every sealed secret field in place. An empty
// passphrase is an error only if something is sealed.
func openSecrets(cfg *Config, passphrase string) error {
	fields := secretFields(cfg)
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v := fields[name]
		if !strings.HasPrefix(*v, SealedPrefix) {
			continue
		}
		if passphrase == "" {
			return fmt.Errorf("%s: %w", name, ErrSealedSecret)
		}
		plain, err := Open(*v, passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*v = plain
	}
	return nil
}
