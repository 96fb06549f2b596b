// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package credentials reads and writes the encrypted credentials file that
// carries object store, cloud ASR and LLM secrets.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"golang.org/x/crypto/pbkdf2"

	"github.com/ManuGH/subforge/internal/config"
	"github.com/ManuGH/subforge/internal/fault"
)

const (
	// Iterations is the PBKDF2-SHA256 work factor.
	Iterations = 100_000
	keyLen     = 32
	saltLen    = 16
)

// ErrDecrypt reports a wrong passphrase or a tampered file.
var ErrDecrypt = errors.New("credentials: decryption failed")

// Envelope is the on-disk format. All fields are standard base64.
type Envelope struct {
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Credentials is the decrypted payload.
type Credentials struct {
	ObjectStore struct {
		Endpoint        string `json:"endpoint,omitempty"`
		Bucket          string `json:"bucket,omitempty"`
		AccessKeyID     string `json:"access_key_id"`
		SecretAccessKey string `json:"secret_access_key"`
	} `json:"object_store"`
	LedgerSecret string            `json:"ledger_secret,omitempty"`
	LLMKeys      map[string]string `json:"llm_keys,omitempty"`
}

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, Iterations, keyLen, sha256.New)
}

// Seal encrypts plaintext with a fresh salt and nonce.
func Seal(passphrase string, plaintext []byte) (Envelope, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return Envelope{}, fmt.Errorf("credentials: salt: %w", err)
	}
	gcm, err := newGCM(deriveKey(passphrase, salt))
	if err != nil {
		return Envelope{}, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, fmt.Errorf("credentials: nonce: %w", err)
	}
	ct := gcm.Seal(nil, nonce, plaintext, nil)
	return Envelope{
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
	}, nil
}

// Open decrypts an envelope.
func Open(passphrase string, env Envelope) ([]byte, error) {
	salt, err1 := base64.StdEncoding.DecodeString(env.Salt)
	nonce, err2 := base64.StdEncoding.DecodeString(env.Nonce)
	ct, err3 := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, fault.Wrapf(fault.KindInvalidInput, "credentials.open", "malformed envelope", err)
	}
	gcm, err := newGCM(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fault.New(fault.KindInvalidInput, "credentials.open", "bad nonce length")
	}
	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fault.Wrap(fault.KindAuthentication, "credentials.open", ErrDecrypt)
	}
	return pt, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credentials: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credentials: gcm: %w", err)
	}
	return gcm, nil
}

// Load reads and decrypts the credentials file.
func Load(path, passphrase string) (Credentials, error) {
	var creds Credentials
	// #nosec G304 -- path comes from operator configuration
	raw, err := os.ReadFile(path)
	if err != nil {
		return creds, fmt.Errorf("credentials: read %s: %w", path, err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return creds, fault.Wrapf(fault.KindInvalidInput, "credentials.load", "not an envelope", err)
	}
	pt, err := Open(passphrase, env)
	if err != nil {
		return creds, err
	}
	if err := json.Unmarshal(pt, &creds); err != nil {
		return creds, fault.Wrapf(fault.KindInvalidInput, "credentials.load", "bad payload", err)
	}
	return creds, nil
}

// Save encrypts creds and writes the file atomically with mode 0600.
func Save(path, passphrase string, creds Credentials) error {
	pt, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("credentials: encode: %w", err)
	}
	env, err := Seal(passphrase, pt)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("credentials: encode envelope: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("credentials: mkdir: %w", err)
	}
	return renameio.WriteFile(path, out, 0o600)
}

// Apply copies secrets into cfg. Values already set in cfg win.
func (c Credentials) Apply(cfg *config.CoreConfig) {
	store := &cfg.ObjectStore
	if store.AccessKeyID == "" {
		store.AccessKeyID = c.ObjectStore.AccessKeyID
	}
	if store.SecretAccessKey == "" {
		store.SecretAccessKey = c.ObjectStore.SecretAccessKey
	}
	if store.Endpoint == "" {
		store.Endpoint = c.ObjectStore.Endpoint
	}
	if c.ObjectStore.Bucket != "" && store.Bucket == config.Default().ObjectStore.Bucket {
		store.Bucket = c.ObjectStore.Bucket
	}
	if cfg.Ledger.Secret == "" {
		cfg.Ledger.Secret = c.LedgerSecret
	}
	for name, key := range c.LLMKeys {
		p, ok := cfg.LLM.Providers[name]
		if !ok || p.APIKey != "" {
			continue
		}
		p.APIKey = key
		cfg.LLM.Providers[name] = p
	}
}
