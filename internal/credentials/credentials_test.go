// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package credentials

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subforge/internal/config"
	"github.com/ManuGH/subforge/internal/fault"
)

func TestSealOpen(t *testing.T) {
	env, err := Seal("correct horse", []byte("payload"))
	require.NoError(t, err)

	pt, err := Open("correct horse", env)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(pt))

	_, err = Open("wrong", env)
	assert.ErrorIs(t, err, ErrDecrypt)
	assert.ErrorIs(t, err, fault.ErrAuthentication)
}

func TestSealUsesFreshSalt(t *testing.T) {
	a, err := Seal("p", []byte("x"))
	require.NoError(t, err)
	b, err := Seal("p", []byte("x"))
	require.NoError(t, err)
	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestOpenRejectsMalformed(t *testing.T) {
	_, err := Open("p", Envelope{Salt: "!!", Nonce: "", Ciphertext: ""})
	assert.ErrorIs(t, err, fault.ErrInvalidInput)
}

func TestSaveLoadApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds", "credentials.json")

	var creds Credentials
	creds.ObjectStore.AccessKeyID = "AK"
	creds.ObjectStore.SecretAccessKey = "SK"
	creds.ObjectStore.Endpoint = "s3.local:9000"
	creds.LedgerSecret = "shh"
	creds.LLMKeys = map[string]string{"openai": "sk-1", "unknown": "sk-2"}
	require.NoError(t, Save(path, "pass", creds))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var env map[string]string
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.ElementsMatch(t, []string{"salt", "nonce", "ciphertext"}, keys(env))

	loaded, err := Load(path, "pass")
	require.NoError(t, err)
	assert.Equal(t, creds, loaded)

	cfg := config.Default()
	loaded.Apply(&cfg)
	assert.Equal(t, "AK", cfg.ObjectStore.AccessKeyID)
	assert.Equal(t, "s3.local:9000", cfg.ObjectStore.Endpoint)
	assert.Equal(t, "shh", cfg.Ledger.Secret)
	assert.Equal(t, "sk-1", cfg.LLM.Providers["openai"].APIKey)
	assert.NotContains(t, cfg.LLM.Providers, "unknown")
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
