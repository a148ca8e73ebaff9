package secrets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeOpenBao(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "root-token" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
			return
		}
		if r.URL.Path != "/v1/secret/data/storefront/payments" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"data": {
				"data": {"VNP_HASH_SECRET": "from-bao", "MOMO_SECRET_KEY": "momo-from-bao", "REDIS_DB": 2},
				"metadata": {"created_time": "2025-01-01T00:00:00Z", "deletion_time": "", "destroyed": false, "version": 3}
			}
		}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBootstrapExportsSecrets(t *testing.T) {
	srv := fakeOpenBao(t)
	t.Setenv("VNP_HASH_SECRET", "")
	t.Setenv("MOMO_SECRET_KEY", "")
	t.Setenv("REDIS_DB", "")

	n, err := Bootstrap(context.Background(), Config{
		Addr: srv.URL, Token: "root-token", Mount: "secret", Path: "storefront/payments",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "from-bao", os.Getenv("VNP_HASH_SECRET"))
	assert.Equal(t, "momo-from-bao", os.Getenv("MOMO_SECRET_KEY"))
	assert.Equal(t, "2", os.Getenv("REDIS_DB"))
}

func TestBootstrapMissingPath(t *testing.T) {
	srv := fakeOpenBao(t)
	_, err := Bootstrap(context.Background(), Config{
		Addr: srv.URL, Token: "root-token", Mount: "secret", Path: "nope",
	})
	assert.ErrorIs(t, err, ErrOpenBaoSecretNotFound)
}

func TestBootstrapDisabled(t *testing.T) {
	n, err := Bootstrap(context.Background(), Config{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OPENBAO_ADDR", "http://bao:8200/")
	t.Setenv("OPENBAO_TOKEN", "tok")
	t.Setenv("OPENBAO_SECRET_PATH", "/storefront/payments/")
	t.Setenv("OPENBAO_MOUNT", "")
	t.Setenv("OPENBAO_NAMESPACE", "")

	cfg := ConfigFromEnv()
	assert.True(t, cfg.Enabled())
	assert.Equal(t, "http://bao:8200", cfg.Addr)
	assert.Equal(t, "secret", cfg.Mount)
	assert.Equal(t, "storefront/payments", cfg.Path)
}
