package utils

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestR2SecretStore_Secret(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/lnd-secrets/admin.macaroon":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write([]byte("0201036c6e64"))
		default:
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
		}
	}))
	defer srv.Close()

	s, err := NewR2SecretStore(context.Background(), R2Config{
		AccessKeyID:     "key",
		AccessKeySecret: "secret",
		Bucket:          "lnd-secrets",
		Endpoint:        srv.URL,
	})
	require.NoError(t, err)

	got, err := s.Secret(context.Background(), "admin.macaroon")
	require.NoError(t, err)
	assert.Equal(t, "0201036c6e64", string(got))

	_, err = s.Secret(context.Background(), "tls.cert")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestNewR2SecretStore_RequiresBucket(t *testing.T) {
	t.Parallel()

	_, err := NewR2SecretStore(context.Background(), R2Config{})
	assert.Error(t, err)
}

func TestEnvSecretSource(t *testing.T) {
	t.Setenv("TEST_LND_PASSWORD", " hunter2 \n")

	src := EnvSecretSource{Vars: map[string]string{"password": "TEST_LND_PASSWORD"}}

	got, err := src.Secret(context.Background(), "password")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(got))

	_, err = src.Secret(context.Background(), "TEST_LND_MISSING")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}
