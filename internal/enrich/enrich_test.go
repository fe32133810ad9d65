package enrich_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"harvester/internal/enrich"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupReturnsPhone(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))

		var body struct {
			Company string `json:"company"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "青空建設株式会社", body.Company)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"phone":"03-1234-5678"}`))
	}))
	defer srv.Close()

	client := enrich.New(srv.URL, "secret-token")
	phone, err := client.Lookup(context.Background(), "青空建設株式会社")
	require.NoError(t, err)
	assert.Equal(t, "03-1234-5678", phone)
}

func TestLookupNoMatchIsNotAnError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := enrich.New(srv.URL, "")
	phone, err := client.Lookup(context.Background(), "未知の会社")
	require.NoError(t, err, "no directory entry is an empty result, not a failure")
	assert.Empty(t, phone)
}

func TestLookupServerErrorSurfaces(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "directory offline", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := enrich.New(srv.URL, "")
	phone, err := client.Lookup(context.Background(), "みらい物流株式会社")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Empty(t, phone)
}

func TestLookupWithoutTokenSendsNoAuthHeader(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"phone":""}`))
	}))
	defer srv.Close()

	client := enrich.New(srv.URL, "")
	phone, err := client.Lookup(context.Background(), "高原印刷株式会社")
	require.NoError(t, err)
	assert.Empty(t, phone)
}

func TestLookupHonorsContext(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := enrich.New(srv.URL, "")
	_, err := client.Lookup(ctx, "若葉介護株式会社")
	require.Error(t, err)
}
