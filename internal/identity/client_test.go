package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func identityStub(t *testing.T, identities map[string]Identity) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/identities/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/api/v1/identities/"):]
		ident, ok := identities[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ident)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestResolve(t *testing.T) {
	server := identityStub(t, map[string]Identity{
		"12345678901": {DisplayName: "Ola Nordmann", Active: true},
	})

	client, err := NewClient(server.URL)
	require.NoError(t, err)

	ident, err := client.Resolve(context.Background(), "12345678901")
	require.NoError(t, err)
	require.Equal(t, "Ola Nordmann", ident.DisplayName)
	require.True(t, ident.Active)
}

func TestResolveNotFound(t *testing.T) {
	server := identityStub(t, nil)

	client, err := NewClient(server.URL)
	require.NoError(t, err)

	_, err = client.Resolve(context.Background(), "12345678901")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolveEmptySubject(t *testing.T) {
	client, err := NewClient("http://identity.local")
	require.NoError(t, err)

	_, err = client.Resolve(context.Background(), "   ")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolveServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewClient(server.URL)
	require.NoError(t, err)

	_, err = client.Resolve(context.Background(), "12345678901")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestResolveDisplayNameRequiresName(t *testing.T) {
	server := identityStub(t, map[string]Identity{
		"12345678901": {DisplayName: "  ", Active: true},
	})

	client, err := NewClient(server.URL)
	require.NoError(t, err)

	_, err = client.ResolveDisplayName(context.Background(), "12345678901")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestIsActive(t *testing.T) {
	server := identityStub(t, map[string]Identity{
		"12345678901": {DisplayName: "Ola Nordmann", Active: true},
		"10987654321": {DisplayName: "Kari Nordmann", Active: false},
	})

	client, err := NewClient(server.URL)
	require.NoError(t, err)

	active, err := client.IsActive(context.Background(), "12345678901")
	require.NoError(t, err)
	require.True(t, active)

	active, err = client.IsActive(context.Background(), "10987654321")
	require.NoError(t, err)
	require.False(t, active)

	// Unknown identifiers are inactive, not an error.
	active, err = client.IsActive(context.Background(), "00000000000")
	require.NoError(t, err)
	require.False(t, active)
}

func TestIsActivePropagatesOutage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewClient(server.URL)
	require.NoError(t, err)

	_, err = client.IsActive(context.Background(), "12345678901")
	require.ErrorIs(t, err, ErrUnavailable)
}
