package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/enclave-trust-core/interfaces"
)

func TestLightBlockAndHeight(t *testing.T) {
	block := interfaces.LightBlock{Height: 7, Epoch: 2}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/consensus/lightblock/7":
			json.NewEncoder(w).Encode(block)
		case "/v1/consensus/height":
			json.NewEncoder(w).Encode(map[string]uint64{"height": 7})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, slog.New(slog.DiscardHandler))

	got, err := c.LightBlock(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, block.Height, got.Height)
	assert.Equal(t, block.Epoch, got.Epoch)

	height, err := c.LatestHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), height)
}

func TestNodeNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := New(srv.URL, slog.New(slog.DiscardHandler))
	node, err := c.Node(context.Background(), 5, interfaces.PublicKey{0x01})
	require.NoError(t, err)
	assert.Nil(t, node)
}

func TestServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, slog.New(slog.DiscardHandler))
	_, err := c.LatestHeight(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}
