package toolserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/tool"
)

func newTestServer(t *testing.T, handler func(method string, params map[string]any) any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/messages", r.URL.Path)

		var req struct {
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"result":  handler(req.Method, req.Params),
		})
	}))
}

func TestClientListTools(t *testing.T) {
	srv := newTestServer(t, func(method string, _ map[string]any) any {
		require.Equal(t, "tools/list", method)
		return map[string]any{
			"tools": []map[string]any{
				{
					"name":        "get_quote",
					"description": "Fetch a market quote",
					"inputSchema": map[string]any{"type": "object"},
				},
			},
		}
	})
	defer srv.Close()

	client := NewClient()
	defs, err := client.ListTools(context.Background(), ServerConfig{Name: "market", BaseURL: srv.URL})
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "get_quote", defs[0].Name)
	assert.Equal(t, "object", defs[0].Parameters["type"])
}

func TestClientCallToolConcatenatesTextContent(t *testing.T) {
	srv := newTestServer(t, func(method string, params map[string]any) any {
		require.Equal(t, "tools/call", method)
		assert.Equal(t, "get_quote", params["name"])
		return map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": `{"price":`},
				{"type": "text", "text": `42.5}`},
			},
		}
	})
	defer srv.Close()

	client := NewClient()
	args := core.Object(map[string]core.Value{"symbol": core.String("ACME")})
	result, err := client.CallTool(context.Background(), ServerConfig{Name: "market", BaseURL: srv.URL}, "get_quote", args)
	require.NoError(t, err)

	price, ok := result.Field("price").AsNumber()
	require.True(t, ok)
	assert.Equal(t, 42.5, price)
}

func TestClientSurfacesRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","error":{"code":-32000,"message":"boom"}}`))
	}))
	defer srv.Close()

	client := NewClient()
	_, err := client.CallTool(context.Background(), ServerConfig{Name: "bad", BaseURL: srv.URL}, "x", core.Null())
	require.Error(t, err)
	assert.Equal(t, core.CodeCallFailure, core.AsRunError(err).Code)
	assert.Contains(t, err.Error(), "boom")
}

type fakeCaller struct {
	lastServer string
	lastName   string
	result     core.Value
}

func (f *fakeCaller) CallTool(_ context.Context, config ServerConfig, name string, _ core.Value) (core.Value, error) {
	f.lastServer = config.Name
	f.lastName = name
	return f.result, nil
}

func TestRegistryNamespacedDispatch(t *testing.T) {
	caller := &fakeCaller{result: core.String("done")}
	registry := NewRegistry(caller)
	registry.AddServer(ServerConfig{Name: "market-data", Alias: "market"}, []tool.Definition{
		{Name: "get_quote"},
	})

	// Namespaced name dispatches with the bare tool name on the wire.
	result, matched, err := registry.Call(context.Background(), "market.get_quote", core.Null())
	require.NoError(t, err)
	require.True(t, matched)
	assert.Equal(t, "done", result.Text())
	assert.Equal(t, "market-data", caller.lastServer)
	assert.Equal(t, "get_quote", caller.lastName)

	// Unknown names fall through without error.
	_, matched, err = registry.Call(context.Background(), "other.tool", core.Null())
	require.NoError(t, err)
	assert.False(t, matched)

	_, ok := registry.Lookup("market.get_quote")
	assert.True(t, ok)

	defs := registry.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "market.get_quote", defs[0].Name)
}
