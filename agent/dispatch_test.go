package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/tool"
	"github.com/hupe1980/flowmesh/toolserver"
)

type echoCaller struct{}

func (echoCaller) CallTool(ctx context.Context, config toolserver.ServerConfig, name string, args core.Value) (core.Value, error) {
	return core.Object(map[string]core.Value{
		"tool": core.String(name),
		"echo": args,
	}), nil
}

func newDispatcherFixture() *Dispatcher {
	builtins := tool.NewBuiltins()
	builtins.Register(tool.NewFunctionTool(
		"ping",
		"Returns pong",
		nil,
		func(ctx context.Context, ec *core.ExecutionContext, args map[string]any) (any, error) {
			return "pong", nil
		},
	))

	servers := toolserver.NewRegistry(echoCaller{})
	servers.AddServer(
		toolserver.ServerConfig{Name: "market-data", Alias: "market"},
		[]tool.Definition{{Name: "get_quote", Description: "Fetch a quote"}},
	)

	return NewDispatcher(builtins, servers)
}

func TestDispatchBuiltinFirst(t *testing.T) {
	d := newDispatcherFixture()
	ec := core.NewExecutionContext("run-1", core.Null(), nil)

	result, handled := d.Dispatch(context.Background(), ec, "ping", "{}")
	require.True(t, handled)
	assert.Equal(t, "pong", result)
}

func TestDispatchFallsThroughToServers(t *testing.T) {
	d := newDispatcherFixture()
	ec := core.NewExecutionContext("run-1", core.Null(), nil)

	result, handled := d.Dispatch(context.Background(), ec, "market.get_quote", `{"symbol":"ACME"}`)
	require.True(t, handled)

	parsed, err := core.ParseJSON([]byte(result))
	require.NoError(t, err)
	assert.Equal(t, "get_quote", parsed.Field("tool").Text())
	assert.Equal(t, "ACME", parsed.Field("echo").Field("symbol").Text())
}

func TestDispatchUnknownToolBelongsToClient(t *testing.T) {
	d := newDispatcherFixture()
	ec := core.NewExecutionContext("run-1", core.Null(), nil)

	_, handled := d.Dispatch(context.Background(), ec, "render_card", "{}")
	assert.False(t, handled)
}

func TestDispatchInvalidArguments(t *testing.T) {
	d := newDispatcherFixture()
	ec := core.NewExecutionContext("run-1", core.Null(), nil)

	result, handled := d.Dispatch(context.Background(), ec, "ping", "{not json")
	require.True(t, handled)
	assert.Contains(t, result, "invalid arguments")
}
