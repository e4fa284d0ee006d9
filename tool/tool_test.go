package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flowmesh/core"
)

func webTools() Resource {
	return Resource{
		Slug: "web-tools",
		Name: "Web Tools",
		Tools: []Definition{
			{Name: "fetch_url", Description: "Fetch a URL"},
		},
	}
}

func dataTools() Resource {
	return Resource{
		Slug: "data-tools",
		Name: "Data Tools",
		Tools: []Definition{
			{Name: "calculate", Description: "Calculate"},
		},
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	registry := NewRegistry()
	registry.Register(webTools())

	assert.True(t, registry.Contains("web-tools"))
	res, ok := registry.Get("web-tools")
	require.True(t, ok)
	assert.Equal(t, "web-tools", res.Slug)
	assert.Equal(t, 1, registry.Count())
}

func TestRegistryResolveBundles(t *testing.T) {
	registry := NewRegistry()
	registry.Register(webTools())
	registry.Register(dataTools())

	defs, err := registry.ResolveBundles([]string{"web-tools", "data-tools"})
	require.NoError(t, err)
	assert.Len(t, defs, 2)

	_, err = registry.ResolveBundles([]string{"nonexistent"})
	require.Error(t, err)
	assert.Equal(t, core.CodeToolResolution, core.AsRunError(err).Code)
}

func TestRegistryResolveBundlesLastWins(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Resource{
		Slug:  "v1",
		Tools: []Definition{{Name: "fetch_url", Description: "Old version"}},
	})
	registry.Register(Resource{
		Slug:  "v2",
		Tools: []Definition{{Name: "fetch_url", Description: "New version"}},
	})

	defs, err := registry.ResolveBundles([]string{"v1", "v2"})
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "New version", defs[0].Description)
}

func TestResolvePriority(t *testing.T) {
	registry := NewRegistry()
	registry.Register(webTools())
	registry.Register(dataTools())

	// The call's own configuration wins over the agent default.
	defs, err := Resolve("@web-tools", "@data-tools", registry)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "fetch_url", defs[0].Name)

	// Without a call configuration the agent default applies.
	defs, err = Resolve("", "@data-tools", registry)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "calculate", defs[0].Name)

	// Neither configured: no tools.
	defs, err = Resolve("", "", registry)
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestParseSpecForms(t *testing.T) {
	registry := NewRegistry()
	registry.Register(webTools())
	registry.Register(dataTools())

	// Bundle list.
	defs, err := ParseSpec(`["web-tools", "data-tools"]`, registry)
	require.NoError(t, err)
	assert.Len(t, defs, 2)

	// Inline wrapped shape.
	defs, err = ParseSpec(`[{"type":"function","function":{"name":"place_order","description":"Place an order"}}]`, registry)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "place_order", defs[0].Name)

	// Inline flat shape.
	defs, err = ParseSpec(`[{"name":"cancel_order"}]`, registry)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "cancel_order", defs[0].Name)

	// Unknown reference.
	_, err = ParseSpec("@nonexistent", registry)
	require.Error(t, err)
}

func TestDefinitionValueShape(t *testing.T) {
	def := Definition{Name: "fetch", Description: "Fetch", Parameters: map[string]any{"type": "object"}}
	v := def.Value()

	assert.Equal(t, "function", v.Field("type").Text())
	assert.Equal(t, "fetch", v.Field("function").Field("name").Text())
}

func TestFunctionToolValidation(t *testing.T) {
	sum := NewFunctionTool(
		"calculate_sum",
		"Calculate the sum of two numbers",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []string{"a", "b"},
		},
		func(_ context.Context, _ *core.ExecutionContext, args map[string]any) (any, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		},
	)

	ec := core.NewExecutionContext("run-1", core.Null(), nil)

	result, err := sum.Call(context.Background(), ec, map[string]any{"a": 2.0, "b": 3.0})
	require.NoError(t, err)
	assert.Equal(t, 5.0, result)

	// An absent required argument is rejected before the function runs.
	_, err = sum.Call(context.Background(), ec, map[string]any{"a": 2.0})
	require.Error(t, err)
	toolErr, ok := err.(*ToolError)
	require.True(t, ok)
	assert.Equal(t, CodeMissingArgument, toolErr.Code)

	// So is an explicit nil for a required argument.
	_, err = sum.Call(context.Background(), ec, map[string]any{"a": 2.0, "b": nil})
	require.Error(t, err)
	toolErr, ok = err.(*ToolError)
	require.True(t, ok)
	assert.Equal(t, CodeMissingArgument, toolErr.Code)

	// A present argument of the wrong type is a plain validation failure.
	_, err = sum.Call(context.Background(), ec, map[string]any{"a": 2.0, "b": "three"})
	require.Error(t, err)
	toolErr, ok = err.(*ToolError)
	require.True(t, ok)
	assert.Equal(t, CodeValidation, toolErr.Code)
}

func TestFetchToolSchemaFromStruct(t *testing.T) {
	fetch := NewFetchTool(nil)

	params := fetch.Parameters()
	assert.Equal(t, "object", params["type"])
	assert.Equal(t, []string{"url"}, params["required"])

	props, ok := params["properties"].(map[string]any)
	require.True(t, ok)
	for _, name := range []string{"url", "method", "body", "headers"} {
		assert.Contains(t, props, name)
	}

	// Calling without the required url fails validation before any request.
	ec := core.NewExecutionContext("run-1", core.Null(), nil)
	_, err := fetch.Call(context.Background(), ec, map[string]any{"method": "GET"})
	require.Error(t, err)
	toolErr, isTool := err.(*ToolError)
	require.True(t, isTool)
	assert.Equal(t, CodeMissingArgument, toolErr.Code)
}

func TestFunctionToolWrapsErrors(t *testing.T) {
	failing := NewFunctionTool("broken", "Always fails", nil,
		func(_ context.Context, _ *core.ExecutionContext, _ map[string]any) (any, error) {
			return nil, assert.AnError
		},
	)

	ec := core.NewExecutionContext("run-1", core.Null(), nil)
	_, err := failing.Call(context.Background(), ec, nil)
	require.Error(t, err)
	toolErr, ok := err.(*ToolError)
	require.True(t, ok)
	assert.Equal(t, "EXECUTION_ERROR", toolErr.Code)
}

func TestSetContextTool(t *testing.T) {
	ec := core.NewExecutionContext("run-1", core.Null(), nil)
	setCtx := NewSetContextTool()

	_, err := setCtx.Call(context.Background(), ec, map[string]any{"path": "user.name", "value": "ada"})
	require.NoError(t, err)

	v, ok := ec.Resolve("ctx.user.name")
	require.True(t, ok)
	assert.Equal(t, "ada", v.Text())

	// Multi-field mode.
	_, err = setCtx.Call(context.Background(), ec, map[string]any{"lang": "go", "level": 3})
	require.NoError(t, err)
	v, _ = ec.Resolve("ctx.lang")
	assert.Equal(t, "go", v.Text())
}

func TestNotifyToolUpdatesStatus(t *testing.T) {
	sink := &core.CollectorSink{}
	ec := core.NewExecutionContext("run-1", core.Null(), sink)

	notify := NewNotifyTool()
	_, err := notify.Call(context.Background(), ec, map[string]any{"status": "searching the web"})
	require.NoError(t, err)

	v, _ := ec.Resolve("reply.status")
	assert.Equal(t, "searching the web", v.Text())
	assert.Len(t, sink.OfType(core.EventStatus), 1)
}

func TestTimerTool(t *testing.T) {
	timer := NewTimerTool()
	ec := core.NewExecutionContext("run-1", core.Null(), nil)

	result, err := timer.Call(context.Background(), ec, map[string]any{"ms": 1.0})
	require.NoError(t, err)
	out := result.(map[string]any)
	assert.Equal(t, "finished", out["status"])
}

func TestPromptTool(t *testing.T) {
	store := NewPromptStore()
	store.Register("greeting", "Hello {{name}}, welcome to {{ product }}")

	ec := core.NewExecutionContext("run-1", core.Null(), nil)
	require.NoError(t, ec.Set("product", core.String("flowmesh")))

	prompt := NewPromptTool(store)
	result, err := prompt.Call(context.Background(), ec, map[string]any{"slug": "greeting", "name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada, welcome to flowmesh", result)

	_, err = prompt.Call(context.Background(), ec, map[string]any{"slug": "missing"})
	require.Error(t, err)
}

func TestPromptToolLeavesUnresolvedMarkers(t *testing.T) {
	store := NewPromptStore()
	store.Register("report", `Summary for {{user.name}}: {{findings}} / <b>{{html}}</b>`)

	ec := core.NewExecutionContext("run-1", core.Null(), nil)
	require.NoError(t, ec.Set("user.name", core.String("Ada")))
	require.NoError(t, ec.Set("html", core.String(`<script>"quotes" & ampersands</script>`)))

	prompt := NewPromptTool(store)
	result, err := prompt.Call(context.Background(), ec, map[string]any{"slug": "report"})
	require.NoError(t, err)

	// Unknown markers stay literal and values are never HTML-escaped.
	assert.Equal(t,
		`Summary for Ada: {{findings}} / <b><script>"quotes" & ampersands</script></b>`,
		result)
}

func TestBuiltinsRegistry(t *testing.T) {
	builtins := NewBuiltins()
	builtins.Register(NewTimerTool())
	builtins.Register(NewSetContextTool())

	_, ok := builtins.Get("timer")
	assert.True(t, ok)
	_, ok = builtins.Get("unknown")
	assert.False(t, ok)
	assert.Len(t, builtins.Definitions(), 2)
}
