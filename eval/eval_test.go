package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flowmesh/core"
)

func newResolver(t *testing.T) *core.ExecutionContext {
	t.Helper()
	input := core.Object(map[string]core.Value{
		"message": core.String("hello"),
		"count":   core.Int(3),
	})
	ec := core.NewExecutionContext("run-1", input, nil)
	require.NoError(t, ec.Set("ready", core.Bool(true)))
	require.NoError(t, ec.Set("user.name", core.String("ada")))
	ec.SetOutput("classify", core.Object(map[string]core.Value{
		"intent":     core.String("trade"),
		"confidence": core.Number(0.9),
	}))
	return ec
}

func TestEvaluatePureReference(t *testing.T) {
	ec := newResolver(t)

	v, err := Evaluate("$classify.output.confidence", ec)
	require.NoError(t, err)
	n, ok := v.AsNumber()
	require.True(t, ok)
	assert.Equal(t, 0.9, n)

	// Missing references yield null, not an error.
	v, err = Evaluate("$classify.output.missing", ec)
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestEvaluateCompoundExpression(t *testing.T) {
	ec := newResolver(t)

	tests := []struct {
		expr string
		want bool
	}{
		{`$classify.output.intent == "trade"`, true},
		{`$classify.output.intent == "chat"`, false},
		{`$classify.output.confidence > 0.5 && $ctx.ready`, true},
		{`$classify.output.confidence > 0.95`, false},
		{`$input.count >= 3`, true},
		{`$ctx.missing == nil`, true},
		{`$ctx.missing`, false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := EvaluateBool(tt.expr, ec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateRepeatedReference(t *testing.T) {
	ec := newResolver(t)

	v, err := Evaluate("$input.count + $input.count", ec)
	require.NoError(t, err)
	n, _ := v.AsNumber()
	assert.Equal(t, float64(6), n)
}

func TestEvaluateParseError(t *testing.T) {
	ec := newResolver(t)

	_, err := Evaluate("$ctx.ready &&", ec)
	require.Error(t, err)
	assert.Equal(t, core.CodeParse, core.AsRunError(err).Code)
}

func TestRequire(t *testing.T) {
	ec := newResolver(t)

	v, err := Require("ctx.user.name", ec)
	require.NoError(t, err)
	assert.Equal(t, "ada", v.Text())

	_, err = Require("ctx.user.email", ec)
	require.Error(t, err)
	assert.Equal(t, core.CodeUnresolvedVariable, core.AsRunError(err).Code)
}

func TestParam(t *testing.T) {
	ec := newResolver(t)

	// Bare reference keeps the value's type.
	v, err := Param("$input.count", ec)
	require.NoError(t, err)
	assert.Equal(t, core.KindNumber, v.Kind())

	// Mixed text interpolates to a string.
	v, err = Param("Hello $ctx.user.name, you said $input.message", ec)
	require.NoError(t, err)
	assert.Equal(t, "Hello ada, you said hello", v.Text())

	// Plain JSON literals parse to typed values.
	v, err = Param("42", ec)
	require.NoError(t, err)
	assert.Equal(t, core.KindNumber, v.Kind())

	v, err = Param("plain text", ec)
	require.NoError(t, err)
	assert.Equal(t, "plain text", v.Text())
}

func TestInterpolateMissingRendersEmpty(t *testing.T) {
	ec := newResolver(t)
	assert.Equal(t, "value: ", Interpolate("value: $ctx.nothing", ec))
}

func TestCustomFunctions(t *testing.T) {
	ec := newResolver(t)

	v, err := Evaluate(`default($ctx.missing, "fallback")`, ec)
	require.NoError(t, err)
	assert.Equal(t, "fallback", v.Text())

	v, err = Evaluate(`append($ctx.chain, "step")`, ec)
	require.NoError(t, err)
	assert.Equal(t, core.KindArray, v.Kind())
	assert.Equal(t, 1, v.Len())

	v, err = Evaluate(`length(append($ctx.chain, "a", "b"))`, ec)
	require.NoError(t, err)
	n, _ := v.AsNumber()
	assert.Equal(t, 2.0, n)

	v, err = Evaluate(`length($ctx.missing)`, ec)
	require.NoError(t, err)
	n, _ = v.AsNumber()
	assert.Equal(t, 0.0, n)
}

func TestPrefixVariables(t *testing.T) {
	local := map[string]bool{"verify": true, "extract": true}

	tests := []struct {
		in   string
		want string
	}{
		{"$verify.output", "$auth.verify.output"},
		{"$extract.output.intent", "$auth.extract.output.intent"},
		{"$ctx.some_var", "$ctx.some_var"},
		{"$input.message", "$input.message"},
		{"$output", "$output"},
		{`$verify.output.ok == true && $ctx.ready`, `$auth.verify.output.ok == true && $ctx.ready`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, PrefixVariables(tt.in, "auth", local))
		})
	}
}
