package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flowmesh/core"
)

func bridgeIDFrom(t *testing.T, sink *core.CollectorSink) string {
	t.Helper()
	events := sink.OfType(core.EventToolCall)
	require.Len(t, events, 1)
	return events[0].Value.Field("bridge_id").Text()
}

func TestBridgeRoundTrip(t *testing.T) {
	sink := &core.CollectorSink{}
	ec := core.NewExecutionContext("run-1", core.Null(), sink)
	b := New()

	emitted := make(chan string, 1)
	go func() {
		for {
			if events := sink.OfType(core.EventToolCall); len(events) > 0 {
				emitted <- events[0].Value.Field("bridge_id").Text()
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	go func() {
		id := <-emitted
		ok := b.Resolve(id, []Result{{ToolCallID: "call_1", Content: `{"ok":true}`}})
		assert.True(t, ok)
	}()

	results, err := b.EmitAndAwait(context.Background(), ec, []Call{
		{ID: "call_1", Name: "confirm", Arguments: `{"q":"proceed?"}`},
	}, time.Second)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "call_1", results[0].ToolCallID)
	assert.Equal(t, `{"ok":true}`, results[0].Content)
	assert.Equal(t, 0, b.PendingCount())
}

func TestBridgeEmitsCallsPayload(t *testing.T) {
	sink := &core.CollectorSink{}
	ec := core.NewExecutionContext("run-2", core.Null(), sink)
	b := New()

	go func() {
		_, _ = b.EmitAndAwait(context.Background(), ec, []Call{
			{ID: "a", Name: "pick_file", Arguments: `{}`},
			{ID: "b", Name: "pick_file", Arguments: `{}`},
			{ID: "c", Name: "open_url", Arguments: `{"url":"https://example.com"}`},
		}, time.Second)
	}()

	var events []core.Event
	require.Eventually(t, func() bool {
		events = sink.OfType(core.EventToolCall)
		return len(events) == 1
	}, time.Second, time.Millisecond)

	calls := events[0].Value.Field("calls")
	require.Equal(t, 2, calls.Len(), "identical name+arguments must collapse")
	assert.Equal(t, "pick_file", calls.Index(0).Field("name").Text())
	assert.Equal(t, "open_url", calls.Index(1).Field("name").Text())

	b.Resolve(bridgeIDFrom(t, sink), nil)
}

func TestBridgeTimeout(t *testing.T) {
	ec := core.NewExecutionContext("run-3", core.Null(), &core.CollectorSink{})
	b := New()

	start := time.Now()
	_, err := b.EmitAndAwait(context.Background(), ec, []Call{{ID: "x", Name: "slow"}}, 20*time.Millisecond)
	require.Error(t, err)

	runErr := core.AsRunError(err)
	assert.Equal(t, core.CodeToolTimeout, runErr.Code)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, b.PendingCount())
}

func TestBridgeCancellation(t *testing.T) {
	sink := &core.CollectorSink{}
	ec := core.NewExecutionContext("run-4", core.Null(), sink)
	b := New()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := b.EmitAndAwait(ctx, ec, []Call{{ID: "x", Name: "confirm"}}, time.Minute)
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return len(sink.OfType(core.EventToolCall)) == 1
	}, time.Second, time.Millisecond)
	cancel()

	err := <-errCh
	runErr := core.AsRunError(err)
	assert.Equal(t, core.CodeCanceled, runErr.Code)

	// The round trip is settled; a late client answer is rejected.
	assert.False(t, b.Resolve(bridgeIDFrom(t, sink), nil))
}

func TestBridgeResolveUnknownID(t *testing.T) {
	b := New()
	assert.False(t, b.Resolve("nope", nil))
}

func TestResultExecutedOnClient(t *testing.T) {
	assert.True(t, Result{Content: `{"executed_on_client":true}`}.ExecutedOnClient())
	assert.False(t, Result{Content: `{"executed_on_client":false}`}.ExecutedOnClient())
	assert.False(t, Result{Content: `{"status":"ok"}`}.ExecutedOnClient())
	assert.False(t, Result{Content: `plain text`}.ExecutedOnClient())
}
