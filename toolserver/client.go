// Package toolserver connects the engine to externally hosted tool servers
// over JSON-RPC (tools/list, tools/call). Server tools are addressed as
// "alias.tool_name" in the dispatch chain, where alias is the server's
// configured alias or name.
package toolserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/tool"
)

// ServerConfig describes one external tool server.
type ServerConfig struct {
	// Name identifies the server in errors and logs.
	Name string
	// Alias namespaces the server's tools; defaults to Name.
	Alias string
	// BaseURL is the server's endpoint. A trailing /sse segment is replaced
	// with /messages; otherwise /messages is appended.
	BaseURL string
	// Token, when set, is sent as a bearer token.
	Token string
}

func (c ServerConfig) namespace() string {
	if c.Alias != "" {
		return c.Alias
	}
	return c.Name
}

func (c ServerConfig) endpoint() string {
	if strings.HasSuffix(c.BaseURL, "/sse") {
		return strings.TrimSuffix(c.BaseURL, "/sse") + "/messages"
	}
	return strings.TrimRight(c.BaseURL, "/") + "/messages"
}

// Client speaks the JSON-RPC tool-server protocol over HTTP.
type Client struct {
	http   *http.Client
	logger logging.Logger
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// Timeout bounds each HTTP round trip.
	Timeout time.Duration
	// Logger receives request diagnostics.
	Logger logging.Logger
}

// DefaultClientOptions returns the default client configuration.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Timeout: 30 * time.Second,
		Logger:  logging.NoOpLogger{},
	}
}

// NewClient creates a tool-server client.
func NewClient(optFns ...func(o *ClientOptions)) *Client {
	opts := DefaultClientOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{
		http:   &http.Client{Timeout: opts.Timeout},
		logger: opts.Logger,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// ListTools fetches the server's tool catalog via tools/list.
func (c *Client) ListTools(ctx context.Context, config ServerConfig) ([]tool.Definition, error) {
	var result struct {
		Tools []struct {
			Name           string         `json:"name"`
			Description    string         `json:"description"`
			InputSchema    map[string]any `json:"inputSchema"`
			InputSchemaAlt map[string]any `json:"input_schema"`
		} `json:"tools"`
	}
	if err := c.call(ctx, config, rpcRequest{
		JSONRPC: "2.0",
		Method:  "tools/list",
		ID:      "list_1",
	}, &result); err != nil {
		return nil, err
	}

	defs := make([]tool.Definition, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema := t.InputSchema
		if schema == nil {
			schema = t.InputSchemaAlt
		}
		defs = append(defs, tool.Definition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schema,
		})
	}
	c.logger.Debug("toolserver.list", "server", config.Name, "tools", len(defs))
	return defs, nil
}

// CallTool invokes one tool via tools/call and returns its result. Content
// parts of type text are concatenated; other result shapes are returned as
// parsed values.
func (c *Client) CallTool(ctx context.Context, config ServerConfig, name string, args core.Value) (core.Value, error) {
	var result json.RawMessage
	err := c.call(ctx, config, rpcRequest{
		JSONRPC: "2.0",
		Method:  "tools/call",
		Params: map[string]any{
			"name":      name,
			"arguments": args.ToAny(),
		},
		ID: uuid.NewString(),
	}, &result)
	if err != nil {
		return core.Null(), err
	}
	if len(result) == 0 {
		return core.String("Success (No content returned)"), nil
	}

	parsed, err := core.ParseJSON(result)
	if err != nil {
		return core.Null(), core.NewRunError(core.CodeCallFailure,
			"tool server %q returned malformed result: %v", config.Name, err)
	}

	if content := parsed.Field("content"); content.Kind() == core.KindArray {
		var buf strings.Builder
		for i := 0; i < content.Len(); i++ {
			if text := content.Index(i).Field("text"); !text.IsNull() {
				buf.WriteString(text.Text())
			}
		}
		out, perr := core.ParseJSON([]byte(buf.String()))
		if perr != nil {
			return core.String(buf.String()), nil
		}
		return out, nil
	}
	return parsed, nil
}

func (c *Client) call(ctx context.Context, config ServerConfig, req rpcRequest, result any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, config.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return core.NewRunError(core.CodeCallFailure, "tool server %q: %v", config.Name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if config.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+config.Token)
	}

	res, err := c.http.Do(httpReq)
	if err != nil {
		return core.NewRunError(core.CodeCallFailure, "tool server %q connection failed: %v", config.Name, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return core.NewRunError(core.CodeCallFailure, "tool server %q: %v", config.Name, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return core.NewRunError(core.CodeCallFailure,
			"tool server %q (%s) returned %d: %s", config.Name, req.Method, res.StatusCode, string(body))
	}

	var rpcRes rpcResponse
	if err := json.Unmarshal(body, &rpcRes); err != nil {
		return core.NewRunError(core.CodeCallFailure,
			"tool server %q returned non-JSON response (status %d)", config.Name, res.StatusCode)
	}
	if len(rpcRes.Error) > 0 && string(rpcRes.Error) != "null" {
		return core.NewRunError(core.CodeCallFailure, "tool server %q error: %s", config.Name, string(rpcRes.Error))
	}
	if result != nil && len(rpcRes.Result) > 0 {
		if err := json.Unmarshal(rpcRes.Result, result); err != nil {
			return core.NewRunError(core.CodeCallFailure,
				"tool server %q: invalid %s result: %v", config.Name, req.Method, err)
		}
	}
	return nil
}
