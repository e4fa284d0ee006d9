package tool

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hupe1980/flowmesh/core"
)

// fetchArgs declares the fetch builtin's schema; only url is required.
type fetchArgs struct {
	URL     string         `json:"url" description:"Request URL"`
	Method  string         `json:"method,omitempty" description:"HTTP method, defaults to GET"`
	Body    string         `json:"body,omitempty" description:"Request body, sent as JSON"`
	Headers map[string]any `json:"headers,omitempty" description:"Additional request headers"`
}

// NewFetchTool performs an HTTP request:
//
//	fetch(url="https://...", method="GET", body={...}, headers={...})
//
// The response body is parsed as JSON when possible and returned under
// "data", along with "status" and "ok".
func NewFetchTool(client *http.Client) *FunctionTool {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return NewFunctionToolFromStruct(
		"fetch",
		"Perform an HTTP request and return the parsed response",
		fetchArgs{},
		func(ctx context.Context, _ *core.ExecutionContext, args map[string]any) (any, error) {
			url, _ := args["url"].(string)
			method := "GET"
			if m, ok := args["method"].(string); ok && m != "" {
				method = strings.ToUpper(m)
			}

			var body io.Reader
			hasBody := false
			if raw, ok := args["body"]; ok && raw != nil {
				hasBody = true
				switch b := raw.(type) {
				case string:
					body = strings.NewReader(b)
				default:
					encoded, err := json.Marshal(b)
					if err != nil {
						return nil, err
					}
					body = strings.NewReader(string(encoded))
				}
			}

			req, err := http.NewRequestWithContext(ctx, method, url, body)
			if err != nil {
				return nil, err
			}
			if hasBody {
				req.Header.Set("Content-Type", "application/json")
			}
			if headers, ok := args["headers"].(map[string]any); ok {
				for key, val := range headers {
					if s, ok := val.(string); ok {
						req.Header.Set(key, s)
					}
				}
			}

			res, err := client.Do(req)
			if err != nil {
				return nil, err
			}
			defer res.Body.Close()

			content, err := io.ReadAll(res.Body)
			if err != nil {
				return nil, err
			}

			data, perr := core.ParseJSON(content)
			if perr != nil {
				data = core.String(string(content))
			}

			return map[string]any{
				"status": res.StatusCode,
				"ok":     res.StatusCode >= 200 && res.StatusCode < 300,
				"data":   data.ToAny(),
			}, nil
		},
	)
}
