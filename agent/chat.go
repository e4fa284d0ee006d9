package agent

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/flowmesh/bridge"
	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/model"
	"github.com/hupe1980/flowmesh/session"
	"github.com/hupe1980/flowmesh/tool"
)

// WorkflowRunner executes a workflow file against an existing execution
// context. Implemented by the engine; declared here to avoid a cyclic import.
type WorkflowRunner interface {
	RunWorkflow(ctx context.Context, path, baseDir string, ec *core.ExecutionContext) error
}

// ChatOptions configures the chat builtin.
type ChatOptions struct {
	Models        *model.Registry
	Tools         *tool.Registry
	Prompts       *tool.PromptStore
	Sessions      session.Store
	Bridge        *bridge.Bridge
	Workflows     WorkflowRunner
	BridgeTimeout time.Duration
	Logger        logging.Logger
}

// Chat is the conversational agent loop, exposed to workflows as the builtin
// tool "chat". One call runs a full agent turn: it resolves the agent
// definition and its tools, drives the model until it stops requesting tool
// calls, and routes every requested call through builtins, tool servers, and
// finally the client bridge.
type Chat struct {
	agents     *Registry
	dispatcher *Dispatcher
	opts       ChatOptions
}

// NewChat creates the chat builtin over an agent registry and dispatch chain.
func NewChat(agents *Registry, dispatcher *Dispatcher, optFns ...func(o *ChatOptions)) *Chat {
	opts := ChatOptions{
		BridgeTimeout: bridge.DefaultTimeout,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Chat{
		agents:     agents,
		dispatcher: dispatcher,
		opts:       opts,
	}
}

// Name implements tool.Tool.
func (c *Chat) Name() string { return "chat" }

// Description implements tool.Tool.
func (c *Chat) Description() string {
	return "Send a message to an agent and return its reply, executing any tool calls it requests"
}

// Parameters implements tool.Tool.
func (c *Chat) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent":         map[string]any{"type": "string", "description": "Agent slug (default: \"default\")"},
			"message":       map[string]any{"type": "string", "description": "User message for this turn"},
			"state":         map[string]any{"type": "string", "description": "Message state, single value or input:output combination"},
			"format":        map[string]any{"type": "string", "description": "Result format: text or json"},
			"tools":         map[string]any{"type": "string", "description": "Tool specification overriding the agent default"},
			"chat_id":       map[string]any{"type": "string", "description": "Explicit conversation id"},
			"system_prompt": map[string]any{"type": "string", "description": "System prompt override"},
		},
		"required": []string{"message"},
	}
}

// Call implements tool.Tool.
func (c *Chat) Call(ctx context.Context, ec *core.ExecutionContext, args map[string]any) (any, error) {
	message, ok := argString(args, "message")
	if !ok || message == "" {
		return nil, tool.NewToolError("chat", "mandatory parameter 'message' is missing", "VALIDATION_ERROR")
	}

	slug, _ := argString(args, "agent")
	if slug == "" {
		slug = "default"
	}

	stateRaw, _ := argString(args, "state")
	if stateRaw == "" {
		if stateless, _ := argString(args, "stateless"); stateless == "true" {
			stateRaw = StateSilent
		}
	}
	state := ParseState(stateRaw)

	format, _ := argString(args, "format")
	format = strings.ToLower(format)
	if format == "" {
		format = "text"
	}

	def, _ := c.agents.Get(slug)
	if def != nil && def.Workflow != "" {
		return c.runAgentWorkflow(ctx, ec, def, message, format, args)
	}

	c.opts.Logger.Info("chat.start", "agent", slug, "state", state.Raw, "format", format)
	return c.runLoop(ctx, ec, def, slug, message, state, format, args)
}

// runAgentWorkflow delegates the turn to the agent's workflow file. The user
// message is bound to input.message for the duration of the nested run and
// the workflow's reply.output becomes the chat result.
func (c *Chat) runAgentWorkflow(ctx context.Context, ec *core.ExecutionContext, def *Agent, message, format string, args map[string]any) (any, error) {
	if c.opts.Workflows == nil {
		return nil, tool.NewToolError("chat", "no workflow runner configured for agent workflows", "EXECUTION_ERROR")
	}

	identifier := def.Slug + ":" + def.Workflow
	if err := ec.EnterRun(identifier); err != nil {
		return nil, tool.NewToolError("chat", err.Error(), "EXECUTION_ERROR")
	}
	defer ec.ExitRun()

	if timeoutRaw, ok := argString(args, "workflow_timeout"); ok {
		if secs, err := strconv.ParseUint(timeoutRaw, 10, 32); err == nil {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
			defer cancel()
		}
	}

	c.opts.Logger.Info("chat.workflow.start", "agent", def.Slug, "workflow", def.Workflow)

	prev, existed := ec.SetInputField("message", core.String(message))
	err := c.opts.Workflows.RunWorkflow(ctx, def.Workflow, def.BaseDir, ec)
	if existed {
		ec.SetInputField("message", prev)
	}
	if err != nil {
		return nil, tool.NewToolError("chat", "nested workflow execution failed: "+err.Error(), "EXECUTION_ERROR")
	}

	output, _ := ec.Resolve("reply.output")
	text := ""
	if !output.IsNull() {
		text = output.Text()
	}
	if format == "json" {
		if parsed, err := core.ParseJSON([]byte(text)); err == nil {
			return parsed, nil
		}
	}
	return core.String(text), nil
}

// runLoop drives the model conversation until it stops requesting tool calls
// or the client renders the result itself.
func (c *Chat) runLoop(ctx context.Context, ec *core.ExecutionContext, def *Agent, slug, message string, state CallState, format string, args map[string]any) (any, error) {
	m, system, temperature, err := c.resolveModel(def, slug, args)
	if err != nil {
		return nil, err
	}

	defs, err := c.resolveTools(def, args)
	if err != nil {
		return nil, tool.NewToolError("chat", err.Error(), "VALIDATION_ERROR")
	}

	chatID := c.resolveChatID(ec, state, args)
	messages := c.loadHistory(chatID, args)
	loaded := len(messages)
	messages = append(messages, model.Message{Role: model.RoleUser, Content: message})

	for {
		req := model.Request{
			System:      system,
			Messages:    messages,
			Temperature: temperature,
			Tools:       defs,
			Stream:      state.ShouldStream(),
		}
		respCh, errCh := m.Generate(ctx, req)
		final, err := model.Collect(respCh, errCh, func(text string) {
			if !state.ShouldStream() {
				return
			}
			ev := core.NewEvent(ec.RunID(), core.EventContent)
			ev.Text = text
			ec.Emit(ev)
		})
		if err != nil {
			return nil, tool.NewToolError("chat", "model call failed: "+err.Error(), "EXECUTION_ERROR")
		}

		if len(final.ToolCalls) == 0 {
			return c.finish(ec, state, format, chatID, messages[loaded:], final, m.Info().Name)
		}

		c.opts.Logger.Info("chat.tool_calls", "agent", slug, "count", len(final.ToolCalls))
		messages = append(messages, model.Message{
			Role:      model.RoleAssistant,
			Content:   final.Content,
			ToolCalls: final.ToolCalls,
		})

		// Models occasionally repeat the same call in one turn; identical
		// (name, arguments) pairs are bridged once and duplicates reuse
		// the first call's result.
		var clientCalls []bridge.Call
		primary := map[string]string{}
		duplicates := map[string]string{}
		for _, tc := range final.ToolCalls {
			result, handled := c.dispatcher.Dispatch(ctx, ec, tc.Name, tc.Arguments)
			if handled {
				messages = append(messages, model.Message{
					Role:       model.RoleTool,
					ToolCallID: tc.ID,
					Content:    result,
				})
				continue
			}
			key := tc.Name + "\x00" + tc.Arguments
			if firstID, ok := primary[key]; ok {
				duplicates[tc.ID] = firstID
				continue
			}
			primary[key] = tc.ID
			clientCalls = append(clientCalls, bridge.Call{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}

		if len(clientCalls) == 0 {
			continue
		}

		terminal, toolMsgs := c.runClientCalls(ctx, ec, clientCalls)
		if terminal {
			return core.String("Client tools executed on frontend."), nil
		}
		messages = append(messages, toolMsgs...)
		if len(duplicates) > 0 {
			byID := make(map[string]string, len(toolMsgs))
			for _, msg := range toolMsgs {
				byID[msg.ToolCallID] = msg.Content
			}
			for dupID, firstID := range duplicates {
				messages = append(messages, model.Message{
					Role:       model.RoleTool,
					ToolCallID: dupID,
					Content:    byID[firstID],
				})
			}
		}
	}
}

// runClientCalls forwards unhandled calls over the client bridge. It reports
// terminal=true when every result carries the executed_on_client marker,
// which ends the loop without another model turn. Bridge failures become
// error results so the model can react to them.
func (c *Chat) runClientCalls(ctx context.Context, ec *core.ExecutionContext, calls []bridge.Call) (bool, []model.Message) {
	if c.opts.Bridge == nil {
		msgs := make([]model.Message, len(calls))
		for i, call := range calls {
			msgs[i] = model.Message{
				Role:       model.RoleTool,
				ToolCallID: call.ID,
				Content:    "Error: Tool '" + call.Name + "' is not registered (checked builtin and tool servers).",
			}
		}
		return false, msgs
	}

	results, err := c.opts.Bridge.EmitAndAwait(ctx, ec, calls, c.opts.BridgeTimeout)
	if err != nil {
		c.opts.Logger.Warn("chat.bridge.error", "error", err.Error())
		msgs := make([]model.Message, len(calls))
		for i, call := range calls {
			msgs[i] = model.Message{
				Role:       model.RoleTool,
				ToolCallID: call.ID,
				Content:    "Error: " + err.Error(),
			}
		}
		return false, msgs
	}

	allTerminal := len(results) > 0
	for _, r := range results {
		if !r.ExecutedOnClient() {
			allTerminal = false
			break
		}
	}
	if allTerminal {
		c.opts.Logger.Info("chat.bridge.terminal", "results", len(results))
		return true, nil
	}

	msgs := make([]model.Message, len(results))
	for i, r := range results {
		msgs[i] = model.Message{
			Role:       model.RoleTool,
			ToolCallID: r.ToolCallID,
			Content:    r.Content,
		}
	}
	return false, msgs
}

// finish records the turn's $reply metadata, applies persistence bookkeeping,
// and renders the final result.
func (c *Chat) finish(ec *core.ExecutionContext, state CallState, format, chatID string, exchange []model.Message, final model.Response, modelName string) (any, error) {
	text := final.Content

	// $reply carries the last chat call's metadata regardless of state.
	meta := map[string]core.Value{
		"model":         core.String(modelName),
		"finish_reason": core.String(final.FinishReason),
	}
	if final.Usage != nil {
		meta["usage"] = core.Object(map[string]core.Value{
			"prompt_tokens":     core.Int(final.Usage.PromptTokens),
			"completion_tokens": core.Int(final.Usage.CompletionTokens),
			"total_tokens":      core.Int(final.Usage.TotalTokens),
		})
	}
	for key, v := range meta {
		if err := ec.Set("reply."+key, v); err != nil {
			return nil, tool.NewToolError("chat", err.Error(), "EXECUTION_ERROR")
		}
	}

	if state.ShouldPersist() {
		if err := ec.Set("reply.chat_id", core.String(chatID)); err != nil {
			return nil, tool.NewToolError("chat", err.Error(), "EXECUTION_ERROR")
		}
		buffer, _ := ec.Resolve("reply.output")
		accumulated := text
		if !buffer.IsNull() {
			accumulated = buffer.Text() + text
		}
		if err := ec.Set("reply.output", core.String(accumulated)); err != nil {
			return nil, tool.NewToolError("chat", err.Error(), "EXECUTION_ERROR")
		}
		if c.opts.Sessions != nil {
			stored := append(exchange, model.Message{Role: model.RoleAssistant, Content: text})
			if err := c.opts.Sessions.Append(chatID, stored...); err != nil {
				c.opts.Logger.Warn("chat.session.append.error", "chat_id", chatID, "error", err.Error())
			}
		}
	}

	if format == "json" {
		clean := cleanJSONOutput(text)
		if parsed, err := core.ParseJSON([]byte(clean)); err == nil {
			return parsed, nil
		}
		return core.String(text), nil
	}
	return core.String(text), nil
}

// resolveModel picks the model, system prompt, and temperature for a call.
// Registered agents supply their definition; unknown slugs fall back to the
// call parameters so remote or ad hoc agents still work.
func (c *Chat) resolveModel(def *Agent, slug string, args map[string]any) (model.Model, string, *float64, error) {
	override, _ := argString(args, "system_prompt")

	var modelName, system string
	var temperature *float64
	if def != nil {
		modelName = def.Model
		temperature = def.Temperature
		system = def.SystemPrompt
		if override != "" {
			system = override
		} else if def.SystemPromptSlug != "" && c.opts.Prompts != nil {
			if template, ok := c.opts.Prompts.Get(def.SystemPromptSlug); ok {
				system = template
			} else {
				c.opts.Logger.Warn("chat.prompt.missing", "slug", def.SystemPromptSlug)
			}
		}
	} else {
		c.opts.Logger.Debug("chat.agent.unregistered", "agent", slug)
		modelName, _ = argString(args, "model")
		system = override
		if raw, ok := argString(args, "temperature"); ok {
			if t, err := strconv.ParseFloat(raw, 64); err == nil {
				temperature = &t
			}
		}
	}

	if c.opts.Models == nil {
		return nil, "", nil, tool.NewToolError("chat", "no model registry configured", "EXECUTION_ERROR")
	}
	m, ok := c.opts.Models.Get(modelName)
	if !ok {
		return nil, "", nil, tool.NewToolError("chat", "model '"+modelName+"' not registered", "EXECUTION_ERROR")
	}
	return m, system, temperature, nil
}

// resolveTools resolves the effective tool definitions for a call: the tools
// parameter wins over the agent default.
func (c *Chat) resolveTools(def *Agent, args map[string]any) ([]model.ToolDefinition, error) {
	callSpec, _ := argString(args, "tools")
	agentSpec := ""
	if def != nil {
		agentSpec = def.Tools
	}
	resolved, err := tool.Resolve(callSpec, agentSpec, c.opts.Tools)
	if err != nil {
		return nil, err
	}
	defs := make([]model.ToolDefinition, len(resolved))
	for i, d := range resolved {
		defs[i] = model.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		}
	}
	return defs, nil
}

// resolveChatID determines the conversation id: an explicit parameter wins,
// persisting calls inherit reply.chat_id, and a fresh id is minted when a
// persisting call has neither.
func (c *Chat) resolveChatID(ec *core.ExecutionContext, state CallState, args map[string]any) string {
	if explicit, ok := argString(args, "chat_id"); ok {
		if strings.TrimSpace(explicit) != "" && !strings.HasPrefix(explicit, "[Missing:") {
			return explicit
		}
	}
	if state.ShouldPersist() {
		if inherited, ok := ec.Resolve("reply.chat_id"); ok && !inherited.IsNull() {
			if id := inherited.Text(); id != "" {
				return id
			}
		}
		return uuid.NewString()
	}
	return ""
}

// loadHistory fetches stored turns for an inherited conversation. The
// history parameter set to "false" or "none" skips loading.
func (c *Chat) loadHistory(chatID string, args map[string]any) []model.Message {
	if chatID == "" || c.opts.Sessions == nil {
		return nil
	}
	if h, ok := argString(args, "history"); ok {
		if h == "false" || h == "none" {
			return nil
		}
	}
	history, err := c.opts.Sessions.Messages(chatID)
	if err != nil {
		c.opts.Logger.Warn("chat.session.load.error", "chat_id", chatID, "error", err.Error())
		return nil
	}
	return history
}

// cleanJSONOutput strips a surrounding markdown code fence from model output
// before JSON parsing.
func cleanJSONOutput(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```json") {
		if end := strings.LastIndex(trimmed, "```"); end > 7 {
			return strings.TrimSpace(trimmed[7:end])
		}
	}
	if strings.HasPrefix(trimmed, "```") {
		if end := strings.LastIndex(trimmed, "```"); end > 3 {
			return strings.TrimSpace(trimmed[3:end])
		}
	}
	return trimmed
}

// argString extracts a parameter as text. Non-string values are rendered via
// their canonical text form so numeric or boolean parameters still work.
func argString(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	if s, isStr := v.(string); isStr {
		return s, true
	}
	return core.FromAny(v).Text(), true
}
