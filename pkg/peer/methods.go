package peer

import (
	"context"

	"github.com/richard-senior/go-mcp-runtime/pkg/protocol"
)

// This file holds the typed client->server method wrappers spec.md §4.2
// requires: each constructs the request, (optionally) validates, sends,
// awaits, and deserializes the result, returning a typed error on
// non-success.

func (p *Peer) ListTools(ctx context.Context) (protocol.ToolsListResult, error) {
	var result protocol.ToolsListResult
	err := p.Call(ctx, string(protocol.MethodToolsList), map[string]any{}, &result)
	return result, err
}

func (p *Peer) CallTool(ctx context.Context, name string, args map[string]any) (protocol.ToolsCallResult, error) {
	var result protocol.ToolsCallResult
	params := protocol.ToolsCallParams{Name: name, Arguments: args}
	err := p.Call(ctx, string(protocol.MethodToolsCall), params, &result)
	return result, err
}

func (p *Peer) ListResources(ctx context.Context) (protocol.ResourcesListResult, error) {
	var result protocol.ResourcesListResult
	err := p.Call(ctx, string(protocol.MethodResourcesList), map[string]any{}, &result)
	return result, err
}

func (p *Peer) ListResourceTemplates(ctx context.Context) (protocol.ResourceTemplatesListResult, error) {
	var result protocol.ResourceTemplatesListResult
	err := p.Call(ctx, string(protocol.MethodResourceTemplates), map[string]any{}, &result)
	return result, err
}

func (p *Peer) ReadResource(ctx context.Context, uri string) (protocol.ResourcesReadResult, error) {
	var result protocol.ResourcesReadResult
	params := protocol.ResourcesReadParams{URI: uri}
	err := p.Call(ctx, string(protocol.MethodResourcesRead), params, &result)
	return result, err
}

func (p *Peer) SubscribeResource(ctx context.Context, uri string) error {
	params := protocol.ResourcesSubscribeParams{URI: uri}
	return p.Call(ctx, string(protocol.MethodResourcesSubscribe), params, nil)
}

func (p *Peer) UnsubscribeResource(ctx context.Context, uri string) error {
	params := protocol.ResourcesSubscribeParams{URI: uri}
	return p.Call(ctx, string(protocol.MethodResourcesUnsub), params, nil)
}

func (p *Peer) ListPrompts(ctx context.Context) (protocol.PromptsListResult, error) {
	var result protocol.PromptsListResult
	err := p.Call(ctx, string(protocol.MethodPromptsList), map[string]any{}, &result)
	return result, err
}

func (p *Peer) GetPrompt(ctx context.Context, name string, args map[string]string) (protocol.PromptsGetResult, error) {
	var result protocol.PromptsGetResult
	params := protocol.PromptsGetParams{Name: name, Arguments: args}
	err := p.Call(ctx, string(protocol.MethodPromptsGet), params, &result)
	return result, err
}

func (p *Peer) Complete(ctx context.Context, ref protocol.CompletionRef, arg protocol.CompletionArgument) (protocol.CompletionCompleteResult, error) {
	var result protocol.CompletionCompleteResult
	params := protocol.CompletionCompleteParams{Ref: ref, Argument: arg}
	err := p.Call(ctx, string(protocol.MethodCompletionComplete), params, &result)
	return result, err
}

func (p *Peer) SetLoggingLevel(ctx context.Context, level string) error {
	params := protocol.LoggingSetLevelParams{Level: level}
	return p.Call(ctx, string(protocol.MethodLoggingSetLevel), params, nil)
}

// CreateMessage issues sampling/createMessage. It is callable in either
// direction: a server Peer asks the client's LLM integration to sample,
// and (symmetrically) a client Peer could expose it outbound too, which
// is why it lives here rather than being role-restricted.
func (p *Peer) CreateMessage(ctx context.Context, params protocol.SamplingCreateMessageParams) (protocol.SamplingCreateMessageResult, error) {
	var result protocol.SamplingCreateMessageResult
	err := p.Call(ctx, string(protocol.MethodSamplingCreateMsg), params, &result)
	return result, err
}

// ListRoots issues roots/list, a server->client method.
func (p *Peer) ListRoots(ctx context.Context) (protocol.RootsListResult, error) {
	var result protocol.RootsListResult
	err := p.Call(ctx, string(protocol.MethodRootsList), map[string]any{}, &result)
	return result, err
}

// CreateElicitation issues elicitation/create, a server->client method.
func (p *Peer) CreateElicitation(ctx context.Context, params protocol.ElicitationCreateParams) (protocol.ElicitationCreateResult, error) {
	var result protocol.ElicitationCreateResult
	err := p.Call(ctx, string(protocol.MethodElicitationCreate), params, &result)
	return result, err
}

// NotifyProgress emits notifications/progress for an in-flight request
// this peer is handling.
func (p *Peer) NotifyProgress(ctx context.Context, token string, progress, total float64, message string) error {
	params := protocol.ProgressParams{ProgressToken: token, Progress: progress, Total: total, Message: message}
	return p.Notify(ctx, string(protocol.NotifyProgress), params)
}

// NotifyCancelled emits notifications/cancelled for a request this peer
// previously sent.
func (p *Peer) NotifyCancelled(ctx context.Context, id protocol.ID, reason string) error {
	params := protocol.CancelledParams{RequestID: id, Reason: reason}
	return p.Notify(ctx, string(protocol.NotifyCancelled), params)
}

// NotifyListChanged emits one of the four list_changed notifications.
func (p *Peer) NotifyListChanged(ctx context.Context, method protocol.Method) error {
	return p.Notify(ctx, string(method), map[string]any{})
}
