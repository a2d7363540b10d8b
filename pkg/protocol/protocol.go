// Package protocol implements the Model Context Protocol's JSON-RPC 2.0
// message model: the tagged-union Frame type, the closed MCP method
// surface, the JSON-RPC and MCP error codes, and the envelope types for
// every method's params/result.
//
// Adapted from richard-senior-mcp/pkg/protocol/jsonrpc.go: the teacher's
// flat JsonRpcRequest/JsonRpcResponse/JsonRpcError struct trio and its LSP
// leftover MethodType enum are replaced with a tagged-union Frame and the
// exact 2025-06-18 method set spec.md §4.1 enumerates.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the MCP protocol version this engine implements.
const ProtocolVersion = "2025-06-18"

// JSONRPCVersion is the literal JSON-RPC version tag every frame carries.
const JSONRPCVersion = "2.0"

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// MCP-specific error codes (implementation-defined range -32000..-32099).
const (
	CodeToolNotFound     = -32000
	CodeResourceNotFound = -32001
	CodePromptNotFound   = -32002
)

// Method is one of the closed set of MCP method names the engine
// recognizes, grouped by the direction(s) it may travel per spec.md §4.1.
type Method string

// Client -> server methods.
const (
	MethodInitialize          Method = "initialize"
	MethodPing                Method = "ping"
	MethodToolsList           Method = "tools/list"
	MethodToolsCall           Method = "tools/call"
	MethodResourcesList       Method = "resources/list"
	MethodResourceTemplates   Method = "resources/templates/list"
	MethodResourcesRead       Method = "resources/read"
	MethodResourcesSubscribe  Method = "resources/subscribe"
	MethodResourcesUnsub      Method = "resources/unsubscribe"
	MethodPromptsList         Method = "prompts/list"
	MethodPromptsGet          Method = "prompts/get"
	MethodCompletionComplete  Method = "completion/complete"
	MethodLoggingSetLevel     Method = "logging/setLevel"
	MethodSamplingCreateMsg   Method = "sampling/createMessage"
)

// Server -> client methods. Ping and sampling/createMessage are shared
// with the client->server set above (either side may ping the other;
// servers may request sampling from the client's LLM integration).
const (
	MethodRootsList        Method = "roots/list"
	MethodElicitationCreate Method = "elicitation/create"
)

// Notifications, travelling in whichever direction is applicable.
const (
	NotifyInitialized         Method = "notifications/initialized"
	NotifyProgress            Method = "notifications/progress"
	NotifyCancelled           Method = "notifications/cancelled"
	NotifyMessage             Method = "notifications/message"
	NotifyResourcesUpdated    Method = "notifications/resources/updated"
	NotifyResourcesListChange Method = "notifications/resources/list_changed"
	NotifyToolsListChange     Method = "notifications/tools/list_changed"
	NotifyPromptsListChange   Method = "notifications/prompts/list_changed"
	NotifyRootsListChange     Method = "notifications/roots/list_changed"
)

// clientToServer and serverToClient record which direction a request
// method is legal on, used by the validator.
var clientToServer = map[Method]bool{
	MethodInitialize: true, MethodPing: true, MethodToolsList: true,
	MethodToolsCall: true, MethodResourcesList: true, MethodResourceTemplates: true,
	MethodResourcesRead: true, MethodResourcesSubscribe: true, MethodResourcesUnsub: true,
	MethodPromptsList: true, MethodPromptsGet: true, MethodCompletionComplete: true,
	MethodLoggingSetLevel: true, MethodSamplingCreateMsg: true,
}

var serverToClient = map[Method]bool{
	MethodPing: true, MethodSamplingCreateMsg: true,
	MethodRootsList: true, MethodElicitationCreate: true,
}

var allNotifications = map[Method]bool{
	NotifyInitialized: true, NotifyProgress: true, NotifyCancelled: true,
	NotifyMessage: true, NotifyResourcesUpdated: true, NotifyResourcesListChange: true,
	NotifyToolsListChange: true, NotifyPromptsListChange: true, NotifyRootsListChange: true,
}

// IsRequestMethod reports whether method is a recognized request method
// for the given direction ("c2s" or "s2c").
func IsRequestMethod(method Method, direction string) bool {
	switch direction {
	case "c2s":
		return clientToServer[method]
	case "s2c":
		return serverToClient[method]
	default:
		return clientToServer[method] || serverToClient[method]
	}
}

// IsNotificationMethod reports whether method is a recognized notification.
func IsNotificationMethod(method Method) bool {
	return allNotifications[method]
}

// ID is a JSON-RPC request/response identifier: an int64, a string, or
// nil. It round-trips through JSON without losing its concrete type,
// which a bare `any` unmarshaled from JSON numbers would not (JSON
// numbers decode to float64 by default).
type ID struct {
	// exactly one of these is meaningful, selected by isString/isNil
	i        int64
	s        string
	isString bool
	isNil    bool
}

// NewIntID builds an integer request ID.
func NewIntID(i int64) ID { return ID{i: i} }

// NewStringID builds a string request ID.
func NewStringID(s string) ID { return ID{s: s, isString: true} }

// NilID is the null identifier (used on unrecoverable parse errors).
func NilID() ID { return ID{isNil: true} }

func (id ID) IsNil() bool { return id.isNil }

func (id ID) String() string {
	switch {
	case id.isNil:
		return "<nil>"
	case id.isString:
		return id.s
	default:
		return fmt.Sprintf("%d", id.i)
	}
}

func (id ID) Equal(other ID) bool {
	return id.isNil == other.isNil && id.isString == other.isString &&
		id.i == other.i && id.s == other.s
}

func (id ID) MarshalJSON() ([]byte, error) {
	switch {
	case id.isNil:
		return []byte("null"), nil
	case id.isString:
		return json.Marshal(id.s)
	default:
		return json.Marshal(id.i)
	}
}

func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ID{isNil: true}
		return nil
	}
	var asInt int64
	if err := json.Unmarshal(data, &asInt); err == nil {
		*id = ID{i: asInt}
		return nil
	}
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		*id = ID{s: asString, isString: true}
		return nil
	}
	return fmt.Errorf("protocol: id must be an integer, string, or null")
}

// Frame is the tagged union over the four JSON-RPC shapes spec.md §3
// describes. Every concrete type below implements it via an unexported
// marker method, so the set of variants is closed to this package.
type Frame interface {
	isFrame()
}

// Request is a JSON-RPC request: a method call expecting a Response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      ID              `json:"id"`
}

func (Request) isFrame() {}

// Notification is a JSON-RPC request with no id: fire-and-forget.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (Notification) isFrame() {}

// Response is a successful JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	ID      ID              `json:"id"`
}

func (Response) isFrame() {}

// ErrorResponse is a failed JSON-RPC response.
type ErrorResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Error   *ErrorPayload `json:"error"`
	ID      ID            `json:"id"`
}

func (ErrorResponse) isFrame() {}

// ErrorPayload is the JSON-RPC `error` object.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *ErrorPayload) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// wireFrame is the shape used purely to sniff which concrete Frame
// variant a line of JSON represents, without double-parsing RawMessage
// fields.
type wireFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  *string         `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      *ID             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *ErrorPayload   `json:"error"`
}

// ParseFrame deserializes one JSON-RPC object into its concrete Frame
// variant, enforcing P4: any frame whose version tag is not exactly
// "2.0" is rejected.
func ParseFrame(data []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("protocol: parse error: %w", err)
	}
	if w.JSONRPC != JSONRPCVersion {
		return nil, fmt.Errorf("protocol: invalid jsonrpc version %q", w.JSONRPC)
	}

	switch {
	case w.Method != nil && w.ID == nil:
		if *w.Method == "" {
			return nil, fmt.Errorf("protocol: notification method must not be empty")
		}
		return Notification{JSONRPC: w.JSONRPC, Method: *w.Method, Params: w.Params}, nil
	case w.Method != nil && w.ID != nil:
		if *w.Method == "" {
			return nil, fmt.Errorf("protocol: request method must not be empty")
		}
		return Request{JSONRPC: w.JSONRPC, Method: *w.Method, Params: w.Params, ID: *w.ID}, nil
	case w.Error != nil:
		if w.ID == nil {
			return nil, fmt.Errorf("protocol: error response missing id")
		}
		return ErrorResponse{JSONRPC: w.JSONRPC, Error: w.Error, ID: *w.ID}, nil
	case w.ID != nil:
		return Response{JSONRPC: w.JSONRPC, Result: w.Result, ID: *w.ID}, nil
	default:
		return nil, fmt.Errorf("protocol: frame is neither request, response, nor notification")
	}
}

// Marshal serializes a Frame back to its canonical JSON-RPC shape.
func Marshal(f Frame) ([]byte, error) {
	switch v := f.(type) {
	case Request:
		if v.JSONRPC == "" {
			v.JSONRPC = JSONRPCVersion
		}
		return json.Marshal(v)
	case Notification:
		if v.JSONRPC == "" {
			v.JSONRPC = JSONRPCVersion
		}
		return json.Marshal(v)
	case Response:
		if v.JSONRPC == "" {
			v.JSONRPC = JSONRPCVersion
		}
		return json.Marshal(v)
	case ErrorResponse:
		if v.JSONRPC == "" {
			v.JSONRPC = JSONRPCVersion
		}
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("protocol: unknown frame type %T", f)
	}
}

// NewRequest builds a Request frame from a method and a params value.
func NewRequest(method string, params any, id ID) (Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return Request{}, err
	}
	return Request{JSONRPC: JSONRPCVersion, Method: method, Params: raw, ID: id}, nil
}

// NewNotification builds a Notification frame from a method and params.
func NewNotification(method string, params any) (Notification, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return Notification{}, err
	}
	return Notification{JSONRPC: JSONRPCVersion, Method: method, Params: raw}, nil
}

// NewResponse builds a successful Response frame.
func NewResponse(result any, id ID) (Response, error) {
	raw, err := marshalParams(result)
	if err != nil {
		return Response{}, err
	}
	return Response{JSONRPC: JSONRPCVersion, Result: raw, ID: id}, nil
}

// NewErrorResponse builds an ErrorResponse frame.
func NewErrorResponse(code int, message string, data any, id ID) ErrorResponse {
	return ErrorResponse{
		JSONRPC: JSONRPCVersion,
		Error:   &ErrorPayload{Code: code, Message: message, Data: data},
		ID:      id,
	}
}

func marshalParams(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}
	return raw, nil
}
