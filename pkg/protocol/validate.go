package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/richard-senior/go-mcp-runtime/pkg/mcperr"
)

// ValidateFrame performs the structural checks spec.md §4.1 requires
// before transmission (when configured) and on receipt: version tag,
// well-formed method name, required parameter fields present and typed.
// It does not deep-inspect opaque payloads (base64 data, resource
// bodies), per the same section.
func ValidateFrame(f Frame) error {
	switch v := f.(type) {
	case Request:
		if v.JSONRPC != JSONRPCVersion {
			return mcperr.Newf(mcperr.KindProtocol, "invalid jsonrpc version %q", v.JSONRPC)
		}
		if v.Method == "" {
			return mcperr.New(mcperr.KindProtocol, "request method must not be empty")
		}
		if v.ID.IsNil() {
			return mcperr.New(mcperr.KindProtocol, "request must carry a non-null id")
		}
		return validateParams(Method(v.Method), v.Params)
	case Notification:
		if v.JSONRPC != JSONRPCVersion {
			return mcperr.Newf(mcperr.KindProtocol, "invalid jsonrpc version %q", v.JSONRPC)
		}
		if v.Method == "" {
			return mcperr.New(mcperr.KindProtocol, "notification method must not be empty")
		}
		return validateParams(Method(v.Method), v.Params)
	case Response:
		if v.JSONRPC != JSONRPCVersion {
			return mcperr.Newf(mcperr.KindProtocol, "invalid jsonrpc version %q", v.JSONRPC)
		}
		return nil
	case ErrorResponse:
		if v.JSONRPC != JSONRPCVersion {
			return mcperr.Newf(mcperr.KindProtocol, "invalid jsonrpc version %q", v.JSONRPC)
		}
		if v.Error == nil {
			return mcperr.New(mcperr.KindProtocol, "error response missing error payload")
		}
		return nil
	default:
		return mcperr.Newf(mcperr.KindProtocol, "unrecognized frame type %T", f)
	}
}

// validateParams checks the required-field/type rules spec.md §4.1
// names explicitly; methods it has no opinion on pass through unchecked
// (the handler is responsible for its own semantic validation).
func validateParams(method Method, raw json.RawMessage) error {
	switch method {
	case MethodInitialize:
		var p InitializeParams
		if err := strictUnmarshal(raw, &p); err != nil {
			return mcperr.Wrap(mcperr.KindInvalidParams, err, "initialize params")
		}
		if p.ProtocolVersion == "" {
			return mcperr.New(mcperr.KindInvalidParams, "initialize.protocolVersion must be a non-empty string")
		}
	case MethodToolsCall:
		var p ToolsCallParams
		if err := strictUnmarshal(raw, &p); err != nil {
			return mcperr.Wrap(mcperr.KindInvalidParams, err, "tools/call params")
		}
		if p.Name == "" {
			return mcperr.New(mcperr.KindInvalidParams, "tools/call.name must be a non-empty string")
		}
	case MethodPromptsGet:
		var p PromptsGetParams
		if err := strictUnmarshal(raw, &p); err != nil {
			return mcperr.Wrap(mcperr.KindInvalidParams, err, "prompts/get params")
		}
		if p.Name == "" {
			return mcperr.New(mcperr.KindInvalidParams, "prompts/get.name must be a non-empty string")
		}
	case MethodResourcesRead:
		var p ResourcesReadParams
		if err := strictUnmarshal(raw, &p); err != nil {
			return mcperr.Wrap(mcperr.KindInvalidParams, err, "resources/read params")
		}
		if p.URI == "" {
			return mcperr.New(mcperr.KindInvalidParams, "resources/read.uri must be a non-empty string")
		}
	case MethodElicitationCreate:
		var p ElicitationCreateParams
		if err := strictUnmarshal(raw, &p); err != nil {
			return mcperr.Wrap(mcperr.KindInvalidParams, err, "elicitation/create params")
		}
		for name, prop := range p.RequestedSchema.Properties {
			if !isPrimitiveSchemaType(prop.Type) {
				return mcperr.Newf(mcperr.KindInvalidParams,
					"elicitation/create.requestedSchema.%s: type %q is not a primitive schema variant", name, prop.Type)
			}
		}
	}
	return nil
}

func isPrimitiveSchemaType(t string) bool {
	switch t {
	case "string", "number", "integer", "boolean":
		return true
	default:
		return false
	}
}

// strictUnmarshal unmarshals raw into v, treating an empty/nil raw as an
// empty JSON object so zero-value structs validate the same whether
// params was omitted or `{}`.
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w", err)
	}
	return nil
}
