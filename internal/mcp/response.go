package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	arkerrors "github.com/kokifish/VulnerMCP/internal/errors"
	"github.com/kokifish/VulnerMCP/internal/resolve"
)

// createJSONResponse creates a standardized JSON response for MCP tools
func createJSONResponse(data interface{}) (*mcp.CallToolResult, error) {
	content, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response data: %v", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(content)},
		},
	}, nil
}

// createTextResponse returns one text content per entry.
func createTextResponse(texts []string) *mcp.CallToolResult {
	content := make([]mcp.Content, len(texts))
	for i, t := range texts {
		content[i] = &mcp.TextContent{Text: t}
	}
	return &mcp.CallToolResult{Content: content}
}

// createErrorResponse reports err inside the tool result with IsError set, so
// the model sees the failure and can correct its request.
func createErrorResponse(operation string, err error) (*mcp.CallToolResult, error) {
	errorData := map[string]interface{}{
		"success":   false,
		"error":     err.Error(),
		"operation": operation,
	}
	if t := arkerrors.TypeOf(err); t != "" {
		errorData["error_type"] = string(t)
	}
	if suggestions := errorSuggestions(err); len(suggestions) > 0 {
		errorData["suggestions"] = suggestions
	}

	response, marshalErr := createJSONResponse(errorData)
	if marshalErr != nil {
		return nil, marshalErr
	}
	response.IsError = true
	return response, nil
}

// createWarningResponse reports a warning-class outcome. The call did not
// fail; the caller has to narrow the request.
func createWarningResponse(operation string, err error, extra map[string]interface{}) (*mcp.CallToolResult, error) {
	data := map[string]interface{}{
		"success":   false,
		"warning":   err.Error(),
		"operation": operation,
	}
	for k, v := range extra {
		data[k] = v
	}
	return createJSONResponse(data)
}

func errorSuggestions(err error) []string {
	var (
		noMatch     *arkerrors.NoMatchError
		unsupported *arkerrors.UnsupportedKindError
		malformed   *arkerrors.MalformedError
	)
	var out []string
	switch {
	case errors.As(err, &noMatch):
		ns := resolve.NamespaceSymbol
		if noMatch.Namespace == resolve.NamespaceFile.String() {
			ns = resolve.NamespaceFile
		}
		for _, s := range noMatch.Suggestions {
			out = append(out, ns.URI(s))
		}
		if ns == resolve.NamespaceFile {
			out = append(out, "Use list_files with a broader pattern such as *.json")
		} else {
			out = append(out, "Use a wildcard pattern such as module_name.* or *method_name*")
		}
	case errors.As(err, &unsupported):
		out = append(out, "Only text files can be read; pick a .json, .ets or other text file")
	case errors.As(err, &malformed):
		out = append(out, "Resource URIs start with panda:// (symbols) or file:// (extracted files)")
	case arkerrors.TypeOf(err) == arkerrors.ErrorTypeUninitialized:
		out = append(out, "Check input.package / input.disassembly in .arkmcp.kdl and run artifact_status")
	}
	return out
}
