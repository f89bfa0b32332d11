package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kokifish/VulnerMCP/internal/core"
	arkerrors "github.com/kokifish/VulnerMCP/internal/errors"
	"github.com/kokifish/VulnerMCP/internal/resolve"
)

const defaultListMax = 200

// RelatedParams are the arguments of get_resource_related.
type RelatedParams struct {
	CodeOrName string `json:"code_or_name"`
}

// ReadResourceParams are the arguments of read_resource.
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// ListSymbolsParams are the arguments of list_symbols.
type ListSymbolsParams struct {
	Pattern string `json:"pattern,omitempty"`
	Offset  int    `json:"offset,omitempty"`
	Max     int    `json:"max,omitempty"`
}

// FileParams are the arguments of read_file and list_files.
type FileParams struct {
	Pattern string `json:"pattern"`
}

func decodeParams(req *mcp.CallToolRequest, v interface{}) error {
	if req == nil || req.Params == nil || len(req.Params.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params.Arguments, v); err != nil {
		return arkerrors.NewMalformedError(string(req.Params.Arguments), fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

// handleReadResource serves both the URI templates and the concrete
// per-identifier resources.
func (s *Server) handleReadResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	s.diagnosticLogger.Printf("resources/read %s", uri)

	contents, err := s.core.ReadURI(ctx, uri)
	if err != nil {
		s.diagnosticLogger.Printf("resources/read %s failed: %v", uri, err)
		return nil, err
	}
	s.syncResources(ctx)

	result := &mcp.ReadResourceResult{Contents: make([]*mcp.ResourceContents, len(contents))}
	for i, c := range contents {
		result.Contents[i] = &mcp.ResourceContents{
			URI:      c.URI,
			MIMEType: c.MIMEType,
			Text:     c.Text,
		}
	}
	return result, nil
}

func (s *Server) handleRelated(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic("get_resource_related", func() (*mcp.CallToolResult, error) {
		var params RelatedParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		contents, err := s.core.Related(ctx, params.CodeOrName)
		if err != nil {
			return nil, err
		}
		s.syncResources(ctx)
		return createTextResponse(contentTexts(contents)), nil
	})
}

func (s *Server) handleReadResourceTool(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic("read_resource", func() (*mcp.CallToolResult, error) {
		var params ReadResourceParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		contents, err := s.core.ReadURI(ctx, params.URI)
		if err != nil {
			var amb *arkerrors.AmbiguousError
			if errors.As(err, &amb) {
				return createWarningResponse("read_resource", err, map[string]interface{}{"matches": amb.Matches})
			}
			return nil, err
		}
		s.syncResources(ctx)
		return createTextResponse(contentTexts(contents)), nil
	})
}

func (s *Server) handleListModules(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic("list_modules", func() (*mcp.CallToolResult, error) {
		modules, err := s.core.Modules(ctx)
		if err != nil {
			return nil, err
		}
		s.syncResources(ctx)
		return createJSONResponse(map[string]interface{}{
			"count":   len(modules),
			"modules": modules,
		})
	})
}

func (s *Server) handleListSymbols(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic("list_symbols", func() (*mcp.CallToolResult, error) {
		var params ListSymbolsParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		if params.Max <= 0 {
			params.Max = defaultListMax
		}
		if params.Offset < 0 {
			params.Offset = 0
		}

		var ids []string
		tier := ""
		if strings.TrimSpace(params.Pattern) == "" {
			entries, err := s.core.ListSymbols(ctx)
			if err != nil {
				return nil, err
			}
			ids = make([]string, len(entries))
			for i, e := range entries {
				ids[i] = e.ID
			}
		} else {
			uri := params.Pattern
			if !resolve.HasScheme(uri) {
				uri = resolve.SymbolScheme + uri
			}
			res, err := s.core.Resolve(ctx, uri)
			if err != nil {
				return nil, err
			}
			ids = res.Matches
			tier = string(res.Tier)
		}
		s.syncResources(ctx)

		total := len(ids)
		page := paginate(ids, params.Offset, params.Max)
		symbols := make([]map[string]string, len(page))
		for i, id := range page {
			symbols[i] = map[string]string{"id": id, "uri": resolve.NamespaceSymbol.URI(id)}
		}
		resp := map[string]interface{}{
			"total":    total,
			"offset":   params.Offset,
			"returned": len(page),
			"symbols":  symbols,
		}
		if tier != "" {
			resp["tier"] = tier
		}
		if params.Offset+len(page) < total {
			resp["next_offset"] = params.Offset + len(page)
		}
		return createJSONResponse(resp)
	})
}

func (s *Server) handleReadFile(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic("read_file", func() (*mcp.CallToolResult, error) {
		var params FileParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		f, err := s.core.ReadFile(ctx, params.Pattern)
		if err != nil {
			var amb *arkerrors.AmbiguousError
			if errors.As(err, &amb) {
				return createWarningResponse("read_file", err, map[string]interface{}{"matches": amb.Matches})
			}
			return nil, err
		}
		return createTextResponse([]string{f.Text}), nil
	})
}

func (s *Server) handleListFiles(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic("list_files", func() (*mcp.CallToolResult, error) {
		var params FileParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		if strings.TrimSpace(params.Pattern) == "" {
			params.Pattern = "*"
		}
		files, err := s.core.MatchFiles(ctx, params.Pattern)
		if err != nil {
			return nil, err
		}
		return createJSONResponse(map[string]interface{}{
			"pattern": params.Pattern,
			"count":   len(files),
			"files":   files,
		})
	})
}

func (s *Server) handleArtifactStatus(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic("artifact_status", func() (*mcp.CallToolResult, error) {
		return createJSONResponse(s.core.Stats(ctx))
	})
}

func (s *Server) handleRebuild(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic("rebuild_artifact", func() (*mcp.CallToolResult, error) {
		stats, err := s.core.Rebuild(ctx)
		if err != nil {
			return nil, err
		}
		s.syncResources(ctx)
		return createJSONResponse(map[string]interface{}{
			"success":  true,
			"artifact": stats,
		})
	})
}

func contentTexts(contents []core.Content) []string {
	texts := make([]string, len(contents))
	for i, c := range contents {
		texts[i] = c.Text
	}
	return texts
}

func paginate(ids []string, offset, max int) []string {
	if offset < 0 || offset >= len(ids) || max <= 0 {
		return nil
	}
	if rest := len(ids) - offset; max > rest {
		max = rest
	}
	return ids[offset : offset+max]
}
