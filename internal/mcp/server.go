package mcp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	_ "net/http/pprof"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kokifish/VulnerMCP/internal/config"
	"github.com/kokifish/VulnerMCP/internal/core"
	"github.com/kokifish/VulnerMCP/internal/version"
)

const serverInstructions = "Resources expose ArkTS assembly of a HarmonyOS package. " +
	"panda://<module>.<method> reads decompiled methods (URL-encode special characters, * is a wildcard). " +
	"file://<pattern> reads one text file from the extracted package using gitignore-style patterns."

// Server adapts a core.Core to the Model Context Protocol.
type Server struct {
	core             *core.Core
	cfg              *config.Config
	server           *mcp.Server
	diagnosticLogger *DiagnosticLogger

	resMu          sync.Mutex
	registeredGen  uint64
	registeredURIs []string
}

// NewServer creates a new MCP server over c. Diagnostics go to a log file so
// stdio stays clean for the protocol.
func NewServer(c *core.Core, cfg *config.Config) (*Server, error) {
	return NewServerWithLogger(c, cfg, NewDiagnosticLogger(true))
}

// NewServerWithLogger is NewServer with an explicit diagnostic logger.
func NewServerWithLogger(c *core.Core, cfg *config.Config, dl *DiagnosticLogger) (*Server, error) {
	if c == nil {
		return nil, fmt.Errorf("core is required")
	}
	if cfg == nil {
		cfg = c.Config()
	}
	if dl == nil {
		dl = NoOpLogger
	}

	name := cfg.Server.Name
	if name == "" {
		name = config.DefaultServerName
	}
	s := &Server{
		core:             c,
		cfg:              cfg,
		diagnosticLogger: dl,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    name,
			Version: version.Version,
		}, &mcp.ServerOptions{
			Instructions: serverInstructions,
		}),
	}

	s.registerResourceTemplates()
	s.registerTools()
	dl.Printf("MCP server %q initialized (register_resources=%v, eager_init=%v)",
		name, cfg.Server.RegisterResources, cfg.Server.EagerInit)
	return s, nil
}

func (s *Server) registerResourceTemplates() {
	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        "panda_method",
		Title:       "ArkTS method assembly",
		Description: "Assembly of every method matching the pattern. Exact names first, then * wildcards, then substrings.",
		URITemplate: "panda://{+pattern}",
		MIMEType:    "text/plain",
	}, s.handleReadResource)

	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        "extracted_file",
		Title:       "Extracted package file",
		Description: "A single text file of the extracted package selected by a gitignore-style pattern.",
		URITemplate: "file://{+pattern}",
		MIMEType:    "text/plain",
	}, s.handleReadResource)
}

func (s *Server) registerTools() {
	s.server.AddTool(&mcp.Tool{
		Name: "get_resource_related",
		Description: "Get the assembly related to a method name, a panda:// or file:// URI, or a snippet of assembly code. " +
			"For assembly snippets every referenced method is returned.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"code_or_name": {
					Type:        "string",
					Description: "Qualified method name (module.method, * allowed), resource URI, or assembly text",
				},
			},
			Required: []string{"code_or_name"},
		},
	}, s.handleRelated)

	s.server.AddTool(&mcp.Tool{
		Name:        "read_resource",
		Description: "Read a panda:// or file:// resource for clients without resource support.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"uri": {
					Type:        "string",
					Description: "Resource URI, e.g. panda://Index%26.%23%2A%23 or file://module.json",
				},
			},
			Required: []string{"uri"},
		},
	}, s.handleReadResourceTool)

	s.server.AddTool(&mcp.Tool{
		Name:        "list_modules",
		Description: "List every module of the decompiled package with its method count.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{},
		},
	}, s.handleListModules)

	s.server.AddTool(&mcp.Tool{
		Name:        "list_symbols",
		Description: "List method identifiers and their resource URIs, optionally filtered by a pattern.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"pattern": {
					Type:        "string",
					Description: "Optional pattern resolved like a panda:// URI",
				},
				"offset": {
					Type:        "integer",
					Description: "Number of entries to skip",
				},
				"max": {
					Type:        "integer",
					Description: "Maximum entries to return (default 200)",
				},
			},
		},
	}, s.handleListSymbols)

	s.server.AddTool(&mcp.Tool{
		Name:        "read_file",
		Description: "Read one text file of the extracted package. The pattern uses gitignore semantics and must match exactly one file.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"pattern": {
					Type:        "string",
					Description: "gitignore-style pattern, e.g. module.json or resources/**/*.json",
				},
			},
			Required: []string{"pattern"},
		},
	}, s.handleReadFile)

	s.server.AddTool(&mcp.Tool{
		Name:        "list_files",
		Description: "List extracted package files matching a gitignore-style pattern.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"pattern": {
					Type:        "string",
					Description: "gitignore-style pattern (default *)",
				},
			},
		},
	}, s.handleListFiles)

	s.server.AddTool(&mcp.Tool{
		Name:        "artifact_status",
		Description: "Report whether the artifact is ready, where it came from and how large it is. Never triggers a build.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{},
		},
	}, s.handleArtifactStatus)

	s.server.AddTool(&mcp.Tool{
		Name:        "rebuild_artifact",
		Description: "Discard the snapshot and rebuild the artifact from the input package.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{},
		},
	}, s.handleRebuild)
}

// syncResources registers one concrete resource per identifier once the
// artifact is ready, replacing the previous set after a rebuild.
func (s *Server) syncResources(ctx context.Context) {
	if !s.cfg.Server.RegisterResources || !s.core.Ready() {
		return
	}
	s.resMu.Lock()
	defer s.resMu.Unlock()

	gen := s.core.Generation()
	if gen == s.registeredGen {
		return
	}
	entries, err := s.core.ListSymbols(ctx)
	if err != nil {
		s.diagnosticLogger.Errorf("listing symbols for resource registration: %v", err)
		return
	}
	if len(s.registeredURIs) > 0 {
		s.server.RemoveResources(s.registeredURIs...)
	}
	uris := make([]string, 0, len(entries))
	skipped := 0
	for _, e := range entries {
		// AddResource panics on URIs net/url rejects, e.g. %26 in the host
		// part of panda://%26entry/...; the template still serves those.
		if _, err := url.Parse(e.URI); err != nil {
			skipped++
			continue
		}
		s.server.AddResource(&mcp.Resource{
			URI:      e.URI,
			Name:     e.ID,
			MIMEType: "text/plain",
		}, s.handleReadResource)
		uris = append(uris, e.URI)
	}
	s.registeredURIs = uris
	s.registeredGen = gen
	s.diagnosticLogger.Printf("registered %d method resources, %d served by template only (generation %d)",
		len(uris), skipped, gen)
}

// warmUp builds the artifact ahead of the first request.
func (s *Server) warmUp(ctx context.Context) {
	start := time.Now()
	if err := s.core.EnsureReady(ctx); err != nil {
		s.diagnosticLogger.Errorf("eager initialization failed: %v", err)
		return
	}
	s.diagnosticLogger.Printf("eager initialization finished in %s", time.Since(start))
	s.syncResources(ctx)
}

// recoverFromPanic provides panic recovery middleware for MCP operations
func (s *Server) recoverFromPanic(operation string, handler func() (*mcp.CallToolResult, error)) (result *mcp.CallToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.diagnosticLogger.Errorf("PANIC RECOVERED in %s: %v", operation, r)
			s.diagnosticLogger.Printf("Stack trace: %s", debug.Stack())

			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			s.diagnosticLogger.Printf("Memory stats - Alloc: %d KB, Sys: %d KB, NumGC: %d",
				m.Alloc/1024, m.Sys/1024, m.NumGC)

			result, err = createErrorResponse(operation, fmt.Errorf("internal error: %v", r))
		}
	}()

	result, err = handler()
	if err != nil {
		s.diagnosticLogger.Printf("Error in %s: %v", operation, err)
		return createErrorResponse(operation, err)
	}
	return result, nil
}

// Start serves the protocol over stdio until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.diagnosticLogger.Printf("Starting MCP server with stdio transport")

	if pprofPort := os.Getenv("ARKMCP_PPROF_PORT"); pprofPort != "" {
		go func() {
			s.diagnosticLogger.Printf("Starting pprof server on http://localhost:%s/debug/pprof/", pprofPort)
			if err := http.ListenAndServe("localhost:"+pprofPort, nil); err != nil {
				s.diagnosticLogger.Printf("pprof server error: %v", err)
			}
		}()
	}

	if s.cfg.Server.EagerInit {
		go s.warmUp(ctx)
	}

	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Connect serves one session over transport. Used by tests and embedders.
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	return s.server.Connect(ctx, transport, nil)
}

// Shutdown gracefully shuts down the server and its components
func (s *Server) Shutdown(ctx context.Context) error {
	s.diagnosticLogger.Printf("Shutting down MCP server...")
	if err := s.core.Close(); err != nil {
		s.diagnosticLogger.Printf("Error closing core: %v", err)
	}
	s.diagnosticLogger.Printf("MCP server shutdown complete")
	return s.diagnosticLogger.Close()
}
