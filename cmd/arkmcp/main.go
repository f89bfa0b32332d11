package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/kokifish/VulnerMCP/internal/config"
	"github.com/kokifish/VulnerMCP/internal/core"
	"github.com/kokifish/VulnerMCP/internal/debug"
	"github.com/kokifish/VulnerMCP/internal/mcp"
	"github.com/kokifish/VulnerMCP/internal/toolchain"
	"github.com/kokifish/VulnerMCP/internal/version"
)

var Version = version.Version

// loadConfigWithOverrides loads configuration and applies CLI flag overrides
func loadConfigWithOverrides(c *cli.Context) (*config.Config, error) {
	configPath := c.String("config")

	cfg, err := config.LoadWithRoot(configPath, c.String("root"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	if input := c.String("input"); input != "" {
		abs, err := filepath.Abs(input)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve input path %q: %w", input, err)
		}
		switch strings.ToLower(filepath.Ext(abs)) {
		case ".dis", ".pa":
			cfg.Input.Disassembly = abs
		default:
			cfg.Input.Package = abs
		}
	}
	if snap := c.String("snapshot"); snap != "" {
		abs, err := filepath.Abs(snap)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve snapshot path %q: %w", snap, err)
		}
		cfg.Snapshot.Path = abs
	}
	if c.Bool("no-snapshot") {
		cfg.Snapshot.Enabled = false
	}
	if dir := c.String("extract-dir"); dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve extract dir %q: %w", dir, err)
		}
		cfg.Extract.Dir = abs
	}
	if disasm := c.String("disasm"); disasm != "" {
		cfg.Toolchain.Disasm = disasm
	}

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newCore builds the service over the stock ark_disasm toolchain.
func newCore(c *cli.Context) (*core.Core, error) {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return nil, err
	}
	tc := toolchain.Default(cfg.Toolchain.Disasm, cfg.Toolchain.TimeoutSec)
	return core.New(cfg, tc, nil)
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:                   "arkmcp",
		Usage:                  "Serve decompiled ArkTS assembly of a HarmonyOS package to AI assistants",
		Version:                Version,
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path",
				Value:   config.ConfigFileName,
			},
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Project root directory (overrides config)",
			},
			&cli.StringFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "Input .hap/.app package or prebuilt .dis disassembly",
			},
			&cli.StringFlag{
				Name:  "snapshot",
				Usage: "Artifact snapshot path",
			},
			&cli.BoolFlag{
				Name:  "no-snapshot",
				Usage: "Neither read nor write the artifact snapshot",
			},
			&cli.StringFlag{
				Name:  "extract-dir",
				Usage: "Directory the package is extracted into",
			},
			&cli.StringFlag{
				Name:  "disasm",
				Usage: "ark_disasm executable",
			},
		},
		Action: func(c *cli.Context) error {
			if isMCPMode() {
				return mcpCommand(c)
			}
			return cli.ShowAppHelp(c)
		},
		Commands: []*cli.Command{
			{
				Name:   "mcp",
				Usage:  "Start MCP (Model Context Protocol) server with stdio transport",
				Action: mcpCommand,
			},
			{
				Name:      "read",
				Usage:     "Print every resource a panda:// or file:// URI resolves to",
				ArgsUsage: "<uri>",
				Action:    readCommand,
			},
			{
				Name:      "related",
				Usage:     "Print the assembly related to a method name, URI or assembly snippet (- reads stdin)",
				ArgsUsage: "<code_or_name>",
				Action:    relatedCommand,
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List method identifiers or modules",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "modules",
						Aliases: []string{"m"},
						Usage:   "List modules with their method counts",
					},
					&cli.BoolFlag{
						Name:    "json",
						Aliases: []string{"j"},
						Usage:   "Output as JSON",
					},
				},
				Action: listCommand,
			},
			{
				Name:      "files",
				Usage:     "List extracted package files matching a gitignore-style pattern",
				ArgsUsage: "[pattern]",
				Action:    filesCommand,
			},
			{
				Name:  "dump",
				Usage: "Write the full lifted listing of the package",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output path (default from server.dump, - for stdout)",
					},
					&cli.BoolFlag{
						Name:  "rebuild",
						Usage: "Discard the snapshot and rebuild first",
					},
				},
				Action: dumpCommand,
			},
			{
				Name:    "status",
				Aliases: []string{"st"},
				Usage:   "Show artifact and snapshot status",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format: text, json or yaml",
						Value:   "text",
					},
					&cli.BoolFlag{
						Name:  "build",
						Usage: "Load or build the artifact before reporting",
					},
				},
				Action: statusCommand,
			},
			{
				Name:  "config",
				Usage: "Configuration management",
				Subcommands: []*cli.Command{
					{
						Name:  "show",
						Usage: "Show the effective configuration",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:    "format",
								Aliases: []string{"f"},
								Usage:   "Output format: kdl, yaml or table",
								Value:   "kdl",
							},
						},
						Action: configShowCommand,
					},
					{
						Name:   "validate",
						Usage:  "Validate the configuration",
						Action: configValidateCommand,
					},
				},
			},
		},
	}
}

func readCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("read requires exactly one URI")
	}
	svc, err := newCore(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	contents, err := svc.ReadURI(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	return printContents(c.App.Writer, contents)
}

func relatedCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("related requires exactly one argument")
	}
	query := c.Args().First()
	if query == "-" {
		data, err := io.ReadAll(c.App.Reader)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		query = string(data)
	}

	svc, err := newCore(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	contents, err := svc.Related(c.Context, query)
	if err != nil {
		return err
	}
	return printContents(c.App.Writer, contents)
}

func printContents(w io.Writer, contents []core.Content) error {
	for i, content := range contents {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if _, err := fmt.Fprint(w, content.Text); err != nil {
			return err
		}
	}
	return nil
}

func listCommand(c *cli.Context) error {
	svc, err := newCore(c)
	if err != nil {
		return err
	}
	defer svc.Close()
	w := c.App.Writer

	if c.Bool("modules") {
		modules, err := svc.Modules(c.Context)
		if err != nil {
			return err
		}
		if c.Bool("json") {
			return writeJSON(w, modules)
		}
		for _, m := range modules {
			fmt.Fprintf(w, "%6d  %s\n", m.Methods, m.Name)
		}
		return nil
	}

	entries, err := svc.ListSymbols(c.Context)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return writeJSON(w, entries)
	}
	for _, e := range entries {
		fmt.Fprintln(w, e.ID)
	}
	return nil
}

func filesCommand(c *cli.Context) error {
	pattern := "*"
	if c.NArg() > 0 {
		pattern = c.Args().First()
	}
	svc, err := newCore(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	files, err := svc.MatchFiles(c.Context, pattern)
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Fprintln(c.App.Writer, f)
	}
	return nil
}

func dumpCommand(c *cli.Context) error {
	svc, err := newCore(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	if c.Bool("rebuild") {
		if _, err := svc.Rebuild(c.Context); err != nil {
			return err
		}
	}
	if c.String("output") == "-" {
		return svc.Dump(c.Context, c.App.Writer)
	}
	path, err := svc.DumpToFile(c.Context, c.String("output"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Listing written to %s\n", path)
	return nil
}

func statusCommand(c *cli.Context) error {
	svc, err := newCore(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	if c.Bool("build") {
		if err := svc.EnsureReady(c.Context); err != nil {
			return err
		}
	}
	stats := svc.Stats(c.Context)
	w := c.App.Writer

	switch c.String("format") {
	case "json":
		return writeJSON(w, stats)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(stats); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", c.String("format"))
	}

	a := stats.Artifact
	fmt.Fprintln(w, version.FullInfo())
	fmt.Fprintf(w, "  Ready:          %t\n", a.Ready)
	fmt.Fprintf(w, "  Source:         %s %s\n", a.Source, a.SourcePath)
	fmt.Fprintf(w, "  Snapshot:       %s\n", a.SnapshotPath)
	fmt.Fprintf(w, "  From snapshot:  %t\n", a.FromSnapshot)
	if a.Ready {
		fmt.Fprintf(w, "  Modules:        %d\n", a.Modules)
		fmt.Fprintf(w, "  Methods:        %d\n", a.Methods)
		fmt.Fprintf(w, "  Build time:     %s\n", a.BuildDuration.Round(time.Millisecond))
	}
	if a.LastError != "" {
		fmt.Fprintf(w, "  Last error:     %s\n", a.LastError)
	}
	fmt.Fprintf(w, "  Extract root:   %s (%d files)\n", stats.ExtractRoot, stats.Files)
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// mcpCommand serves MCP over stdio until stdin closes or a signal arrives.
func mcpCommand(c *cli.Context) error {
	// stdout belongs to the protocol
	debug.SetMCPMode(true)

	svc, err := newCore(c)
	if err != nil {
		return debug.Fatal("failed to initialize: %v\n", err)
	}

	mcpServer, err := mcp.NewServer(svc, svc.Config())
	if err != nil {
		svc.Close()
		return debug.Fatal("failed to create MCP server: %v\n", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		debug.LogMCP("Starting MCP server with stdio transport...\n")
		errChan <- mcpServer.Start(ctx)
	}()

	shutdown := func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		mcpServer.Shutdown(shutdownCtx)
	}

	select {
	case err := <-errChan:
		shutdown()
		if err != nil {
			return debug.Fatal("MCP server error: %v\n", err)
		}
		return nil
	case sig := <-sigChan:
		debug.LogMCP("Received signal %v, shutting down gracefully...\n", sig)
		cancel()

		shutdownTimer := time.NewTimer(2 * time.Second)
		defer shutdownTimer.Stop()

		select {
		case err := <-errChan:
			debug.LogMCP("Server shutdown completed\n")
			shutdown()
			return err
		case <-shutdownTimer.C:
			debug.LogMCP("Graceful shutdown timeout, forcing exit\n")
			// break the stdio transport loop
			os.Stdin.Close()
			shutdown()
			return nil
		}
	}
}

func configShowCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	w := c.App.Writer

	switch c.String("format") {
	case "table":
		displayConfigTable(w, cfg)
		return nil
	case "yaml":
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to convert to YAML: %v", err)
		}
		_, err = w.Write(out)
		return err
	case "kdl", "":
		fmt.Fprint(w, configToKDL(cfg))
		return nil
	default:
		return fmt.Errorf("unknown format %q (want kdl, yaml or table)", c.String("format"))
	}
}

func configValidateCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Configuration is valid (project root %s)\n", cfg.Project.Root)
	return nil
}

func configToKDL(cfg *config.Config) string {
	return fmt.Sprintf(`// Current ArkTS Assembly Analysis configuration

version %d

project {
    name %q
    root %q
}

input {
    package %q
    disassembly %q
}

snapshot {
    enabled %t
    path %q
    compression %q
}

extract {
    dir %q
    abc_path %q
}

toolchain {
    disasm %q
    timeout_sec %d
}

resolve {
    regex_cache_size %d
    suggestions %d
}

filetree {
    watch %t
}

server {
    name %q
    eager_init %t
    register_resources %t
    dump %q
}
`,
		cfg.Version,
		cfg.Project.Name,
		cfg.Project.Root,
		cfg.Input.Package,
		cfg.Input.Disassembly,
		cfg.Snapshot.Enabled,
		cfg.Snapshot.Path,
		cfg.Snapshot.Compression,
		cfg.Extract.Dir,
		cfg.Extract.AbcPath,
		cfg.Toolchain.Disasm,
		cfg.Toolchain.TimeoutSec,
		cfg.Resolve.RegexCacheSize,
		cfg.Resolve.Suggestions,
		cfg.FileTree.Watch,
		cfg.Server.Name,
		cfg.Server.EagerInit,
		cfg.Server.RegisterResources,
		cfg.Server.DumpPath,
	)
}

func displayConfigTable(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "ArkTS Assembly Analysis Configuration\n")
	fmt.Fprintf(w, "=====================================\n\n")

	fmt.Fprintf(w, "Project:\n")
	fmt.Fprintf(w, "  Name:               %s\n", cfg.Project.Name)
	fmt.Fprintf(w, "  Root:               %s\n\n", cfg.Project.Root)

	fmt.Fprintf(w, "Input:\n")
	fmt.Fprintf(w, "  Package:            %s\n", cfg.Input.Package)
	fmt.Fprintf(w, "  Disassembly:        %s\n\n", cfg.Input.Disassembly)

	fmt.Fprintf(w, "Snapshot:\n")
	fmt.Fprintf(w, "  Enabled:            %t\n", cfg.Snapshot.Enabled)
	fmt.Fprintf(w, "  Path:               %s\n", cfg.Snapshot.Path)
	fmt.Fprintf(w, "  Compression:        %s\n\n", cfg.Snapshot.Compression)

	fmt.Fprintf(w, "Extraction:\n")
	fmt.Fprintf(w, "  Dir:                %s\n", cfg.Extract.Dir)
	fmt.Fprintf(w, "  Bytecode:           %s\n", cfg.Extract.AbcPath)
	fmt.Fprintf(w, "  ark_disasm:         %s (timeout %ds)\n\n", cfg.Toolchain.Disasm, cfg.Toolchain.TimeoutSec)

	fmt.Fprintf(w, "Server:\n")
	fmt.Fprintf(w, "  Name:               %s\n", cfg.Server.Name)
	fmt.Fprintf(w, "  Eager init:         %t\n", cfg.Server.EagerInit)
	fmt.Fprintf(w, "  Register resources: %t\n", cfg.Server.RegisterResources)
	fmt.Fprintf(w, "  Watch files:        %t\n", cfg.FileTree.Watch)
}

// isMCPMode detects if arkmcp should enter MCP mode without a subcommand
func isMCPMode() bool {
	if v := os.Getenv("ARKMCP_MCP_MODE"); v == "1" || v == "true" {
		return true
	}

	// Non-terminal stdin (pipes, redirects) is likely JSON-RPC
	stat, err := os.Stdin.Stat()
	if err == nil && (stat.Mode()&os.ModeCharDevice) == 0 {
		return true
	}

	if len(os.Args) > 0 {
		arg0 := strings.ToLower(filepath.Base(os.Args[0]))
		if strings.Contains(arg0, "mcp-server") {
			return true
		}
	}
	return false
}
