package config

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// parseKDLInto overlays the nodes present in content onto cfg. Absent nodes keep their value.
//
//	input { package "main.hap"; disassembly "main.abc.dis" }
//	snapshot { enabled true; path "main_pandare.snap"; compression "zstd" }
//	extract { dir "tmp_extract"; abc_path "ets/modules.abc" }
//	toolchain { disasm "tools/ark_disasm"; timeout_sec 600 }
//	resolve { regex_cache_size 256; suggestions 3 }
//	filetree { watch false }
//	server { name "ArkTS_Assembly_Analysis"; eager_init false; register_resources true; dump "main.pa" }
func parseKDLInto(cfg *Config, content string) error {
	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return fmt.Errorf("failed to parse KDL config: %w", err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "version":
			if v, ok := firstIntArg(n); ok {
				cfg.Version = v
			}
		case "project":
			for _, cn := range n.Children {
				assignSimpleString(cn, "root", func(v string) { cfg.Project.Root = v })
				assignSimpleString(cn, "name", func(v string) { cfg.Project.Name = v })
			}
		case "input":
			for _, cn := range n.Children {
				assignSimpleString(cn, "package", func(v string) { cfg.Input.Package = v })
				assignSimpleString(cn, "disassembly", func(v string) { cfg.Input.Disassembly = v })
			}
		case "snapshot":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "enabled":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Snapshot.Enabled = b
					}
				case "path":
					assignSimpleString(cn, "path", func(v string) { cfg.Snapshot.Path = v })
				case "compression":
					assignSimpleString(cn, "compression", func(v string) { cfg.Snapshot.Compression = strings.ToLower(v) })
				}
			}
		case "extract":
			for _, cn := range n.Children {
				assignSimpleString(cn, "dir", func(v string) { cfg.Extract.Dir = v })
				assignSimpleString(cn, "abc_path", func(v string) { cfg.Extract.AbcPath = filepath.ToSlash(v) })
			}
		case "toolchain":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "disasm":
					assignSimpleString(cn, "disasm", func(v string) { cfg.Toolchain.Disasm = v })
				case "timeout_sec":
					if v, ok := firstIntArg(cn); ok {
						cfg.Toolchain.TimeoutSec = v
					}
				}
			}
		case "resolve":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "regex_cache_size":
					if v, ok := firstIntArg(cn); ok {
						cfg.Resolve.RegexCacheSize = v
					}
				case "suggestions":
					if v, ok := firstIntArg(cn); ok {
						cfg.Resolve.Suggestions = v
					}
				}
			}
		case "filetree":
			for _, cn := range n.Children {
				if nodeName(cn) == "watch" {
					if b, ok := firstBoolArg(cn); ok {
						cfg.FileTree.Watch = b
					}
				}
			}
		case "server":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "name":
					assignSimpleString(cn, "name", func(v string) { cfg.Server.Name = v })
				case "dump":
					assignSimpleString(cn, "dump", func(v string) { cfg.Server.DumpPath = v })
				case "eager_init":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Server.EagerInit = b
					}
				case "register_resources":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Server.RegisterResources = b
					}
				}
			}
		default:
			log.Printf("WARNING: unknown node '%s' in %s", nodeName(n), ConfigFileName)
		}
	}

	return nil
}

// Helper functions leveraging kdl-go document model
func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}
func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}
func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case bool:
		return v, true
	case string:
		return parseBool(v), true
	}
	return false, false
}
func assignSimpleString(n *document.Node, target string, set func(string)) {
	if nodeName(n) == target {
		if s, ok := firstStringArg(n); ok {
			set(s)
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "yes" || s == "1" || s == "on"
}
