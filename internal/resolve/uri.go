package resolve

import (
	"strings"

	arkerrors "github.com/kokifish/VulnerMCP/internal/errors"
)

// Namespace selects which identifier universe a pattern is matched against.
type Namespace int

const (
	NamespaceSymbol Namespace = iota
	NamespaceFile
)

// URI schemes of the two namespaces.
const (
	SymbolScheme = "panda://"
	FileScheme   = "file://"
)

// String returns the scheme name of the namespace.
func (n Namespace) String() string {
	if n == NamespaceFile {
		return "file"
	}
	return "panda"
}

// Scheme returns the URI prefix of the namespace.
func (n Namespace) Scheme() string {
	if n == NamespaceFile {
		return FileScheme
	}
	return SymbolScheme
}

// URI builds the resource URI of a symbol identifier or file path.
func (n Namespace) URI(id string) string {
	return n.Scheme() + Quote(id)
}

// ParseURI splits a resource URI into namespace and pattern. It rejects
// unknown schemes and URIs no longer than their bare scheme prefix.
func ParseURI(uri string) (Namespace, string, error) {
	switch {
	case strings.HasPrefix(uri, SymbolScheme):
		if len(uri) <= len(SymbolScheme) {
			return 0, "", arkerrors.NewMalformedError(uri, "pattern is empty")
		}
		return NamespaceSymbol, uri[len(SymbolScheme):], nil
	case strings.HasPrefix(uri, FileScheme):
		if len(uri) <= len(FileScheme) {
			return 0, "", arkerrors.NewMalformedError(uri, "pattern is empty")
		}
		return NamespaceFile, uri[len(FileScheme):], nil
	case len(uri) <= len(SymbolScheme):
		return 0, "", arkerrors.NewMalformedError(uri, "too short")
	default:
		return 0, "", arkerrors.NewMalformedError(uri, "missing panda:// or file:// scheme")
	}
}

// HasScheme reports whether s starts with a recognized resource scheme.
func HasScheme(s string) bool {
	return strings.HasPrefix(s, SymbolScheme) || strings.HasPrefix(s, FileScheme)
}
