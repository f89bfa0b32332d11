package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error types for the resource resolution core
type ErrorType string

const (
	// Lifecycle errors
	ErrorTypeUninitialized ErrorType = "uninitialized"
	ErrorTypeBuild         ErrorType = "build"

	// Request errors
	ErrorTypeMalformed       ErrorType = "malformed"
	ErrorTypeNoMatch         ErrorType = "no_match"
	ErrorTypeUnsupportedKind ErrorType = "unsupported_kind"
	ErrorTypeAmbiguous       ErrorType = "ambiguous"

	// Configuration errors
	ErrorTypeConfig ErrorType = "config"
)

// ResourceHint is appended to request errors so callers can fix encoding mistakes.
const ResourceHint = "Valid resource URL example: panda://Index%26.%23%2A%23 (for specific match of Index&.#*# using URL encoding), " +
	"panda://*module_name* (for wildcard matching of all methods in module/class named `module_name`). " +
	"Check URL encoding or use wildcard matching if it still failed."

// FileHint is appended to file namespace no-match errors.
const FileHint = "Try to use a file name without path, or list the raw files to check if the path is right."

// Sentinels for errors.Is checks across the taxonomy
var (
	ErrUninitialized   = errors.New("artifact not initialized")
	ErrMalformed       = errors.New("malformed resource request")
	ErrNoMatch         = errors.New("no matching resource")
	ErrUnsupportedKind = errors.New("unsupported content kind")
	ErrAmbiguous       = errors.New("ambiguous resource match")
)

// BuildError represents a failure while building or loading the artifact
type BuildError struct {
	Type       ErrorType
	Stage      string
	Path       string
	Underlying error
	Timestamp  time.Time
}

// NewBuildError creates a new build error for the given stage
func NewBuildError(stage, path string, err error) *BuildError {
	return &BuildError{
		Type:       ErrorTypeBuild,
		Stage:      stage,
		Path:       path,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *BuildError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s failed for %s: %v", e.Type, e.Stage, e.Path, e.Underlying)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Type, e.Stage, e.Underlying)
}

// Unwrap returns the underlying error for errors.Is/As
func (e *BuildError) Unwrap() error {
	return e.Underlying
}

// MalformedError is returned before any index access when a URI cannot be used
type MalformedError struct {
	Type      ErrorType
	URI       string
	Reason    string
	Timestamp time.Time
}

// NewMalformedError creates a new malformed request error
func NewMalformedError(uri, reason string) *MalformedError {
	return &MalformedError{
		Type:      ErrorTypeMalformed,
		URI:       uri,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface
func (e *MalformedError) Error() string {
	return fmt.Sprintf("invalid resource path %q: %s. %s", e.URI, e.Reason, ResourceHint)
}

// Is reports ErrMalformed equivalence
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformed
}

// NoMatchError carries the original pattern and every tier that was tried
type NoMatchError struct {
	Type        ErrorType
	Namespace   string
	Pattern     string
	Attempted   []string
	Suggestions []string
	Timestamp   time.Time
}

// NewNoMatchError creates a new no-match error
func NewNoMatchError(namespace, pattern string, attempted []string) *NoMatchError {
	return &NoMatchError{
		Type:      ErrorTypeNoMatch,
		Namespace: namespace,
		Pattern:   pattern,
		Attempted: attempted,
		Timestamp: time.Now(),
	}
}

// WithSuggestions attaches nearby identifiers to the error
func (e *NoMatchError) WithSuggestions(s []string) *NoMatchError {
	e.Suggestions = s
	return e
}

// Error implements the error interface
func (e *NoMatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "no matching %s resource for pattern %q (tried: %s)",
		e.Namespace, e.Pattern, strings.Join(e.Attempted, ", "))
	if len(e.Suggestions) > 0 {
		fmt.Fprintf(&b, "; did you mean: %s", strings.Join(e.Suggestions, ", "))
	}
	if e.Namespace == "file" {
		b.WriteString(". " + FileHint)
	} else {
		b.WriteString(". " + ResourceHint)
	}
	return b.String()
}

// Is reports ErrNoMatch equivalence
func (e *NoMatchError) Is(target error) bool {
	return target == ErrNoMatch
}

// UnsupportedKindError is returned when a file match is not text
type UnsupportedKindError struct {
	Type      ErrorType
	Pattern   string
	Path      string
	Kind      string
	MimeType  string
	Timestamp time.Time
}

// NewUnsupportedKindError creates a new unsupported content kind error
func NewUnsupportedKindError(pattern, path, kind, mimeType string) *UnsupportedKindError {
	return &UnsupportedKindError{
		Type:      ErrorTypeUnsupportedKind,
		Pattern:   pattern,
		Path:      path,
		Kind:      kind,
		MimeType:  mimeType,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface
func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("file %s matched %s, but the mime type %s (%s) is not supported", e.Pattern, e.Path, e.MimeType, e.Kind)
}

// Is reports ErrUnsupportedKind equivalence
func (e *UnsupportedKindError) Is(target error) bool {
	return target == ErrUnsupportedKind
}

// AmbiguousError is a warning-class outcome: the caller must disambiguate
type AmbiguousError struct {
	Type      ErrorType
	Pattern   string
	Matches   []string
	Timestamp time.Time
}

// NewAmbiguousError creates a new ambiguous match error
func NewAmbiguousError(pattern string, matches []string) *AmbiguousError {
	return &AmbiguousError{
		Type:      ErrorTypeAmbiguous,
		Pattern:   pattern,
		Matches:   matches,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface
func (e *AmbiguousError) Error() string {
	const shown = 10
	list := e.Matches
	suffix := ""
	if len(list) > shown {
		list = list[:shown]
		suffix = fmt.Sprintf(", ... (%d more)", len(e.Matches)-shown)
	}
	return fmt.Sprintf("file pattern %s matched %d files, use a more specific pattern: %s%s",
		e.Pattern, len(e.Matches), strings.Join(list, ", "), suffix)
}

// Is reports ErrAmbiguous equivalence
func (e *AmbiguousError) Is(target error) bool {
	return target == ErrAmbiguous
}

// IsWarning reports whether err is a warning-class outcome rather than a failure
func IsWarning(err error) bool {
	return errors.Is(err, ErrAmbiguous)
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field      string
	Value      string
	Underlying error
	Timestamp  time.Time
}

// NewConfigError creates a new config error
func NewConfigError(field, value string, err error) *ConfigError {
	return &ConfigError{
		Field:      field,
		Value:      value,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for field %s (value %s): %v", e.Field, e.Value, e.Underlying)
}

// Unwrap returns the underlying error
func (e *ConfigError) Unwrap() error {
	return e.Underlying
}

// MultiError represents multiple errors
type MultiError struct {
	Errors []error
}

// NewMultiError creates a new multi-error
func NewMultiError(errs []error) *MultiError {
	// Filter out nil errors
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	return &MultiError{Errors: filtered}
}

// Error implements the error interface
func (e *MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
}

// Unwrap returns all errors
func (e *MultiError) Unwrap() []error {
	return e.Errors
}

// TypeOf returns the taxonomy type of err, or "" when it is not one of ours
func TypeOf(err error) ErrorType {
	var (
		be *BuildError
		me *MalformedError
		ne *NoMatchError
		ue *UnsupportedKindError
		ae *AmbiguousError
		ce *ConfigError
	)
	switch {
	case errors.Is(err, ErrUninitialized):
		return ErrorTypeUninitialized
	case errors.As(err, &me):
		return me.Type
	case errors.As(err, &ne):
		return ne.Type
	case errors.As(err, &ue):
		return ue.Type
	case errors.As(err, &ae):
		return ae.Type
	case errors.As(err, &be):
		return be.Type
	case errors.As(err, &ce):
		return ErrorTypeConfig
	}
	return ""
}
