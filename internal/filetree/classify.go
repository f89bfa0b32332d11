package filetree

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Kind is the short content class of a file entry.
type Kind string

const (
	KindText    Kind = "text"
	KindImage   Kind = "image"
	KindAudio   Kind = "audio"
	KindVideo   Kind = "video"
	KindUnknown Kind = "UNKNOWN"
)

const octetStream = "application/octet-stream"

// textLike lists non text/* types that are served as text.
var textLike = map[string]bool{
	"application/json": true,
}

// KindOf maps a MIME type to its short kind.
func KindOf(mimeType string) Kind {
	mimeType = baseType(mimeType)
	switch {
	case textLike[mimeType], strings.HasPrefix(mimeType, "text/"):
		return KindText
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage
	case strings.HasPrefix(mimeType, "audio/"):
		return KindAudio
	case strings.HasPrefix(mimeType, "video/"):
		return KindVideo
	default:
		return KindUnknown
	}
}

// Classify sniffs the file content and falls back to the extension when
// sniffing fails or only yields a generic binary type.
func Classify(path string) (Kind, string) {
	if m, err := mimetype.DetectFile(path); err == nil {
		if t := baseType(m.String()); t != octetStream {
			return KindOf(t), t
		}
	}
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		t = baseType(t)
		return KindOf(t), t
	}
	return KindUnknown, string(KindUnknown)
}

func baseType(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
