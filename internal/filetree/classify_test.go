package filetree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := map[string]Kind{
		"text/plain; charset=utf-8": KindText,
		"application/json":          KindText,
		"TEXT/HTML":                 KindText,
		"image/png":                 KindImage,
		"audio/mpeg":                KindAudio,
		"video/mp4":                 KindVideo,
		"application/zip":           KindUnknown,
		"":                          KindUnknown,
	}
	for mimeType, want := range tests {
		assert.Equal(t, want, KindOf(mimeType), mimeType)
	}
}

func TestClassify(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, data []byte) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, data, 0644))
		return p
	}

	kind, mimeType := Classify(write("module.json", []byte(`{"module":{"name":"entry"}}`)))
	assert.Equal(t, KindText, kind)
	assert.Equal(t, "application/json", mimeType)

	kind, _ = Classify(write("Index.ets", []byte("@Entry\n@Component\nstruct Index {}\n")))
	assert.Equal(t, KindText, kind)

	kind, mimeType = Classify(write("icon.png", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")))
	assert.Equal(t, KindImage, kind)
	assert.Equal(t, "image/png", mimeType)

	kind, mimeType = Classify(write("blob.zzz", []byte{0x00, 0x01, 0x02, 0xfe, 0xff}))
	assert.Equal(t, KindUnknown, kind)
	assert.Equal(t, "UNKNOWN", mimeType)

	kind, _ = Classify(filepath.Join(dir, "missing.zzz"))
	assert.Equal(t, KindUnknown, kind)
}
