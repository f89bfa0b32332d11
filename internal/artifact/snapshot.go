package artifact

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// Snapshot container layout (all integers big endian):
//
//	magic        8 bytes  "ARKSNAP\x00"
//	version      u16
//	type tag     u16 length + bytes ("arkmcp.artifact/v1")
//	compression  u8
//	raw size     u64      size of the uncompressed CBOR payload
//	checksum     32 bytes BLAKE3 of the uncompressed payload
//	payload      rest of the file
const (
	SnapshotMagic   = "ARKSNAP\x00"
	SnapshotVersion = uint16(1)
	SnapshotTypeTag = "arkmcp.artifact/v1"
)

// maxSnapshotPayload bounds the allocation made from an untrusted size field.
const maxSnapshotPayload = 4 << 30

// ErrSnapshotAbsent is returned for every snapshot that must not be trusted:
// missing, empty, truncated, wrong magic/version/type, bad checksum or payload.
var ErrSnapshotAbsent = errors.New("snapshot absent")

// Compression identifies how the snapshot payload is stored.
// The values are written to disk and must not change.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

// String returns the config name of a compression.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a compression from its config name.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown snapshot compression: %q", name)
	}
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	// Core deterministic encoding: the same artifact always yields the same bytes.
	encOpts := cbor.CoreDetEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic("artifact: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 1 << 27,
		MaxMapPairs:      1 << 27,
	}.DecMode()
	if err != nil {
		panic("artifact: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
	if err != nil {
		panic("artifact: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(maxSnapshotPayload))
	if err != nil {
		panic("artifact: zstd decoder initialization failed: " + err.Error())
	}
}

// EncodeSnapshot serializes a into the snapshot container format.
// LZ4 falls back to no compression when the payload does not shrink.
func EncodeSnapshot(a *Artifact, comp Compression) ([]byte, error) {
	payload, err := encMode.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	sum := blake3.Sum256(payload)

	body, comp, err := compressPayload(payload, comp)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(SnapshotMagic) + 2 + 2 + len(SnapshotTypeTag) + 1 + 8 + len(sum) + len(body))
	buf.WriteString(SnapshotMagic)
	_ = binary.Write(&buf, binary.BigEndian, SnapshotVersion)
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(SnapshotTypeTag)))
	buf.WriteString(SnapshotTypeTag)
	buf.WriteByte(byte(comp))
	_ = binary.Write(&buf, binary.BigEndian, uint64(len(payload)))
	buf.Write(sum[:])
	buf.Write(body)
	return buf.Bytes(), nil
}

func compressPayload(payload []byte, comp Compression) ([]byte, Compression, error) {
	switch comp {
	case CompressionNone:
		return payload, CompressionNone, nil
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(payload)))
		n, err := lz4.CompressBlock(payload, dst, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 || n >= len(payload) {
			return payload, CompressionNone, nil
		}
		return dst[:n], CompressionLZ4, nil
	case CompressionZstd:
		return zstdEncoder.EncodeAll(payload, nil), CompressionZstd, nil
	default:
		return nil, 0, fmt.Errorf("unsupported compression: %s", comp)
	}
}

// DecodeSnapshot parses a snapshot container. Any defect is reported as
// ErrSnapshotAbsent wrapped with the reason.
func DecodeSnapshot(data []byte) (*Artifact, error) {
	r := bytes.NewReader(data)
	absent := func(reason string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrSnapshotAbsent, fmt.Sprintf(reason, args...))
	}

	if len(data) == 0 {
		return nil, absent("empty file")
	}
	magic := make([]byte, len(SnapshotMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != SnapshotMagic {
		return nil, absent("bad magic")
	}
	var version, tagLen uint16
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, absent("truncated header")
	}
	if version != SnapshotVersion {
		return nil, absent("version %d, want %d", version, SnapshotVersion)
	}
	if err := binary.Read(r, binary.BigEndian, &tagLen); err != nil {
		return nil, absent("truncated header")
	}
	tag := make([]byte, tagLen)
	if _, err := io.ReadFull(r, tag); err != nil {
		return nil, absent("truncated type tag")
	}
	if string(tag) != SnapshotTypeTag {
		return nil, absent("type %q, want %q", tag, SnapshotTypeTag)
	}
	compByte, err := r.ReadByte()
	if err != nil {
		return nil, absent("truncated header")
	}
	var rawSize uint64
	if err := binary.Read(r, binary.BigEndian, &rawSize); err != nil {
		return nil, absent("truncated header")
	}
	if rawSize > maxSnapshotPayload {
		return nil, absent("payload size %d too large", rawSize)
	}
	var sum [32]byte
	if _, err := io.ReadFull(r, sum[:]); err != nil {
		return nil, absent("truncated checksum")
	}
	body := data[len(data)-r.Len():]

	payload, err := decompressPayload(body, Compression(compByte), int(rawSize))
	if err != nil {
		return nil, absent("%v", err)
	}
	if blake3.Sum256(payload) != sum {
		return nil, absent("checksum mismatch")
	}

	a := New()
	if err := decMode.Unmarshal(payload, a); err != nil {
		return nil, absent("decode artifact: %v", err)
	}
	if a.Modules == nil {
		return nil, absent("no modules")
	}
	return a, nil
}

func decompressPayload(body []byte, comp Compression, rawSize int) ([]byte, error) {
	switch comp {
	case CompressionNone:
		if len(body) != rawSize {
			return nil, fmt.Errorf("payload size %d, want %d", len(body), rawSize)
		}
		return body, nil
	case CompressionLZ4:
		// an lz4 block expands at most ~255x; larger claims are corrupt
		if rawSize > 255*len(body)+16 {
			return nil, fmt.Errorf("lz4 payload size %d implausible for %d bytes", rawSize, len(body))
		}
		dst := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(body, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != rawSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, want %d", n, rawSize)
		}
		return dst, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != rawSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, want %d", len(out), rawSize)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown compression %s", comp)
	}
}

// SaveSnapshot writes a to path atomically (temp file + rename).
func SaveSnapshot(path string, a *Artifact, comp Compression) error {
	data, err := EncodeSnapshot(a, comp)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads and decodes the snapshot at path. A missing file is
// ErrSnapshotAbsent like any other untrusted content.
func LoadSnapshot(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrSnapshotAbsent, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrSnapshotAbsent, err)
	}
	return DecodeSnapshot(data)
}
