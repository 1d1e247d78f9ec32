package persistence

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/neurocodex/codexdb/pkg/core"
	"github.com/neurocodex/codexdb/pkg/engine"
	"github.com/neurocodex/codexdb/pkg/internal/fixture"
)

func buildFixture(t testing.TB) *engine.Store {
	t.Helper()
	s, err := engine.Build(engine.Tables{Rows: fixture.Rows(), LabelsTimestamp: fixture.LabelsTimestamp}, engine.DefaultOptions())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return s
}

func TestCodecEncodeDecodeWithCompression(t *testing.T) {
	codec := NewCodec(true)
	snap := buildFixture(t).Snapshot()

	data, header, err := codec.Encode(snap)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(data) == 0 {
		t.Error("Encoded data should not be empty")
	}

	decoded, got, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Build() != header.Build() {
		t.Errorf("Build id mismatch: expected %s, got %s", header.Build(), got.Build())
	}
	if len(decoded.Neurons) != len(fixture.IDs) {
		t.Errorf("Expected %d neurons, got %d", len(fixture.IDs), len(decoded.Neurons))
	}
	if len(decoded.Connections) != len(snap.Connections) {
		t.Errorf("Expected %d connections, got %d", len(snap.Connections), len(decoded.Connections))
	}
	if decoded.LabelsTimestamp != fixture.LabelsTimestamp {
		t.Errorf("Labels timestamp mismatch: %q", decoded.LabelsTimestamp)
	}
}

func TestCodecEncodeDecodeWithoutCompression(t *testing.T) {
	codec := NewCodec(false)

	data, header, err := codec.Encode(buildFixture(t).Snapshot())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if header.Compressed() {
		t.Error("Uncompressed codec produced a compressed body")
	}

	if _, _, err := codec.Decode(data); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
}

func TestCodecMagicBytes(t *testing.T) {
	codec := NewCodec(false)

	data, _, err := codec.Encode(buildFixture(t).Snapshot())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if string(data[:4]) != MagicBytes {
		t.Errorf("Expected magic %q, got %q", MagicBytes, data[:4])
	}

	data[0] = 'X'
	if _, _, err := codec.Decode(data); !errors.Is(err, core.ErrSnapshotCorrupt) {
		t.Errorf("Expected corrupt snapshot error, got %v", err)
	}
}

func TestCodecDetectsChecksumMismatch(t *testing.T) {
	codec := NewCodec(false)

	data, _, err := codec.Encode(buildFixture(t).Snapshot())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	data[len(data)-1] ^= 0xff

	if _, _, err := codec.Decode(data); !errors.Is(err, core.ErrSnapshotCorrupt) {
		t.Errorf("Expected corrupt snapshot error, got %v", err)
	}
}

func TestCodecRejectsOtherSchema(t *testing.T) {
	codec := NewCodec(true)

	data, _, err := codec.Encode(buildFixture(t).Snapshot())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	// Schema follows magic, version and flags
	binary.LittleEndian.PutUint64(data[8:16], core.SchemaFingerprint()+1)

	_, _, err = codec.Decode(data)
	if !errors.Is(err, core.ErrSnapshotSchemaMismatch) {
		t.Errorf("Expected schema mismatch, got %v", err)
	}
}

func TestCodecShortData(t *testing.T) {
	codec := NewCodec(false)

	if _, _, err := codec.Decode([]byte("CXDB")); !errors.Is(err, core.ErrSnapshotCorrupt) {
		t.Errorf("Expected corrupt snapshot error, got %v", err)
	}
}

func BenchmarkCodecEncode(b *testing.B) {
	codec := NewCodec(true)
	snap := buildFixture(b).Snapshot()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		codec.Encode(snap)
	}
}
