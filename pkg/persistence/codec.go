package persistence

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/neurocodex/codexdb/pkg/core"
	"github.com/neurocodex/codexdb/pkg/engine"
)

// Binary format constants
const (
	MagicBytes    = "CXDB"
	FormatVersion = 1
)

// Header precedes the snapshot body.
type Header struct {
	Magic     [4]byte
	Version   uint16
	Flags     uint16
	Schema    uint64
	BuildID   [16]byte
	CreatedAt int64
	DataLen   uint64
	Checksum  uint64
}

const (
	FlagCompressed uint16 = 1 << 0
)

var headerSize = binary.Size(Header{})

// Build returns the build id as a UUID.
func (h Header) Build() uuid.UUID { return uuid.UUID(h.BuildID) }

// Created returns the build time.
func (h Header) Created() time.Time { return time.Unix(h.CreatedAt, 0).UTC() }

// Compressed reports whether the body is gzipped.
func (h Header) Compressed() bool { return h.Flags&FlagCompressed != 0 }

// Codec encodes built datasets as snapshots: a fixed header carrying the
// attribute schema fingerprint followed by a msgpack body.
type Codec struct {
	compress  bool
	compLevel int
}

// NewCodec creates a new codec
func NewCodec(compress bool) *Codec {
	return &Codec{
		compress:  compress,
		compLevel: gzip.BestSpeed,
	}
}

// Encode serializes a snapshot. The body is only kept gzipped when that
// makes it smaller.
func (c *Codec) Encode(snap *engine.Snapshot) ([]byte, Header, error) {
	data, err := msgpack.Marshal(snap)
	if err != nil {
		return nil, Header{}, err
	}

	var flags uint16
	if c.compress {
		compressed, err := c.compressData(data)
		if err != nil {
			return nil, Header{}, err
		}
		if len(compressed) < len(data) {
			data = compressed
			flags |= FlagCompressed
		}
	}

	header := Header{
		Version:   FormatVersion,
		Flags:     flags,
		Schema:    core.SchemaFingerprint(),
		BuildID:   uuid.New(),
		CreatedAt: time.Now().Unix(),
		DataLen:   uint64(len(data)),
		Checksum:  xxhash.Sum64(data),
	}
	copy(header.Magic[:], MagicBytes)

	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(data)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, Header{}, err
	}
	buf.Write(data)
	return buf.Bytes(), header, nil
}

// DecodeHeader reads and checks only the header.
func (c *Codec) DecodeHeader(raw []byte) (Header, error) {
	var header Header
	if len(raw) < headerSize {
		return header, fmt.Errorf("%w: data too short", core.ErrSnapshotCorrupt)
	}
	if err := binary.Read(bytes.NewReader(raw[:headerSize]), binary.LittleEndian, &header); err != nil {
		return header, fmt.Errorf("%w: %v", core.ErrSnapshotCorrupt, err)
	}
	if string(header.Magic[:]) != MagicBytes {
		return header, fmt.Errorf("%w: invalid magic bytes", core.ErrSnapshotCorrupt)
	}
	if header.Version > FormatVersion {
		return header, fmt.Errorf("%w: unsupported format version %d", core.ErrSnapshotCorrupt, header.Version)
	}
	if header.Schema != core.SchemaFingerprint() {
		return header, fmt.Errorf("%w: schema fingerprint %x, expected %x",
			core.ErrSnapshotSchemaMismatch, header.Schema, core.SchemaFingerprint())
	}
	return header, nil
}

// Decode deserializes a snapshot. A snapshot written under another
// attribute schema fails with core.ErrSnapshotSchemaMismatch; any other
// damage fails with core.ErrSnapshotCorrupt.
func (c *Codec) Decode(raw []byte) (*engine.Snapshot, Header, error) {
	header, err := c.DecodeHeader(raw)
	if err != nil {
		return nil, header, err
	}

	data := raw[headerSize:]
	if uint64(len(data)) != header.DataLen {
		return nil, header, fmt.Errorf("%w: body is %d bytes, header says %d",
			core.ErrSnapshotCorrupt, len(data), header.DataLen)
	}
	if xxhash.Sum64(data) != header.Checksum {
		return nil, header, fmt.Errorf("%w: checksum mismatch", core.ErrSnapshotCorrupt)
	}

	if header.Compressed() {
		data, err = c.decompressData(data)
		if err != nil {
			return nil, header, fmt.Errorf("%w: %v", core.ErrSnapshotCorrupt, err)
		}
	}

	var snap engine.Snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, header, fmt.Errorf("%w: %v", core.ErrSnapshotCorrupt, err)
	}
	return &snap, header, nil
}

func (c *Codec) compressData(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.compLevel)
	if err != nil {
		return nil, err
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (c *Codec) decompressData(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}
