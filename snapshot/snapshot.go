package snapshot

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/hupe1980/fishdbc/blobstore"
	"github.com/hupe1980/fishdbc/internal/hash"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// Magic identifies snapshot files (ASCII "FSNP").
	Magic uint32 = 0x504E5346
	// Version is the current format version.
	Version uint16 = 1
	// HeaderSize is the fixed header length in bytes.
	HeaderSize = 32

	// Prefix is the blob name prefix of every snapshot.
	Prefix = "snapshot-"
	// Ext is the blob name extension of every snapshot.
	Ext = ".fsnap"

	maxBodyLen = 1 << 34
)

// Header is the decoded fixed-size snapshot header.
type Header struct {
	Version     uint16
	Compression Compression
	RawLen      uint64
	PayloadLen  uint64
	Checksum    uint32
}

// Encode serializes st with the requested compression. LZ4 falls back to no
// compression when the body is incompressible.
func Encode(st *State, c Compression) ([]byte, error) {
	body, err := msgpack.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode body: %w", err)
	}
	payload, used, err := compress(body, c)
	if err != nil {
		return nil, fmt.Errorf("snapshot: compress: %w", err)
	}

	out := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(out[0:4], Magic)
	binary.LittleEndian.PutUint16(out[4:6], Version)
	out[6] = byte(used)
	binary.LittleEndian.PutUint64(out[8:16], uint64(len(body)))
	binary.LittleEndian.PutUint64(out[16:24], uint64(len(payload)))
	binary.LittleEndian.PutUint32(out[24:28], hash.CRC32C(payload))
	binary.LittleEndian.PutUint32(out[28:32], hash.CRC32C(out[:28]))
	copy(out[HeaderSize:], payload)
	return out, nil
}

// DecodeHeader validates and returns the header of data.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, corrupt("truncated header: %d bytes", len(data))
	}
	if m := binary.LittleEndian.Uint32(data[0:4]); m != Magic {
		return Header{}, corrupt("invalid magic 0x%08x", m)
	}
	if want, got := binary.LittleEndian.Uint32(data[28:32]), hash.CRC32C(data[:28]); want != got {
		return Header{}, &ChecksumMismatchError{Section: "header", Expected: want, Actual: got}
	}
	h := Header{
		Version:     binary.LittleEndian.Uint16(data[4:6]),
		Compression: Compression(data[6]),
		RawLen:      binary.LittleEndian.Uint64(data[8:16]),
		PayloadLen:  binary.LittleEndian.Uint64(data[16:24]),
		Checksum:    binary.LittleEndian.Uint32(data[24:28]),
	}
	if h.Version != Version {
		return Header{}, corrupt("unsupported version %d", h.Version)
	}
	if h.RawLen > maxBodyLen {
		return Header{}, corrupt("body length %d exceeds limit", h.RawLen)
	}
	if h.PayloadLen != uint64(len(data)-HeaderSize) {
		return Header{}, corrupt("payload length %d, file holds %d", h.PayloadLen, len(data)-HeaderSize)
	}
	return h, nil
}

// Decode validates data and returns the snapshot body.
func Decode(data []byte) (*State, Header, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return nil, Header{}, err
	}
	payload := data[HeaderSize:]
	if got := hash.CRC32C(payload); got != h.Checksum {
		return nil, Header{}, &ChecksumMismatchError{Section: "payload", Expected: h.Checksum, Actual: got}
	}
	body, err := decompress(payload, h.Compression, h.RawLen)
	if err != nil {
		return nil, Header{}, err
	}
	st := &State{}
	if err := msgpack.Unmarshal(body, st); err != nil {
		return nil, Header{}, corrupt("decode body: %v", err)
	}
	if err := validate(st); err != nil {
		return nil, Header{}, err
	}
	return st, h, nil
}

func validate(st *State) error {
	n := len(st.Points)
	if len(st.Index.Nodes) > n {
		return corrupt("index holds %d nodes for %d points", len(st.Index.Nodes), n)
	}
	if len(st.Reach.Lists) > n {
		return corrupt("reachability holds %d lists for %d points", len(st.Reach.Lists), n)
	}
	for _, e := range st.Forest {
		if int(e.A) >= n || int(e.B) >= n || e.A == e.B {
			return corrupt("forest edge (%d,%d) out of range", e.A, e.B)
		}
	}
	if len(st.Dendrogram) > 0 && len(st.Dendrogram) != n-1 {
		return corrupt("dendrogram holds %d merges for %d points", len(st.Dendrogram), n)
	}
	seen := make(map[string]struct{}, n)
	for _, p := range st.Points {
		if _, dup := seen[p.ID]; dup {
			return corrupt("duplicate point %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.Seq > st.Seq {
			return corrupt("point %q sequence %d beyond snapshot sequence %d", p.ID, p.Seq, st.Seq)
		}
	}
	return nil
}

// Name returns a fresh blob name for a snapshot at seq.
func Name(seq uint64) string {
	return fmt.Sprintf("%s%020d-%s%s", Prefix, seq, uuid.NewString(), Ext)
}

// ParseName extracts the sequence from a snapshot blob name.
func ParseName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, Prefix) || !strings.HasSuffix(name, Ext) {
		return 0, false
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(name, Prefix), Ext)
	seqPart, id, ok := strings.Cut(rest, "-")
	if !ok || len(seqPart) != 20 {
		return 0, false
	}
	if _, err := uuid.Parse(id); err != nil {
		return 0, false
	}
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// Write encodes st and stores it under a new name, which it returns.
func Write(ctx context.Context, store blobstore.BlobStore, st *State, c Compression) (string, error) {
	data, err := Encode(st, c)
	if err != nil {
		return "", err
	}
	name := Name(st.Seq)
	if err := store.Put(ctx, name, data); err != nil {
		return "", fmt.Errorf("snapshot: put %s: %w", name, err)
	}
	return name, nil
}

// List returns the snapshot names in the store, oldest first.
func List(ctx context.Context, store blobstore.BlobStore) ([]string, error) {
	names, err := store.List(ctx, Prefix)
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		if _, ok := ParseName(n); ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// Latest returns the name of the newest snapshot.
func Latest(ctx context.Context, store blobstore.BlobStore) (string, error) {
	names, err := List(ctx, store)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", ErrNoSnapshot
	}
	return names[len(names)-1], nil
}

// Load reads and decodes the named snapshot.
func Load(ctx context.Context, store blobstore.BlobStore, name string) (*State, Header, error) {
	data, err := blobstore.ReadAll(ctx, store, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, Header{}, fmt.Errorf("snapshot: %s: %w", name, err)
		}
		return nil, Header{}, err
	}
	st, h, err := Decode(data)
	if err != nil {
		return nil, Header{}, fmt.Errorf("%s: %w", name, err)
	}
	return st, h, nil
}

// Prune deletes all but the newest keep snapshots.
func Prune(ctx context.Context, store blobstore.BlobStore, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}
	names, err := List(ctx, store)
	if err != nil {
		return 0, err
	}
	removed := 0
	for i := 0; i < len(names)-keep; i++ {
		if err := store.Delete(ctx, names[i]); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
