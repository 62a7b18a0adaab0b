// Package snapshot defines the FISHDBC snapshot file format and its storage
// in a blobstore.BlobStore.
//
// A snapshot captures everything the engine needs to resume without
// reprocessing the point history: the point table, the neighbor index
// adjacency, the precise neighbor lists, the spanning-forest edges, the last
// committed dendrogram and the emitted assignments.
//
// # File layout
//
//	offset  size  field
//	0       4     magic "FSNP"
//	4       2     format version
//	6       1     compression (0 none, 1 lz4, 2 zstd)
//	7       1     reserved
//	8       8     raw (uncompressed) body length
//	16      8     stored payload length
//	24      4     CRC32C of the stored payload
//	28      4     CRC32C of bytes 0..27
//	32      ...   payload (msgpack body, possibly compressed)
//
// All integers are little-endian. Decoding fails closed: any header, checksum,
// length or body mismatch returns an error matching ErrSnapshotCorrupt.
//
// # Naming
//
// Blobs are named "snapshot-<seq:020d>-<uuid>.fsnap" so that lexical order
// equals sequence order and Latest needs a single List call.
package snapshot
