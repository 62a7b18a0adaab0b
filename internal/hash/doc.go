// Package hash provides CRC32-Castagnoli checksums for snapshot integrity.
//
//	checksum := hash.CRC32C(data)
//
//	w := hash.NewWriter(dst)
//	_, _ = w.Write(chunk)
//	sum := w.Sum32()
package hash
