// Package mmap maps snapshot files read-only into memory.
//
//	m, err := mmap.Open("snapshot-00000000000000000042-....fsnap")
//	if err != nil { ... }
//	defer m.Close()
//
//	m.Advise(mmap.AccessSequential)
//	data := m.Bytes() // valid until Close
//
// Unix platforms use mmap(2) and madvise(2). Elsewhere the file is read into
// memory and Advise is a no-op.
package mmap
