// Package fs abstracts the filesystem calls made by the local blob store so
// that tests can inject write, sync and rename failures.
//
// Production code uses [Default]:
//
//	f, err := fs.Default.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
//
// Tests wrap it with [FaultyFS]:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule(".tmp", fs.Fault{FailOnSync: true})
package fs
