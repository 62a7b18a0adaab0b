// Package resource governs the resources spent on precise rescoring.
//
// A Controller bounds three things:
//
//   - Memory: bytes held by resolved precise representations (non-blocking, fail-fast)
//   - Concurrency: in-flight precise rescoring calls (weighted semaphore)
//   - Rate: precise rescoring calls per second (token bucket)
//
// Usage:
//
//	rc := resource.NewController(resource.Config{
//	    MaxConcurrentCalls: 8,
//	    CallsPerSecond:     200,
//	})
//
//	if err := rc.AcquireCall(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseCall()
//
// All methods are safe for concurrent use and handle a nil Controller as
// "unlimited".
package resource
