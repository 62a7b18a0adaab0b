// Package cache provides a size-bounded LRU cache.
//
// The cache charges every entry by a caller-supplied cost and, when a
// resource.Controller is attached, reserves that cost from the controller's
// memory budget. An entry that cannot be charged is simply not cached.
package cache
