package cachestore

import "errors"

// ErrColdMiss is returned by a ColdProvider.Get when the key is absent from
// the remote mirror. Treated as a cache miss by internal/framecache, never
// surfaced as an IOError.
var ErrColdMiss = errors.New("cachestore: cold mirror miss")
