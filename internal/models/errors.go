package models

import "errors"

// ErrNotFound is returned by repositories when the requested row does not exist
// (or, for SKIP LOCKED reads, is currently held by another transaction).
var ErrNotFound = errors.New("not found")
