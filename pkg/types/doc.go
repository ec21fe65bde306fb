// Package types defines the canvas entity types, the Store, Merger and
// MetadataCache interfaces, request/result shapes, and the standard error
// values shared by every easel backend and service.
package types
