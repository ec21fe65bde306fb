// Package easel holds project-wide constants shared by the binary and
// embedders.
package easel

// Version is the release version of the easel module.
const Version = "0.1.0"

// ModulePath is the Go module path.
const ModulePath = "github.com/mesh-intelligence/easel"
