// Package ports defines interfaces (contracts) between layers.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Build Ports
// -----------------------------------------------------------------------------

// CompileRequest is what the external build executor receives.
type CompileRequest struct {
	BuildID string
	Profile string
	// Config is the effective configuration, JSON encoded.
	Config []byte
	// OutputDir is where the executor writes bundles.
	OutputDir string
	// WorkDir is the project root.
	WorkDir string
}

// Compiler runs the external compiler/transpiler over the effective
// configuration. Its failures are opaque and never retried.
type Compiler interface {
	Compile(ctx context.Context, req CompileRequest) error
}

// Transform is one named step of an asset pipeline.
type Transform interface {
	Name() string
	// Apply transforms the content of the file at path.
	Apply(ctx context.Context, path string, in []byte) ([]byte, error)
}

// TransformRegistry resolves transform names used in asset rules.
type TransformRegistry interface {
	Lookup(name string) (Transform, bool)
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// AssetSize is the size of one emitted asset in a build.
type AssetSize struct {
	Source string
	Output string
	Bytes  int64
}

// BuildRecord summarizes one finished build.
type BuildRecord struct {
	ID         string
	Profile    string
	StartedAt  time.Time
	FinishedAt time.Time
	Succeeded  bool
	Error      string
	Assets     []AssetSize
}

// HistoryStore persists build records for size tracking.
type HistoryStore interface {
	// Record stores a finished build and its assets.
	Record(ctx context.Context, b BuildRecord) error

	// Latest returns up to n most recent successful builds of a profile,
	// newest first, with their assets.
	Latest(ctx context.Context, profile string, n int) ([]BuildRecord, error)
}
