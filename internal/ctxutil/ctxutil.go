// Package ctxutil provides shared context key accessors.
//
// The engine stamps each compile run with an ID before entering the
// pipeline. The paradigm, pattern, and compile stages read it back for
// log correlation instead of threading an extra parameter through every
// signature, and the compiler seals it into the manifest as the
// sequence ID.
package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const keyCompileID contextKey = "compile_id"

// WithCompileID returns a new context carrying the given compile run ID.
func WithCompileID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, keyCompileID, id)
}

// CompileIDFromContext extracts the compile run ID from the context.
// Returns uuid.Nil when no ID has been stamped.
func CompileIDFromContext(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(keyCompileID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}
