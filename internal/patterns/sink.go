package patterns

import (
	"context"

	"github.com/Jita81/SelfImprovingRAG/internal/models"
)

// Sink receives the patterns produced by each analysis.
type Sink interface {
	StorePatterns(ctx context.Context, patterns []models.Pattern) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, patterns []models.Pattern) error

// StorePatterns implements Sink.
func (f SinkFunc) StorePatterns(ctx context.Context, patterns []models.Pattern) error {
	return f(ctx, patterns)
}
