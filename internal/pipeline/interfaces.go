package pipeline

import (
	"context"

	"github.com/vietddude/relay/internal/core/domain"
)

// QueryDescriptor narrows what the source yields. Resumption is
// expressed through ResumeAfter, not by rewinding an iterator.
type QueryDescriptor struct {
	Dataset  string `yaml:"dataset"`
	Filter   string `yaml:"filter"`
	PageSize int    `yaml:"page_size"`

	// ResumeAfter instructs the source to skip chunks whose sequence
	// number is <= this watermark. Zero or negative means from the
	// beginning.
	ResumeAfter int64 `yaml:"-"`
}

// ChunkIterator yields chunks lazily and finitely. Next returns
// (nil, nil) once the source is exhausted.
type ChunkIterator interface {
	Next(ctx context.Context) (*domain.Chunk, error)
}

// Source produces ordered chunks of records for a query descriptor.
type Source interface {
	Open(ctx context.Context, q QueryDescriptor) (ChunkIterator, error)

	// EstimateSize is best-effort and used only for progress
	// reporting, never correctness.
	EstimateSize(ctx context.Context, q QueryDescriptor) (int64, error)
}

// Sink persists chunks. Write must be idempotent: the retry policy
// may re-invoke it after a partial failure of unknown extent.
type Sink interface {
	EnsureSchema(ctx context.Context, target string) error
	Write(ctx context.Context, chunk *domain.Chunk) (int, error)
}
