package quality

import (
	"fmt"
	"strings"
	"sync"

	"github.com/vietddude/relay/internal/core/domain"
)

// Transformer is a named, pure chunk transformation.
type Transformer interface {
	Name() string
	Apply(chunk *domain.Chunk) (*domain.Chunk, error)
}

// TransformerFunc adapts a function to the Transformer interface.
type TransformerFunc struct {
	TransformName string
	Fn            func(chunk *domain.Chunk) (*domain.Chunk, error)
}

func (t TransformerFunc) Name() string { return t.TransformName }

func (t TransformerFunc) Apply(chunk *domain.Chunk) (*domain.Chunk, error) {
	return t.Fn(chunk)
}

// Registry maps transformation names to Transformers. Lookup of an
// unregistered name is an error, never a silent no-op.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Transformer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Transformer)}
}

// Register adds a transformer. Duplicate names are rejected.
func (r *Registry) Register(t Transformer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if name == "" {
		return fmt.Errorf("transformer has no name")
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("transformer %q already registered", name)
	}
	r.byName[name] = t
	return nil
}

// Get returns the transformer registered under name.
func (r *Registry) Get(name string) (Transformer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown transformer %q", name)
	}
	return t, nil
}

// Apply runs the named transformations in order.
func (r *Registry) Apply(chunk *domain.Chunk, names []string) (*domain.Chunk, error) {
	out := chunk
	for _, name := range names {
		t, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		out, err = t.Apply(out)
		if err != nil {
			return nil, fmt.Errorf("transformer %q failed: %w", name, err)
		}
	}
	return out, nil
}

// NormalizeText lowercases and trims every string value.
func NormalizeText() Transformer {
	return TransformerFunc{
		TransformName: "normalize_text",
		Fn: func(chunk *domain.Chunk) (*domain.Chunk, error) {
			records := make([]domain.Record, 0, len(chunk.Records))
			for _, rec := range chunk.Records {
				out := make(domain.Record, len(rec))
				for k, v := range rec {
					if s, ok := v.(string); ok {
						out[k] = strings.ToLower(strings.TrimSpace(s))
					} else {
						out[k] = v
					}
				}
				records = append(records, out)
			}
			return &domain.Chunk{Sequence: chunk.Sequence, Records: records}, nil
		},
	}
}
