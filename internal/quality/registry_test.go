package quality

import (
	"errors"
	"testing"

	"github.com/vietddude/relay/internal/core/domain"
)

func upperID(suffix string) Transformer {
	return TransformerFunc{
		TransformName: "append_" + suffix,
		Fn: func(chunk *domain.Chunk) (*domain.Chunk, error) {
			records := make([]domain.Record, 0, len(chunk.Records))
			for _, rec := range chunk.Records {
				out := make(domain.Record, len(rec))
				for k, v := range rec {
					out[k] = v
				}
				out["id"] = out["id"].(string) + suffix
				records = append(records, out)
			}
			return &domain.Chunk{Sequence: chunk.Sequence, Records: records}, nil
		},
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NormalizeText()); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(NormalizeText()); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestRegistryUnknownNameIsError(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("nope"); err == nil {
		t.Error("expected error for unknown transformer")
	}
	if _, err := r.Apply(chunkOf(), []string{"nope"}); err == nil {
		t.Error("expected apply of unknown transformer to fail")
	}
}

func TestRegistryAppliesInOrder(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(upperID("x")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(upperID("y")); err != nil {
		t.Fatal(err)
	}

	out, err := r.Apply(chunkOf(domain.Record{"id": "a"}),
		[]string{"append_x", "append_y"})
	if err != nil {
		t.Fatal(err)
	}
	if got := out.Records[0]["id"]; got != "axy" {
		t.Errorf("expected order-dependent result axy, got %v", got)
	}
}

func TestRegistryTransformerFailure(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	if err := r.Register(TransformerFunc{
		TransformName: "failing",
		Fn: func(*domain.Chunk) (*domain.Chunk, error) {
			return nil, boom
		},
	}); err != nil {
		t.Fatal(err)
	}

	_, err := r.Apply(chunkOf(domain.Record{"id": "a"}), []string{"failing"})
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped transformer error, got %v", err)
	}
}

func TestNormalizeText(t *testing.T) {
	out, err := NormalizeText().Apply(chunkOf(
		domain.Record{"name": "  Alice ", "age": 30.0},
	))
	if err != nil {
		t.Fatal(err)
	}
	if out.Records[0]["name"] != "alice" {
		t.Errorf("expected normalized name, got %v", out.Records[0]["name"])
	}
	if out.Records[0]["age"] != 30.0 {
		t.Errorf("non-string value changed: %v", out.Records[0]["age"])
	}
}
