package domain

// Record is a single row keyed by field name. Values are scalars or
// nested JSON-compatible values.
type Record map[string]any

// Chunk is a bounded batch of records moved as one transfer unit.
// Sequence numbers increase monotonically within a run and are unique.
// A chunk is immutable once produced by the source.
type Chunk struct {
	Sequence int64
	Records  []Record
}

// Len returns the number of records in the chunk.
func (c *Chunk) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Records)
}
