package domain

// RuleIssue aggregates violations of one rule on one field.
type RuleIssue struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Count int    `json:"count"`
}

// QualityReport is the result of validating one chunk. Derived, never
// mutated after creation. RowsValid + RowsInvalid == RowsTotal.
type QualityReport struct {
	ChunkSequence int64       `json:"chunk_sequence"`
	RowsTotal     int         `json:"rows_total"`
	RowsValid     int         `json:"rows_valid"`
	RowsInvalid   int         `json:"rows_invalid"`
	Score         float64     `json:"score"`
	Issues        []RuleIssue `json:"issues,omitempty"`
}
