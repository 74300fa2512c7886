package health

import "testing"

func TestAggregateWorstCaseWins(t *testing.T) {
	tests := []struct {
		name   string
		report map[string]PipelineHealth
		want   SystemStatus
	}{
		{
			name:   "empty report is healthy",
			report: map[string]PipelineHealth{},
			want:   StatusHealthy,
		},
		{
			name: "all healthy",
			report: map[string]PipelineHealth{
				"orders": {Status: StatusHealthy},
				"users":  {Status: StatusHealthy},
			},
			want: StatusHealthy,
		},
		{
			name: "one degraded",
			report: map[string]PipelineHealth{
				"orders": {Status: StatusHealthy},
				"users":  {Status: StatusDegraded},
			},
			want: StatusDegraded,
		},
		{
			name: "critical beats degraded",
			report: map[string]PipelineHealth{
				"orders": {Status: StatusDegraded},
				"users":  {Status: StatusCritical},
			},
			want: StatusCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary := aggregate(tt.report)
			if summary.Status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, summary.Status)
			}
			if len(summary.Pipelines) != len(tt.report) {
				t.Errorf("expected %d pipeline statuses, got %d",
					len(tt.report), len(summary.Pipelines))
			}
			for name, p := range tt.report {
				if summary.Pipelines[name] != p.Status {
					t.Errorf("pipeline %s: expected %s, got %s",
						name, p.Status, summary.Pipelines[name])
				}
			}
		})
	}
}
