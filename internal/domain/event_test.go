package domain

import (
	"testing"
	"time"
)

func ptrF(v float64) *float64    { return &v }
func ptrT(v time.Time) *time.Time { return &v }

func TestResolutionHoursPriority(t *testing.T) {
	created := date(2024, 1, 1)
	impact := created.Add(2 * time.Hour)
	resolved := created.Add(10 * time.Hour)

	tests := []struct {
		name     string
		incident IncidentEvent
		want     float64
		ok       bool
	}{
		{
			name: "precomputed hours win over everything",
			incident: IncidentEvent{
				TimeToResolveHours: ptrF(3),
				DurationSeconds:    ptrF(7200),
				CreatedAt:          created,
				ResolvedAt:         ptrT(resolved),
			},
			want: 3,
			ok:   true,
		},
		{
			name: "duration seconds over timestamps",
			incident: IncidentEvent{
				DurationSeconds: ptrF(7200),
				CreatedAt:       created,
				ResolvedAt:      ptrT(resolved),
			},
			want: 2,
			ok:   true,
		},
		{
			name: "impact start preferred over created",
			incident: IncidentEvent{
				CreatedAt:       created,
				ImpactStartedAt: ptrT(impact),
				ResolvedAt:      ptrT(resolved),
			},
			want: 8,
			ok:   true,
		},
		{
			name: "created fallback",
			incident: IncidentEvent{
				CreatedAt:  created,
				ResolvedAt: ptrT(resolved),
			},
			want: 10,
			ok:   true,
		},
		{
			name:     "unresolved has no recovery time",
			incident: IncidentEvent{CreatedAt: created},
			ok:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.incident.ResolutionHours()
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("hours = %v, want %v", got, tt.want)
			}
		})
	}
}
