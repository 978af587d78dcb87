package monitor

import (
	"testing"

	"github.com/yinz628/email-filter-sub001/internal/domain"
)

func TestEvaluateRatio(t *testing.T) {
	monitor := domain.RatioMonitor{
		Name:             "order funnel",
		Steps:            []int64{10, 50, 100},
		ThresholdPercent: 80,
	}

	tests := []struct {
		name      string
		first     int64
		second    int64
		wantState domain.RatioHealth
		wantRatio float64
	}{
		{"no traffic", 0, 0, domain.RatioHealthy, 0},
		{"below first step", 9, 0, domain.RatioHealthy, 0},
		{"healthy ratio at volume", 100, 85, domain.RatioHealthy, 85},
		{"ratio exactly at threshold", 100, 80, domain.RatioHealthy, 80},
		{"low ratio, partial volume", 50, 10, domain.RatioWarn, 20},
		{"low ratio, full volume", 120, 12, domain.RatioAlerted, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, ratio, steps := evaluateRatio(monitor, tt.first, tt.second)
			if state != tt.wantState {
				t.Errorf("state = %s, want %s", state, tt.wantState)
			}
			if ratio != tt.wantRatio {
				t.Errorf("ratio = %g, want %g", ratio, tt.wantRatio)
			}
			if len(steps) != len(monitor.Steps) {
				t.Fatalf("step results = %d, want %d", len(steps), len(monitor.Steps))
			}
			for i, s := range steps {
				wantReached := tt.first >= monitor.Steps[i]
				if s.Reached != wantReached || s.Threshold != monitor.Steps[i] {
					t.Errorf("step[%d] = %+v", i, s)
				}
			}
		})
	}
}

func TestEvaluateRatioNoSteps(t *testing.T) {
	m := domain.RatioMonitor{ThresholdPercent: 80}
	state, _, steps := evaluateRatio(m, 1000, 0)
	if state != domain.RatioHealthy {
		t.Errorf("state without steps = %s, want HEALTHY", state)
	}
	if len(steps) != 0 {
		t.Errorf("steps = %+v", steps)
	}
}
