package scanstatus

import "testing"

func TestCanTransitionTo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"queued to running", StatusQueued, StatusRunning, true},
		{"queued to cancelled", StatusQueued, StatusCancelled, true},
		{"queued to succeeded", StatusQueued, StatusSucceeded, false},
		{"queued to failed", StatusQueued, StatusFailed, false},
		{"running to succeeded", StatusRunning, StatusSucceeded, true},
		{"running to failed", StatusRunning, StatusFailed, true},
		{"running to cancelled", StatusRunning, StatusCancelled, true},
		{"running to queued", StatusRunning, StatusQueued, false},
		{"succeeded is terminal", StatusSucceeded, StatusRunning, false},
		{"failed is terminal", StatusFailed, StatusRunning, false},
		{"cancelled is terminal", StatusCancelled, StatusRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	t.Parallel()

	terminal := []Status{StatusSucceeded, StatusFailed, StatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
	for _, s := range []Status{StatusQueued, StatusRunning} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}
