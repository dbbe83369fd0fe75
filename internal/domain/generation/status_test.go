package generation

import (
	"errors"
	"testing"
)

func TestParseProviderStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want Status
	}{
		{"starting", StatusProcessing},
		{"queued", StatusProcessing},
		{"processing", StatusProcessing},
		{"succeeded", StatusSucceeded},
		{" Succeeded ", StatusSucceeded},
		{"failed", StatusFailed},
		{"error", StatusFailed},
		{"canceled", StatusCanceled},
		{"cancelled", StatusCanceled},
		{"something-new", StatusProcessing},
		{"", StatusProcessing},
	}

	for _, tt := range tests {
		if got := ParseProviderStatus(tt.raw); got != tt.want {
			t.Errorf("ParseProviderStatus(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}

func TestTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		changed bool
		err     error
	}{
		{"processing stays", StatusProcessing, StatusProcessing, false, nil},
		{"processing to succeeded", StatusProcessing, StatusSucceeded, true, nil},
		{"processing to failed", StatusProcessing, StatusFailed, true, nil},
		{"processing to canceled", StatusProcessing, StatusCanceled, true, nil},
		{"terminal repeat", StatusSucceeded, StatusSucceeded, false, nil},
		{"terminal to processing", StatusSucceeded, StatusProcessing, false, ErrInvalidTransition},
		{"terminal to other terminal", StatusFailed, StatusSucceeded, false, ErrInvalidTransition},
		{"unknown", Status("weird"), StatusFailed, false, ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed, err := Transition(tt.from, tt.to)
			if changed != tt.changed || !errors.Is(err, tt.err) {
				t.Fatalf("Transition(%s, %s) = (%v, %v), want (%v, %v)", tt.from, tt.to, changed, err, tt.changed, tt.err)
			}
		})
	}
}
