package store

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		valid  bool
	}{
		{ActionNext, "waiting", true},
		{ActionNext, "called", false},
		{ActionNext, "skipped", false},
		{ActionRecall, "called", true},
		{ActionRecall, "done", false},
		{ActionSkip, "called", true},
		{ActionSkip, "waiting", false},
		{ActionSkip, "done", false},
		{ActionDone, "called", true},
		{ActionDone, "done", false},
		{ActionDone, "waiting", false},
		{ActionRequeue, "skipped", true},
		{ActionRequeue, "called", true},
		{ActionRequeue, "waiting", false},
		{ActionRequeue, "done", false},
		{"unknown", "waiting", false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}
