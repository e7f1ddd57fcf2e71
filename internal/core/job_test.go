package core

import "testing"

func TestJob_Claimable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status Status
		retry  int
		want   bool
	}{
		{"pending under limit", StatusPending, 0, true},
		{"pending at limit", StatusPending, MaxRetries, false},
		{"processing", StatusProcessing, 0, false},
		{"completed", StatusCompleted, 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			j := &Job{Status: tc.status, Retry: tc.retry}
			if got := j.Claimable(); got != tc.want {
				t.Errorf("Claimable() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestJob_TerminallyFailed(t *testing.T) {
	t.Parallel()

	j := &Job{Status: StatusFailed, Retry: MaxRetries}
	if !j.TerminallyFailed() {
		t.Error("expected terminally failed at MaxRetries")
	}

	j.Retry = MaxRetries - 1
	if j.TerminallyFailed() {
		t.Error("expected not terminally failed below MaxRetries")
	}
}

func TestPool_Collection(t *testing.T) {
	t.Parallel()

	cases := map[Pool]string{
		PoolBLP:   "discord_command_blp",
		PoolRembg: "discord_command_rembg",
		PoolIcon:  "discord_command_icon",
	}
	for pool, want := range cases {
		if got := pool.Collection(); got != want {
			t.Errorf("Collection() = %q, want %q", got, want)
		}
	}
}
