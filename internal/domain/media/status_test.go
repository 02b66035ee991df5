package media

import "testing"

func TestForwardTransitionsFollowStageSequence(t *testing.T) {
	forward := []struct {
		from, to Status
	}{
		{StatusPending, StatusAudioGenerating},
		{StatusAudioGenerating, StatusAvatarGenerating},
		{StatusAvatarGenerating, StatusRendering},
		{StatusRendering, StatusCompleted},
	}
	for _, tc := range forward {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}
}

func TestStatusNeverReverts(t *testing.T) {
	backward := []struct {
		from, to Status
	}{
		{StatusAvatarGenerating, StatusAudioGenerating},
		{StatusRendering, StatusPending},
		{StatusAudioGenerating, StatusPending},
		{StatusRendering, StatusAudioGenerating},
	}
	for _, tc := range backward {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestNoSkippingStages(t *testing.T) {
	skips := []struct {
		from, to Status
	}{
		{StatusPending, StatusAvatarGenerating},
		{StatusPending, StatusCompleted},
		{StatusAudioGenerating, StatusRendering},
		{StatusAudioGenerating, StatusCompleted},
	}
	for _, tc := range skips {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestFailedAndCancelledReachableFromNonTerminal(t *testing.T) {
	for _, from := range []Status{StatusPending, StatusAudioGenerating, StatusAvatarGenerating, StatusRendering} {
		if !CanTransition(from, StatusFailed) {
			t.Errorf("expected %s -> failed to be allowed", from)
		}
		if !CanTransition(from, StatusCancelled) {
			t.Errorf("expected %s -> cancelled to be allowed", from)
		}
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	for _, from := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		for _, to := range []Status{StatusPending, StatusAudioGenerating, StatusAvatarGenerating, StatusRendering, StatusCompleted, StatusFailed, StatusCancelled} {
			if CanTransition(from, to) {
				t.Errorf("expected terminal %s -> %s to be rejected", from, to)
			}
		}
	}
}
