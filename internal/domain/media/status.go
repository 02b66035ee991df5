package media

// Status is the job's position in the stage sequence. It only moves forward
// through the sequence or jumps to failed/cancelled; it never reverts.
type Status string

const (
	StatusPending          Status = "pending"
	StatusAudioGenerating  Status = "audio_generating"
	StatusAvatarGenerating Status = "avatar_generating"
	StatusRendering        Status = "rendering"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
)

// Steps recorded in error_step for operator triage.
const (
	StepAudioGeneration  = "audio_generation"
	StepAvatarGeneration = "avatar_generation"
	StepRendering        = "rendering"
)

var order = map[Status]int{
	StatusPending:          0,
	StatusAudioGenerating:  1,
	StatusAvatarGenerating: 2,
	StatusRendering:        3,
	StatusCompleted:        4,
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether moving from one status to another respects
// the stage sequence. failed and cancelled are reachable from any
// non-terminal state; forward moves advance exactly one stage.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed || to == StatusCancelled {
		return true
	}
	fromIdx, ok := order[from]
	if !ok {
		return false
	}
	toIdx, ok := order[to]
	if !ok {
		return false
	}
	return toIdx == fromIdx+1
}

// PhaseLabel maps a raw status to the human-readable phase shown to clients.
// Presentation only; nothing reads it back into transitions.
func PhaseLabel(s Status) string {
	switch s {
	case StatusPending:
		return "Waiting to start"
	case StatusAudioGenerating:
		return "Generating narration audio"
	case StatusAvatarGenerating:
		return "Animating avatar"
	case StatusRendering:
		return "Rendering final video"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	case StatusCancelled:
		return "Cancelled"
	default:
		return string(s)
	}
}
