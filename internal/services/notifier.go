package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/lingobridge/lingobridge-backend/internal/platform/logger"
	"github.com/lingobridge/lingobridge-backend/internal/realtime/bus"
	"github.com/lingobridge/lingobridge-backend/internal/sse"
)

// JobNotifier pushes job lifecycle events to streaming clients. Stage
// drivers call it after a persisted state change; it is fire-and-forget and
// never affects pipeline control flow.
type JobNotifier interface {
	JobProgress(jobID uuid.UUID, status string, progress int, message string)
	JobFailed(jobID uuid.UUID, step string, errorMessage string)
	JobDone(jobID uuid.UUID)
}

type jobNotifier struct {
	log *logger.Logger
	hub *sse.Hub
	bus bus.Bus
}

// NewJobNotifier broadcasts on the local hub and, when a bus is configured,
// publishes so clients streaming from other instances see the event too.
func NewJobNotifier(log *logger.Logger, hub *sse.Hub, b bus.Bus) JobNotifier {
	return &jobNotifier{
		log: log.With("service", "JobNotifier"),
		hub: hub,
		bus: b,
	}
}

func (n *jobNotifier) emit(msg sse.Message) {
	if n.bus != nil {
		if err := n.bus.Publish(context.Background(), msg); err != nil {
			n.log.Warn("SSE bus publish failed; falling back to local broadcast", "error", err)
			n.hub.Broadcast(msg)
		}
		return
	}
	n.hub.Broadcast(msg)
}

func (n *jobNotifier) JobProgress(jobID uuid.UUID, status string, progress int, message string) {
	n.emit(sse.Message{
		Channel: jobID.String(),
		Event:   sse.EventJobProgress,
		Data: map[string]any{
			"job_id":   jobID,
			"status":   status,
			"progress": progress,
			"message":  message,
		},
	})
}

func (n *jobNotifier) JobFailed(jobID uuid.UUID, step string, errorMessage string) {
	n.emit(sse.Message{
		Channel: jobID.String(),
		Event:   sse.EventJobFailed,
		Data: map[string]any{
			"job_id": jobID,
			"step":   step,
			"error":  errorMessage,
		},
	})
}

func (n *jobNotifier) JobDone(jobID uuid.UUID) {
	n.emit(sse.Message{
		Channel: jobID.String(),
		Event:   sse.EventJobDone,
		Data: map[string]any{
			"job_id": jobID,
		},
	})
}
