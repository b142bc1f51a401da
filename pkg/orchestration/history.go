package orchestration

import (
	"github.com/dukex/imageflow/pkg/models"
)

// historyIndex is the validated view of an instance's history used during replay.
type historyIndex struct {
	scheduled   map[string]models.HistoryEvent
	completions map[string]models.HistoryEvent
	order       []string
	terminal    *models.HistoryEvent
	lastSeq     int64
}

// indexHistory validates the history log and indexes it by task id. Any violation
// of the log's structure is reported as ErrHistoryCorrupted.
func indexHistory(instanceID string, events []models.HistoryEvent) (*historyIndex, error) {
	idx := &historyIndex{
		scheduled:   make(map[string]models.HistoryEvent),
		completions: make(map[string]models.HistoryEvent),
	}

	for i, event := range events {
		if event.SequenceNumber != int64(i)+1 {
			return nil, newInternalError(instanceID, ErrHistoryCorrupted,
				"expected sequence number %d, found %d", i+1, event.SequenceNumber)
		}

		if idx.terminal != nil {
			return nil, newInternalError(instanceID, ErrHistoryCorrupted,
				"event %d follows terminal event %s", event.SequenceNumber, idx.terminal.Kind)
		}

		switch {
		case event.Kind == models.EventTaskScheduled:
			if event.TaskID == "" || event.ActivityName == "" {
				return nil, newInternalError(instanceID, ErrHistoryCorrupted,
					"event %d schedules a task without id or activity", event.SequenceNumber)
			}

			if _, dup := idx.scheduled[event.TaskID]; dup {
				return nil, newInternalError(instanceID, ErrHistoryCorrupted,
					"task %s scheduled twice", event.TaskID)
			}

			idx.scheduled[event.TaskID] = event
			idx.order = append(idx.order, event.TaskID)
		case event.Kind.IsTaskCompletion():
			if _, ok := idx.scheduled[event.TaskID]; !ok {
				return nil, newInternalError(instanceID, ErrHistoryCorrupted,
					"completion for unscheduled task %q", event.TaskID)
			}

			if _, dup := idx.completions[event.TaskID]; dup {
				return nil, newInternalError(instanceID, ErrHistoryCorrupted,
					"task %s completed twice", event.TaskID)
			}

			idx.completions[event.TaskID] = event
		case event.Kind.IsOrchestratorTerminal():
			terminal := event
			idx.terminal = &terminal
		default:
			return nil, newInternalError(instanceID, ErrHistoryCorrupted,
				"unknown event kind %q at %d", event.Kind, event.SequenceNumber)
		}

		idx.lastSeq = event.SequenceNumber
	}

	return idx, nil
}

// pending returns scheduled tasks without a completion, in scheduling order.
func (h *historyIndex) pending() []models.HistoryEvent {
	pending := make([]models.HistoryEvent, 0)

	for _, taskID := range h.order {
		if _, done := h.completions[taskID]; !done {
			pending = append(pending, h.scheduled[taskID])
		}
	}

	return pending
}
