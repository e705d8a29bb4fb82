package telemetry

import "github.com/rs/zerolog"

// ProgressNotifier publishes progress messages as events. It satisfies
// engine.Notifier; publishing errors are logged at debug level and dropped.
type ProgressNotifier struct {
	events *EventPublisher
	logger zerolog.Logger
}

// NewProgressNotifier creates a notifier publishing to events.
func NewProgressNotifier(events *EventPublisher, logger zerolog.Logger) *ProgressNotifier {
	return &ProgressNotifier{
		events: events,
		logger: logger.With().Str("component", "progress").Logger(),
	}
}

// ShowProgress publishes a progress message.
func (n *ProgressNotifier) ShowProgress(message string) {
	n.logger.Debug().Str("progress", message).Msg("Progress")
	if n.events == nil {
		return
	}
	if err := n.events.PublishProgress(message); err != nil {
		n.logger.Debug().Err(err).Msg("Progress event dropped")
	}
}

// HideProgress publishes the end of the current progress sequence.
func (n *ProgressNotifier) HideProgress() {
	if n.events == nil {
		return
	}
	if err := n.events.PublishProgressHidden(); err != nil {
		n.logger.Debug().Err(err).Msg("Progress event dropped")
	}
}
