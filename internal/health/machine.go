// Package health turns probe outcomes into a debounced up/down signal.
package health

import (
	"github.com/dandantas/sentinel/internal/model"
)

// RecoveredReason is the reason carried by up alerts
const RecoveredReason = "Recovered"

// Transition is the observable status change an outcome produced, if any
type Transition struct {
	To     model.Status // empty when nothing changed
	Reason string
}

// Emits reports whether the transition should produce an alert
func (t Transition) Emits() bool {
	return t.To != ""
}

// Apply is the pure transition function.
//
// A pass clears the failure run; down->up emits, unknown->up is silent.
// A fail extends the run; the run reaching threshold flips to down once,
// and later failures in the same run emit nothing.
func Apply(prev model.MonitorState, result model.CheckResult, threshold int, now int64) (model.MonitorState, Transition) {
	next := prev
	if next.LastStatus == "" {
		next.LastStatus = model.StatusUnknown
	}
	next.LastCheckedAt = now
	next.LastLatencyMs = nil
	if ms := result.Latency.Milliseconds(); ms > 0 {
		next.LastLatencyMs = &ms
	}

	var tr Transition
	switch result.Outcome {
	case model.OutcomePass:
		next.ConsecutiveFailures = 0
		next.LastError = ""
		switch next.LastStatus {
		case model.StatusDown:
			tr = Transition{To: model.StatusUp, Reason: RecoveredReason}
			next.LastStatus = model.StatusUp
			next.StatusChangedAt = now
		case model.StatusUnknown:
			next.LastStatus = model.StatusUp
			next.StatusChangedAt = now
		}

	case model.OutcomeFail:
		next.ConsecutiveFailures = prev.ConsecutiveFailures + 1
		next.LastError = result.Error
		if next.ConsecutiveFailures >= model.ClampThreshold(threshold) && next.LastStatus != model.StatusDown {
			tr = Transition{To: model.StatusDown, Reason: result.Error}
			next.LastStatus = model.StatusDown
			next.StatusChangedAt = now
		}
	}

	return next, tr
}
