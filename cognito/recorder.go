package cognito

// Recorder receives gateway events, typically to update metrics
type Recorder interface {
	KeySetRefreshed(trigger string, success bool)
	KeySetDegraded(degraded bool)
	TokenVerified(outcome string)
	AccessDecided(requiredRole, outcome string)
}

// Outcome label used for successful verifications and allowed decisions
const OutcomeOK = "ok"

// Refresh triggers
const (
	TriggerStartup    = "startup"
	TriggerUnknownKey = "unknown_key"
	TriggerBackground = "background"
	TriggerManual     = "manual"
)

type nopRecorder struct{}

func (nopRecorder) KeySetRefreshed(string, bool) {}
func (nopRecorder) KeySetDegraded(bool)          {}
func (nopRecorder) TokenVerified(string)         {}
func (nopRecorder) AccessDecided(string, string) {}
