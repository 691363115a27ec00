package domain

// EngineStatus is the lifecycle state of the trading engine.
type EngineStatus string

const (
	StatusStopped  EngineStatus = "stopped"
	StatusStarting EngineStatus = "starting"
	StatusRunning  EngineStatus = "running"
	StatusPaused   EngineStatus = "paused"
	StatusError    EngineStatus = "error"
	StatusKilled   EngineStatus = "killed"
)

// IsTerminal reports whether the status requires an explicit start
// command before trading can resume.
func (s EngineStatus) IsTerminal() bool {
	return s == StatusStopped || s == StatusError || s == StatusKilled
}
