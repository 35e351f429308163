package engine

// State is the bot's lifecycle state. The engine loop is its only writer;
// everything else observes it through heartbeats and logs.
type State string

const (
	StateInitializing        State = "INITIALIZING"
	StateIdle                State = "IDLE"
	StateEvaluating          State = "EVALUATING"
	StateOrderPending        State = "ORDER_PENDING"
	StatePositionActive      State = "POSITION_ACTIVE"
	StatePositionUnprotected State = "POSITION_UNPROTECTED"
	StateClosing             State = "CLOSING"
	StateShutdown            State = "SHUTDOWN"
	StateError               State = "ERROR"
)

// Terminal states end the run; only an external supervisor restarts us.
func (s State) Terminal() bool {
	return s == StateShutdown || s == StateError
}

// canEvaluate reports whether a decision cycle may start from this state.
func (s State) canEvaluate() bool {
	switch s {
	case StateIdle, StatePositionActive, StatePositionUnprotected:
		return true
	}
	return false
}
