package core

// State 是一次 Predict 调用所处的阶段。
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateLookup     State = "lookup"
	StateCombine    State = "combine"
	StateForward    State = "forward"
	StateComplete   State = "complete"
	StateError      State = "error"
)
