package state

// Round state identifiers.
const (
	RoundIdle   = "idle"
	RoundActive = "active"
	RoundEnded  = "ended"
)

// Round is the idle → active → ended machine of one game session. Ended may
// go back to active when the next round starts.
type Round struct {
	*BaseStateMachine
	Idle   *Hook
	Active *Hook
	Ended  *Hook
}

// NewRound builds the machine in idle. onStart runs when a round becomes
// active and onStop when it stops being active.
func NewRound(onStart, onStop func()) *Round {
	r := &Round{
		Idle:   &Hook{ID: RoundIdle},
		Active: &Hook{ID: RoundActive, Enter: onStart, Exit: onStop},
		Ended:  &Hook{ID: RoundEnded},
	}
	r.BaseStateMachine = NewStrictStateMachine(r.Idle)
	_ = r.AddTransition(r.Idle, r.Active, nil)
	_ = r.AddTransition(r.Active, r.Ended, nil)
	_ = r.AddTransition(r.Ended, r.Active, nil)
	return r
}

// Start moves the round to active.
func (r *Round) Start() error {
	return r.ChangeState(r.Active)
}

// End moves the round to ended.
func (r *Round) End() error {
	return r.ChangeState(r.Ended)
}

// Current returns the identifier of the current state.
func (r *Round) Current() string {
	return r.GetCurrentState().GetID()
}
