package frame

// MotionState is a motion vector waiting for the data frame it belongs to.
type MotionState struct {
	Channel int
	Vector  MotionVector
}

// NewMotionState creates an empty MotionState.
func NewMotionState() *MotionState {
	return &MotionState{}
}

// Reset clears the state for reuse.
func (m *MotionState) Reset() {
	*m = MotionState{}
}
