package ui

import "github.com/calvinmclean/needlegantry"

// state is where the panel is in an injection cycle
type state int

const (
	stateIdle state = iota
	stateCoordinateSent
	stateWorking
	stateDone
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateCoordinateSent:
		return "Ready"
	case stateWorking:
		return "Working"
	case stateDone:
		return "Done"
	case stateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// canStart is true when a cycle may be started from s
func (s state) canStart() bool {
	return s != stateWorking
}

// stageLabel turns a gantry status into the text shown under the buttons
func stageLabel(status string) string {
	switch status {
	case needlegantry.StatusHomed:
		return "Y homed"
	case needlegantry.StatusMoved:
		return "Move complete"
	}
	return status
}
