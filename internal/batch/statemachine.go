package batch

import (
	sw "github.com/filanov/stateswitch"
	"github.com/pkg/errors"
)

const (
	// batch states
	//
	// states a batch transitions through
	StateIdle           sw.State = "Idle"
	StateReadingArchive sw.State = "ReadingArchive"
	StateFinalizing     sw.State = "Finalizing"
	StateDone           sw.State = "Done"
	StateFailed         sw.State = "Failed"

	TransitionStart    sw.TransitionType = "start"
	TransitionFinalize sw.TransitionType = "finalize"
	TransitionComplete sw.TransitionType = "complete"
	TransitionFail     sw.TransitionType = "fail"
)

var (
	ErrInvalidBatch      = errors.New("expected a valid *Batch type")
	ErrBatchTransition   = errors.New("error in batch transition")
	ErrInvalidTransition = errors.New("no transition rule found")
)

// Transitioner defines stateswitch methods that handle batch state transitions.
type Transitioner interface {
	// Start begins reading the archive.
	Start(sw sw.StateSwitch, args sw.TransitionArgs) error
	// ReadArchive enumerates the archive and dispatches each entry for processing.
	ReadArchive(sw sw.StateSwitch, args sw.TransitionArgs) error
	// Finalize waits for the dispatched entries, replays deferred entries and assembles the report.
	Finalize(sw sw.StateSwitch, args sw.TransitionArgs) error
	// Failed records the batch fatal error.
	Failed(sw sw.StateSwitch, args sw.TransitionArgs) error
	// SaveState records the state reached.
	SaveState(sw sw.StateSwitch, args sw.TransitionArgs) error
}

func newStateMachine(handler Transitioner) sw.StateMachine {
	sm := sw.NewStateMachine()

	sm.AddTransition(sw.TransitionRule{
		TransitionType:   TransitionStart,
		SourceStates:     sw.States{StateIdle},
		DestinationState: StateReadingArchive,
		Transition:       handler.Start,
		PostTransition:   handler.SaveState,
	})

	// the archive is read while in ReadingArchive, a successful read moves the batch to Finalizing.
	sm.AddTransition(sw.TransitionRule{
		TransitionType:   TransitionFinalize,
		SourceStates:     sw.States{StateReadingArchive},
		DestinationState: StateFinalizing,
		Transition:       handler.ReadArchive,
		PostTransition:   handler.SaveState,
	})

	sm.AddTransition(sw.TransitionRule{
		TransitionType:   TransitionComplete,
		SourceStates:     sw.States{StateFinalizing},
		DestinationState: StateDone,
		Transition:       handler.Finalize,
		PostTransition:   handler.SaveState,
	})

	sm.AddTransition(sw.TransitionRule{
		TransitionType:   TransitionFail,
		SourceStates:     sw.States{StateIdle, StateReadingArchive, StateFinalizing},
		DestinationState: StateFailed,
		Transition:       handler.Failed,
		PostTransition:   handler.SaveState,
	})

	return sm
}

// DescribeAsJSON returns the batch state machine transition rules in the JSON format.
func DescribeAsJSON() ([]byte, error) {
	return newStateMachine(&Coordinator{}).AsJSON()
}
