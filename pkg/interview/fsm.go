package interview

import (
	"github.com/harunnryd/intervyu/pkg/errorsx"
	"github.com/harunnryd/intervyu/pkg/session"
)

// validTransitions is the interview state machine. Self transitions on
// question_asked and capturing_answer let a candidate restart a recording;
// finalizing to finalizing is a retried finalization.
var validTransitions = map[session.State][]session.State{
	session.StateIdle:                  {session.StateAwaitingFirstQuestion},
	session.StateAwaitingFirstQuestion: {session.StateQuestionAsked},
	session.StateQuestionAsked:         {session.StateCapturingAnswer, session.StateQuestionAsked, session.StateFinalizing},
	session.StateCapturingAnswer:       {session.StateCapturingAnswer, session.StateQuestionAsked, session.StateFinalizing},
	session.StateFinalizing:            {session.StateFinalizing, session.StateFinalized},
}

// InvalidTransitionError is returned when an event arrives in a state that
// cannot accept it.
type InvalidTransitionError struct {
	From session.State
	To   session.State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid interview transition from " + e.From.String() + " to " + e.To.String()
}

func transition(from, to session.State) error {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return invalidTransition(from, to)
}

func invalidTransition(from, to session.State) error {
	return errorsx.Wrap(&InvalidTransitionError{From: from, To: to}, errorsx.ReasonInvalidTransition)
}
