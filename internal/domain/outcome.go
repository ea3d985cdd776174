package domain

// OutcomeKind is the dispatcher-facing classification of one Submit call.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRetriable
	OutcomePermanent
)

// Outcome is the explicit result of one delivery attempt. It is a value, not
// an error: the dispatcher branches on Kind and never unwraps exceptions.
type Outcome struct {
	Kind       OutcomeKind
	ExternalID string
	Reason     string
	HTTPStatus int
}

// Success builds a successful outcome carrying the id assigned by the remote
// system.
func Success(externalID string) Outcome {
	return Outcome{Kind: OutcomeSuccess, ExternalID: externalID}
}

// Retriable builds a failure outcome eligible for backoff retry.
func Retriable(reason string) Outcome {
	return Outcome{Kind: OutcomeRetriable, Reason: reason}
}

// Permanent builds a failure outcome that must not be retried.
func Permanent(reason string) Outcome {
	return Outcome{Kind: OutcomePermanent, Reason: reason}
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetriable:
		return "retriable_failure"
	case OutcomePermanent:
		return "permanent_failure"
	default:
		return "unknown"
	}
}
