package types

// Outcome is the three-way result of a query or index operation. Callers
// that front the core (a CLI, the tool server) map it to exit codes.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	// OutcomeNoResults is a valid, empty answer and not an error
	OutcomeNoResults
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNoResults:
		return "no_results"
	default:
		return "failure"
	}
}

// ExitCode maps the outcome to a process exit code
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeSuccess:
		return 0
	case OutcomeNoResults:
		return 1
	default:
		return 2
	}
}

// OutcomeFor picks success or no-results from a result count
func OutcomeFor(count int) Outcome {
	if count == 0 {
		return OutcomeNoResults
	}
	return OutcomeSuccess
}
