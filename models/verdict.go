package models

// StepVerdict is what a single engine step reports back.
type StepVerdict int

const (
	VerdictContinue StepVerdict = iota
	VerdictBreak
	VerdictExitSuccess
	VerdictExitFailure
)

// Terminal reports whether the machine is finished. Break is resumable
// and does not latch; the exit verdicts do.
func (v StepVerdict) Terminal() bool {
	return v == VerdictExitSuccess || v == VerdictExitFailure
}

func (v StepVerdict) String() string {
	switch v {
	case VerdictContinue:
		return "continue"
	case VerdictBreak:
		return "break"
	case VerdictExitSuccess:
		return "exit success"
	case VerdictExitFailure:
		return "exit failure"
	}
	return "unknown"
}
