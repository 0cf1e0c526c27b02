package domain

// OutcomeKind classifies how a download attempt ended. The set is closed:
// recovery logic switches over it exhaustively and treats anything it does
// not recognize as OutcomeError.
type OutcomeKind string

const (
	OutcomeSuccess           OutcomeKind = "success"
	OutcomeFormatUnavailable OutcomeKind = "format_unavailable"
	OutcomeForbidden         OutcomeKind = "forbidden"
	OutcomeNotFound          OutcomeKind = "not_found"
	OutcomeSSLFailure        OutcomeKind = "ssl_verify_failed"
	OutcomeFileLocked        OutcomeKind = "file_locked"
	OutcomeFragmentError     OutcomeKind = "fragment_error"
	OutcomeCancelled         OutcomeKind = "cancelled"
	OutcomeError             OutcomeKind = "error"
)

// AttemptOutcome is the terminal result of driving a job through its
// selector ladder. Path is set only when Kind is OutcomeSuccess; Err is set
// for every other kind.
type AttemptOutcome struct {
	Kind OutcomeKind
	Path string
	Err  error
}

// Succeeded builds a success outcome for the given artifact path.
func Succeeded(path string) AttemptOutcome {
	return AttemptOutcome{Kind: OutcomeSuccess, Path: path}
}

// Failed builds a non-success outcome wrapping the causing error.
func Failed(kind OutcomeKind, err error) AttemptOutcome {
	return AttemptOutcome{Kind: kind, Err: err}
}
