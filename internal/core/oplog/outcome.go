package oplog

// Outcome classifies the result of applying one entry.
type Outcome int

const (
	// OK means the server confirmed the operation; the entry is removed.
	OK Outcome = iota
	// Retryable means the operation may succeed later; draining stops at
	// the entry and it stays in place.
	Retryable
	// Fatal means the operation can never succeed; the entry is removed and
	// the failure is reported.
	Fatal
	// Anomaly means the entry cannot be applied yet because its task has no
	// resolvable server id; the entry stays in place, draining stops and the
	// condition is reported.
	Anomaly
	// Abort means local storage failed; draining stops and the error is
	// returned to the caller.
	Abort
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	case Anomaly:
		return "anomaly"
	case Abort:
		return "abort"
	}
	return "unknown"
}

// Result pairs an Outcome with its cause.
type Result struct {
	Outcome Outcome
	Err     error
}

// Done is the successful Result.
func Done() Result { return Result{Outcome: OK} }

// Retry returns a Retryable result.
func Retry(err error) Result { return Result{Outcome: Retryable, Err: err} }

// Drop returns a Fatal result.
func Drop(err error) Result { return Result{Outcome: Fatal, Err: err} }

// Halt returns an Anomaly result.
func Halt(err error) Result { return Result{Outcome: Anomaly, Err: err} }

// Failed returns an Abort result.
func Failed(err error) Result { return Result{Outcome: Abort, Err: err} }
