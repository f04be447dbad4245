package resilience

import (
	"time"
)

// Failure describes an invocation that produced no result.
type Failure struct {
	Namespace string    `json:"namespace"`
	Key       string    `json:"key"`
	Class     string    `json:"class"`
	Error     string    `json:"error"`
	Attempts  int       `json:"attempts"`
	FailedAt  time.Time `json:"failed_at"`
}

func newFailure(namespace, key string, class Class, err error, attempts int) Failure {
	f := Failure{
		Namespace: namespace,
		Key:       key,
		Class:     class.String(),
		Attempts:  attempts,
		FailedAt:  time.Now().UTC(),
	}
	if err != nil {
		f.Error = err.Error()
	}
	return f
}

// Exhausted reports whether the failure used up the retry budget rather than
// stopping on a permanent error.
func (f Failure) Exhausted() bool {
	return f.Class == ClassTransient.String() || f.Class == ClassRateLimited.String()
}
