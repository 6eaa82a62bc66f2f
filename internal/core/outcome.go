package core

import "time"

// CallOutcome is the result of one placement attempt: either a call handle
// (success) or an error (failure), never both.
type CallOutcome struct {
	Contact Contact
	Handle  CallHandle
	Err     error
	At      time.Time
}

// PlacedCall builds a successful outcome.
func PlacedCall(c Contact, h CallHandle, at time.Time) CallOutcome {
	return CallOutcome{Contact: c, Handle: h, At: at}
}

// FailedCall builds a failed outcome.
func FailedCall(c Contact, err error, at time.Time) CallOutcome {
	return CallOutcome{Contact: c, Err: err, At: at}
}

// OK reports whether the call was placed.
func (o CallOutcome) OK() bool {
	return o.Err == nil
}

// Tally aggregates outcomes into run counters.
type Tally struct {
	Processed int
	Initiated int
	Failed    int
}

// Add folds one outcome into the tally.
func (t Tally) Add(o CallOutcome) Tally {
	t.Processed++
	if o.OK() {
		t.Initiated++
	} else {
		t.Failed++
	}
	return t
}

// FoldOutcomes tallies a sequence of outcomes.
func FoldOutcomes(outcomes []CallOutcome) Tally {
	var t Tally
	for _, o := range outcomes {
		t = t.Add(o)
	}
	return t
}

func (r *Run) apply(t Tally) {
	r.ContactsProcessed = t.Processed
	r.CallsInitiated = t.Initiated
	r.CallsFailed = t.Failed
}
