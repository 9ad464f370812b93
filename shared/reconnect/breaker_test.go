package reconnect

import (
	"testing"
	"time"

	"github.com/onsembl/onsembl/shared/types"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	var states []types.BreakerState
	b := NewBreaker(func(s types.BreakerState) { states = append(states, s) })

	for i := 0; i < 4; i++ {
		if !b.CanAttempt() {
			t.Fatalf("CanAttempt() = false before threshold reached, iteration %d", i)
		}
		b.RecordFailure()
	}
	if b.State() != types.BreakerClosed {
		t.Fatalf("state = %v after 4 failures, want closed", b.State())
	}

	b.CanAttempt()
	b.RecordFailure()
	if b.State() != types.BreakerOpen {
		t.Fatalf("state = %v after 5 failures, want open", b.State())
	}
	if b.CanAttempt() {
		t.Fatal("CanAttempt() = true immediately after opening")
	}
	if len(states) == 0 || states[len(states)-1] != types.BreakerOpen {
		t.Fatalf("onStateChange did not observe open transition: %v", states)
	}
}

func TestBreakerHalfOpenTrialSuccessCloses(t *testing.T) {
	b := NewBreaker(nil)
	b.openDuration = 10 * time.Millisecond
	for i := 0; i < 5; i++ {
		b.CanAttempt()
		b.RecordFailure()
	}
	if b.State() != types.BreakerOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	time.Sleep(20 * time.Millisecond)
	if !b.CanAttempt() {
		t.Fatal("CanAttempt() = false after cool-down elapsed")
	}
	if b.State() != types.BreakerHalfOpen {
		t.Fatalf("state = %v after cool-down, want half-open", b.State())
	}

	b.RecordSuccess()
	if b.State() != types.BreakerClosed {
		t.Fatalf("state = %v after successful trial, want closed", b.State())
	}
}

func TestBreakerHalfOpenTrialFailureReopens(t *testing.T) {
	b := NewBreaker(nil)
	b.openDuration = 10 * time.Millisecond
	for i := 0; i < 5; i++ {
		b.CanAttempt()
		b.RecordFailure()
	}
	time.Sleep(20 * time.Millisecond)
	b.CanAttempt()
	b.RecordFailure()
	if b.State() != types.BreakerOpen {
		t.Fatalf("state = %v after failed half-open trial, want open", b.State())
	}
}

func TestBreakerOnlyOneTrialAtATime(t *testing.T) {
	b := NewBreaker(nil)
	b.openDuration = 10 * time.Millisecond
	for i := 0; i < 5; i++ {
		b.CanAttempt()
		b.RecordFailure()
	}
	time.Sleep(20 * time.Millisecond)
	if !b.CanAttempt() {
		t.Fatal("first CanAttempt() after cool-down should succeed")
	}
	if b.CanAttempt() {
		t.Fatal("second concurrent CanAttempt() should be refused while a trial is in flight")
	}
}
