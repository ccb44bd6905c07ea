package rtest

import (
	"testing"
	"time"
)

// How long the *Soon helpers wait before failing the test.
// Generous compared to any expected delivery latency,
// so that a timeout indicates a real bug, not a slow machine.
const soonDuration = 5 * time.Second

// ReceiveSoon returns a value received from ch,
// or fails the test if nothing arrives within a bounded wait.
func ReceiveSoon[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(soonDuration):
		t.Fatalf("timed out waiting %v to receive", soonDuration)
		panic("unreachable")
	}
}

// SendSoon sends v on ch,
// or fails the test if the send does not complete within a bounded wait.
func SendSoon[T any](t *testing.T, ch chan<- T, v T) {
	t.Helper()

	select {
	case ch <- v:
	case <-time.After(soonDuration):
		t.Fatalf("timed out waiting %v to send", soonDuration)
	}
}

// NotSending asserts that ch has no value immediately available.
func NotSending[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case v := <-ch:
		t.Fatalf("expected channel to not be sending, but received %v", v)
	default:
	}
}
