// Package tc contains test-only code: error helpers, and a fake language
// server to run commands against.
package tc

import (
	"fmt"
	"testing"
	"time"
)

// Must1 panics if the error is not nil. Used to wrap functions returning only
// an error in test setup.
func Must1(err error) {
	if err != nil {
		panic(fmt.Sprintf("Must1: error: %v", err))
	}
}

// Must panics if the error is not nil, and returns v otherwise. Used to keep
// test setup short.
func Must[T any](v T, err error) T {
	if err != nil {
		panic(fmt.Sprintf("Must error: %v", err))
	}
	return v
}

// Eventually fails the test if cond does not become true within a few
// seconds.
func Eventually(t testing.TB, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out: "+format, args...)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
