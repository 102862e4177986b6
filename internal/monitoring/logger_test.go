package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLoggerRedirects(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var captured []string
	SetLogger(func(format string, v ...interface{}) {
		captured = append(captured, fmt.Sprintf(format, v...))
	})

	Logf("acquired frame %d", 3)
	if len(captured) != 1 || captured[0] != "acquired frame 3" {
		t.Errorf("captured = %v, want one formatted line", captured)
	}
}

func TestSetLoggerNilIsNoOp(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(string, ...interface{}) { called = true })
	SetLogger(nil)

	// Must not panic and must not reach the previous logger.
	Logf("dropped")
	if called {
		t.Error("nil logger should silence output, not call the prior logger")
	}
}

func TestLogfDefaultNotNil(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf should have a default implementation")
	}
}
