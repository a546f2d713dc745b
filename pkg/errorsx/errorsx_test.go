package errorsx

import "testing"

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonCapture)
	if Reason(err) != ReasonCapture {
		t.Fatalf("expected reason %s, got %s", ReasonCapture, Reason(err))
	}
	if !HasReason(err, ReasonCapture) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonConnect)
	second := Wrap(first, ReasonSendAudio)
	if Reason(second) != ReasonConnect {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, ReasonProtocol) != nil {
		t.Fatalf("wrapping nil must stay nil")
	}
	if Reason(nil) != ReasonUnknown {
		t.Fatalf("nil error has unknown reason")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
