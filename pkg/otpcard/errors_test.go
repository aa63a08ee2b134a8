package otpcard

import (
	"errors"
	"strings"
	"testing"
)

func TestIsSecurityErrorClassifiesOnlySecuritySW(t *testing.T) {
	if !IsSecurityError(&SWError{SW: SWSecurityStatusNotSatisfied}) {
		t.Fatalf("expected security SW to classify as a security error")
	}
	if IsSecurityError(&SWError{SW: SWWrongData}) {
		t.Fatalf("expected wrong-data SW to not classify as a security error")
	}
	if IsSecurityError(errors.New("plain")) {
		t.Fatalf("expected a non-SWError to not classify as a security error")
	}
}

func TestIsConditionsErrorClassifiesOnlyConditionsSW(t *testing.T) {
	if !IsConditionsError(&SWError{SW: SWConditionsNotSatisfied}) {
		t.Fatalf("expected conditions SW to classify as a conditions error")
	}
	if IsConditionsError(&SWError{SW: SWOK}) {
		t.Fatalf("expected OK SW to not classify as a conditions error")
	}
}

func TestButtonErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("declined")
	err := &ButtonError{Cause: cause}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
}

func TestSWErrorMessageIncludesINSAndDescription(t *testing.T) {
	err := &SWError{Ins: 0x01, SW: SWWrongData}
	msg := err.Error()
	if !strings.Contains(msg, "0x01") || !strings.Contains(msg, "wrong data") {
		t.Fatalf("error message %q does not include the INS byte and SW description", msg)
	}
}
