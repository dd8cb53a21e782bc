package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestSanitizeGateways(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"sofia/gateway/provider1", "sofia/gateway/provider1/"},
		{"sofia/gateway/provider1/", "sofia/gateway/provider1/"},
		{"  sofia/gateway/provider1  ", "sofia/gateway/provider1/"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := SanitizeGateways(tc.in); got != tc.want {
			t.Fatalf("SanitizeGateways(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestErrorWrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := &Error{Kind: KindTransport, Backend: "esl", Err: cause}

	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is failed to reach the cause")
	}
	msg := err.Error()
	if !strings.Contains(msg, "esl") || !strings.Contains(msg, "transport") {
		t.Fatalf("Error() = %q, missing backend or kind", msg)
	}
}

func TestDummyDispatchReturnsIdentifier(t *testing.T) {
	d := NewDummy(nil)
	id, err := d.Dispatch(context.Background(), DialRequest{
		CallRequestID: "cr-1", PhoneNumber: "15551230001",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if id == "" {
		t.Fatalf("Dispatch returned empty identifier")
	}

	second, err := d.Dispatch(context.Background(), DialRequest{CallRequestID: "cr-2"})
	if err != nil {
		t.Fatalf("second Dispatch: %v", err)
	}
	if second == id {
		t.Fatalf("identifiers must be unique, got %q twice", id)
	}
}
