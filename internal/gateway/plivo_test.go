package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPlivoDispatch(t *testing.T) {
	var got plivoCallRequest
	var auth struct {
		user, pass string
		ok         bool
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/Call/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		auth.user, auth.pass, auth.ok = r.BasicAuth()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(plivoCallResponse{RequestUUID: "plivo-uuid-1"})
	}))
	defer srv.Close()

	p := NewPlivo(srv.URL, "auth-id", "auth-token")
	id, err := p.Dispatch(context.Background(), DialRequest{
		CallerID:    "15559990000",
		CallerName:  "Campaign",
		PhoneNumber: "15551230001",
		Gateways:    "sofia/gateway/provider1/",
		AnswerURL:   "https://engine.example/events/answer",
		HangupURL:   "https://engine.example/events/hangup",
		TimeLimit:   1800,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if id != "plivo-uuid-1" {
		t.Fatalf("request uuid = %q, want plivo-uuid-1", id)
	}

	if !auth.ok || auth.user != "auth-id" || auth.pass != "auth-token" {
		t.Fatalf("basic auth not forwarded: %+v", auth)
	}
	if got.From != "15559990000" || got.To != "15551230001" {
		t.Fatalf("payload endpoints wrong: %+v", got)
	}
	if got.AnswerURL != "https://engine.example/events/answer" {
		t.Fatalf("answer url = %q", got.AnswerURL)
	}
	if got.TimeLimit != "1800" {
		t.Fatalf("time limit = %q, want 1800", got.TimeLimit)
	}
}

func TestPlivoDispatchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewPlivo(srv.URL, "", "")
	_, err := p.Dispatch(context.Background(), DialRequest{PhoneNumber: "15551230001"})

	var gwErr *Error
	if !errors.As(err, &gwErr) || gwErr.Kind != KindTransport {
		t.Fatalf("err = %v, want transport gateway error", err)
	}
}

func TestPlivoDispatchMissingRequestUUID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Message":"queued"}`))
	}))
	defer srv.Close()

	p := NewPlivo(srv.URL, "", "")
	_, err := p.Dispatch(context.Background(), DialRequest{PhoneNumber: "15551230001"})

	var gwErr *Error
	if !errors.As(err, &gwErr) || gwErr.Kind != KindBadAck {
		t.Fatalf("err = %v, want bad_ack gateway error", err)
	}
}
