package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func gateServer(t *testing.T, handler http.HandlerFunc) (*Gate, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGate(srv.URL, time.Second, testLogger()), srv
}

func TestCheckSafeVerdict(t *testing.T) {
	var gotMessage string
	gate, _ := gateServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat" {
			t.Errorf("expected /chat got %s", r.URL.Path)
		}
		var req struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotMessage = req.Message
		w.Write([]byte(`{"text": {"amlStatus": "SAFE"}}`))
	})

	msg := Message("0xabc", "150", "salary")
	verdict, err := gate.Check(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict != VerdictSafe {
		t.Fatalf("expected SAFE got %s", verdict)
	}
	if gotMessage != "0xabc is requesting to offramp 150 USD from salary" {
		t.Fatalf("unexpected message %q", gotMessage)
	}
}

func TestCheckNotSafeVerdict(t *testing.T) {
	gate, _ := gateServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text": {"amlStatus": "NOT_SAFE"}}`))
	})

	verdict, err := gate.Check(context.Background(), "msg")
	if err != nil {
		t.Fatalf("a clean NOT_SAFE is not an error: %v", err)
	}
	if verdict != VerdictNotSafe {
		t.Fatalf("expected NOT_SAFE got %s", verdict)
	}
}

func TestCheckStringWrappedVerdict(t *testing.T) {
	gate, _ := gateServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text": "{\"amlStatus\": \"SAFE\"}"}`))
	})

	verdict, err := gate.Check(context.Background(), "msg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict != VerdictSafe {
		t.Fatalf("expected SAFE got %s", verdict)
	}
}

func TestCheckFailsClosed(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"empty text sentinel", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"text": "Empty Text"}`))
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json at all`))
		}},
		{"missing text field", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		}},
		{"unknown status", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"text": {"amlStatus": "MAYBE"}}`))
		}},
		{"http error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gate, _ := gateServer(t, tc.handler)
			verdict, err := gate.Check(context.Background(), "msg")
			if verdict != VerdictNotSafe {
				t.Fatalf("expected NOT_SAFE got %s", verdict)
			}
			var ge *GateError
			if !errors.As(err, &ge) {
				t.Fatalf("expected *GateError got %v", err)
			}
		})
	}
}

func TestCheckUnreachableGateFailsClosed(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	gate := NewGate(srv.URL, time.Second, testLogger())
	verdict, err := gate.Check(context.Background(), "msg")
	if verdict != VerdictNotSafe {
		t.Fatalf("expected NOT_SAFE got %s", verdict)
	}
	var ge *GateError
	if !errors.As(err, &ge) {
		t.Fatalf("expected *GateError got %v", err)
	}
}
