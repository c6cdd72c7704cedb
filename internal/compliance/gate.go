package compliance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Verdict is the gate's classification of a proposed transfer.
type Verdict string

const (
	VerdictSafe    Verdict = "SAFE"
	VerdictNotSafe Verdict = "NOT_SAFE"
)

// GateError wraps any failure to obtain a well-formed verdict. The caller
// always receives VerdictNotSafe alongside it: an ungated approval is a
// safety violation, so the gate fails closed.
type GateError struct {
	Inner error
}

func (e *GateError) Error() string {
	return fmt.Sprintf("compliance gate: %v", e.Inner)
}

func (e *GateError) Unwrap() error { return e.Inner }

// Gate talks to the external AML classifier.
type Gate struct {
	url    string
	client *http.Client
	log    *logrus.Entry
}

func NewGate(url string, timeout time.Duration, log *logrus.Logger) *Gate {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Gate{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    log.WithField("component", "compliance"),
	}
}

// Message builds the free-text transfer description the classifier expects.
func Message(address, amount, sourceOfFunds string) string {
	return fmt.Sprintf("%s is requesting to offramp %s USD from %s", address, amount, sourceOfFunds)
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	// Text is either a JSON object {"amlStatus": ...} or the literal
	// string "Empty Text".
	Text json.RawMessage `json:"text"`
}

type amlVerdict struct {
	AmlStatus string `json:"amlStatus"`
}

// Check submits the description and returns the verdict. Every failure mode
// (transport error, bad status, empty body, malformed payload) yields
// VerdictNotSafe plus a *GateError.
func (g *Gate) Check(ctx context.Context, message string) (Verdict, error) {
	body, err := json.Marshal(chatRequest{Message: message})
	if err != nil {
		return VerdictNotSafe, &GateError{Inner: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url+"/chat", bytes.NewReader(body))
	if err != nil {
		return VerdictNotSafe, &GateError{Inner: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return VerdictNotSafe, &GateError{Inner: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return VerdictNotSafe, &GateError{Inner: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return VerdictNotSafe, &GateError{Inner: err}
	}

	verdict, err := parseVerdict(raw)
	if err != nil {
		g.log.WithError(err).Warn("non-conforming gate response, failing closed")
		return VerdictNotSafe, &GateError{Inner: err}
	}
	return verdict, nil
}

func parseVerdict(raw []byte) (Verdict, error) {
	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return VerdictNotSafe, fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Text) == 0 {
		return VerdictNotSafe, fmt.Errorf("empty text field")
	}

	inner := resp.Text

	// The text field may be a JSON string wrapping the verdict object, or
	// the literal "Empty Text" for a blank message.
	var asString string
	if err := json.Unmarshal(inner, &asString); err == nil {
		if asString == "Empty Text" {
			return VerdictNotSafe, fmt.Errorf("gate received empty message")
		}
		inner = json.RawMessage(asString)
	}

	var v amlVerdict
	if err := json.Unmarshal(inner, &v); err != nil {
		return VerdictNotSafe, fmt.Errorf("decode verdict: %w", err)
	}

	switch v.AmlStatus {
	case string(VerdictSafe):
		return VerdictSafe, nil
	case string(VerdictNotSafe):
		return VerdictNotSafe, nil
	default:
		return VerdictNotSafe, fmt.Errorf("unknown amlStatus %q", v.AmlStatus)
	}
}
