package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Plivo issues a remote call-placement request over HTTP and reads the
// external identifier from the structured response.
type Plivo struct {
	baseURL   string
	authID    string
	authToken string
	client    *http.Client
}

func NewPlivo(baseURL, authID, authToken string) *Plivo {
	return &Plivo{
		baseURL:   baseURL,
		authID:    authID,
		authToken: authToken,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *Plivo) Name() string { return "plivo" }

type plivoCallRequest struct {
	From            string `json:"From"`
	CallerName      string `json:"CallerName,omitempty"`
	To              string `json:"To"`
	Gateways        string `json:"Gateways"`
	GatewayCodecs   string `json:"GatewayCodecs,omitempty"`
	GatewayTimeouts string `json:"GatewayTimeouts,omitempty"`
	GatewayRetries  string `json:"GatewayRetries,omitempty"`
	ExtraDialString string `json:"ExtraDialString,omitempty"`
	AnswerURL       string `json:"AnswerUrl"`
	HangupURL       string `json:"HangupUrl"`
	TimeLimit       string `json:"TimeLimit,omitempty"`
}

type plivoCallResponse struct {
	RequestUUID string `json:"RequestUUID"`
	Message     string `json:"Message,omitempty"`
}

func (p *Plivo) Dispatch(ctx context.Context, req DialRequest) (string, error) {
	payload := plivoCallRequest{
		From:            req.CallerID,
		CallerName:      req.CallerName,
		To:              req.PhoneNumber,
		Gateways:        req.Gateways,
		GatewayCodecs:   req.GatewayCodecs,
		GatewayTimeouts: req.GatewayTimeouts,
		GatewayRetries:  req.GatewayRetries,
		ExtraDialString: req.ExtraDialString,
		AnswerURL:       req.AnswerURL,
		HangupURL:       req.HangupURL,
	}
	if req.TimeLimit > 0 {
		payload.TimeLimit = strconv.Itoa(req.TimeLimit)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", &Error{Kind: KindBadAck, Backend: p.Name(), Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/Call/", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Kind: KindTransport, Backend: p.Name(), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.authID != "" {
		httpReq.SetBasicAuth(p.authID, p.authToken)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", &Error{Kind: KindTransport, Backend: p.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{Kind: KindTransport, Backend: p.Name(), Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var out plivoCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &Error{Kind: KindBadAck, Backend: p.Name(), Err: err}
	}
	if out.RequestUUID == "" {
		return "", &Error{Kind: KindBadAck, Backend: p.Name(), Err: fmt.Errorf("missing RequestUUID in response")}
	}
	return out.RequestUUID, nil
}
