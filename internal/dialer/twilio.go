// Package dialer places outbound calls for automation runs.
package dialer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"dialcron/internal/core"
)

// DefaultTwilioBaseURL is the Twilio REST API root.
const DefaultTwilioBaseURL = "https://api.twilio.com"

var e164 = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

var (
	// ErrInvalidNumber is returned for destinations that are not E.164.
	ErrInvalidNumber = errors.New("phone number must be in E.164 format (e.g. +12125551234)")
	// ErrSelfCall is returned when the destination equals the caller id.
	ErrSelfCall = errors.New("destination number must differ from the caller number")
)

// TwilioConfig holds the account credentials and webhook wiring.
type TwilioConfig struct {
	AccountSID     string
	AuthToken      string
	FromNumber     string
	WebhookBaseURL string
	// BaseURL overrides the API root; tests point it at httptest.
	BaseURL string
	// RingTimeout is how long Twilio lets the destination ring.
	RingTimeout time.Duration
}

// Twilio places calls through the Twilio Calls REST resource. The call's
// voice webhook carries the agent reference so the answering side can load
// the right conversational agent.
type Twilio struct {
	cfg    TwilioConfig
	client *http.Client
}

// APIError is the error body returned by Twilio.
type APIError struct {
	Status   int    `json:"status"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twilio api error %d (status %d): %s", e.Code, e.Status, e.Message)
}

// NewTwilio validates cfg and creates the initiator.
func NewTwilio(cfg TwilioConfig, client *http.Client) (*Twilio, error) {
	var missing []string
	if cfg.AccountSID == "" {
		missing = append(missing, "account sid")
	}
	if cfg.AuthToken == "" {
		missing = append(missing, "auth token")
	}
	if cfg.FromNumber == "" {
		missing = append(missing, "from number")
	}
	if cfg.WebhookBaseURL == "" {
		missing = append(missing, "webhook base url")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("twilio credentials incomplete: missing %s", strings.Join(missing, ", "))
	}
	if !e164.MatchString(cfg.FromNumber) {
		return nil, fmt.Errorf("twilio from number %q: %w", cfg.FromNumber, ErrInvalidNumber)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTwilioBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.WebhookBaseURL = strings.TrimRight(cfg.WebhookBaseURL, "/")
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = 60 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Twilio{cfg: cfg, client: client}, nil
}

// Place implements core.CallInitiator.
func (t *Twilio) Place(ctx context.Context, agentRef, phoneNumber string) (core.CallHandle, error) {
	to := strings.TrimSpace(phoneNumber)
	if !e164.MatchString(to) {
		return core.CallHandle{}, fmt.Errorf("destination %q: %w", to, ErrInvalidNumber)
	}
	if to == t.cfg.FromNumber {
		return core.CallHandle{}, ErrSelfCall
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", t.cfg.FromNumber)
	form.Set("Url", t.cfg.WebhookBaseURL+"/api/twilio/outbound-voice?agentId="+url.QueryEscape(agentRef))
	form.Set("StatusCallback", t.cfg.WebhookBaseURL+"/api/twilio/outbound-status")
	form.Set("StatusCallbackMethod", http.MethodPost)
	form.Set("FallbackUrl", t.cfg.WebhookBaseURL+"/api/twilio/voice-fallback")
	form.Set("Timeout", fmt.Sprintf("%d", int(t.cfg.RingTimeout/time.Second)))
	form.Set("MachineDetection", "DetectMessageEnd")

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", t.cfg.BaseURL, url.PathEscape(t.cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return core.CallHandle{}, fmt.Errorf("create twilio request: %w", err)
	}
	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return core.CallHandle{}, fmt.Errorf("create twilio call: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return core.CallHandle{}, fmt.Errorf("read twilio response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return core.CallHandle{}, apiErr
	}

	var call struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &call); err != nil {
		return core.CallHandle{}, fmt.Errorf("decode twilio response: %w", err)
	}
	if call.SID == "" {
		return core.CallHandle{}, errors.New("twilio response has no call sid")
	}
	return core.CallHandle{SID: call.SID}, nil
}
