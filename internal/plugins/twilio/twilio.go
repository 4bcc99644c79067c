package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Khambazarov/hello-word-sub000/internal/config"
)

const defaultBaseURL = "https://verify.twilio.com/v2"

// TwilioClient delivers one-time verification keys through Twilio Verify's email channel.
type TwilioClient struct {
	SID       string
	Token     string
	VerifySID string
	BaseURL   string
	http      *http.Client
}

func NewTwilioClient(
	cfg config.TwilioConfig,
) *TwilioClient {
	return &TwilioClient{
		SID:       cfg.SID,
		Token:     cfg.Token,
		VerifySID: cfg.VerifySID,
		BaseURL:   defaultBaseURL,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TwilioClient) SendVerification(ctx context.Context, email string) error {
	data := url.Values{}
	data.Set("To", email)
	data.Set("Channel", "email")

	resp, err := t.post(ctx, "Verifications", data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("twilio: send verification: status %d: %s", resp.StatusCode, body)
	}
	return nil
}

func (t *TwilioClient) CheckVerification(ctx context.Context, email, code string) (bool, error) {
	data := url.Values{}
	data.Set("To", email)
	data.Set("Code", code)

	resp, err := t.post(ctx, "VerificationCheck", data)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	// Twilio answers 404 once a verification expired or was already approved
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("twilio: check verification: status %d", resp.StatusCode)
	}

	var result struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("twilio: decode verification check: %w", err)
	}
	return result.Status == "approved", nil
}

func (t *TwilioClient) post(ctx context.Context, resource string, data url.Values) (*http.Response, error) {
	apiURL := fmt.Sprintf("%s/Services/%s/%s", strings.TrimRight(t.BaseURL, "/"), t.VerifySID, resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(t.SID, t.Token)
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twilio: %s: %w", resource, err)
	}
	return resp, nil
}
