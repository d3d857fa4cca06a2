package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// HTTPSender posts messages to an SMS provider's JSON API.
type HTTPSender struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func (s *HTTPSender) Send(ctx context.Context, phone, message string) error {
	body, err := json.Marshal(map[string]string{"to": phone, "content": message})
	if err != nil {
		return err
	}
	u := strings.TrimRight(s.BaseURL, "/") + "/sms/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.APIKey)
	hc := s.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 8 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("sms request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sms error: %s", strings.TrimSpace(string(raw)))
	}
	return nil
}

// LogSender stands in for a real provider in dev mode.
type LogSender struct {
	Log *slog.Logger
}

func (s *LogSender) Send(_ context.Context, phone, message string) error {
	s.Log.Info("sms (dev mode)", "phone", phone, "message", message)
	return nil
}
