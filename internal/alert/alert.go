// Package alert implements the priority alert sink: an HTTP POST of
// {token, user, title, message, priority, retry, expire} to a fixed
// endpoint, used for the engine's safety-stop and hedge-failure
// notifications. Priority 2 (emergency) is clamped to the endpoint's
// required bounds: retry >= 30s, expire <= 10800s.
package alert

import (
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	minRetrySeconds  = 30
	maxExpireSeconds = 10800
	defaultRetry     = 30
	defaultExpire    = 3600
)

// Sink posts priority notifications to a fixed endpoint. An empty token or
// user disables sending: Alert logs and returns without making a network
// call, matching the source's "credentials not configured, skip" behavior.
type Sink struct {
	rc       *resty.Client
	endpoint string
	token    string
	user     string
	logger   *slog.Logger
}

// New builds an alert sink. endpoint, token, and user come from
// configuration; if either token or user is empty, Alert becomes a no-op.
func New(endpoint, token, user string, logger *slog.Logger) *Sink {
	return &Sink{
		rc:       resty.New().SetTimeout(10 * time.Second),
		endpoint: endpoint,
		token:    token,
		user:     user,
		logger:   logger.With("component", "alert"),
	}
}

type alertPayload struct {
	Token    string `json:"token"`
	User     string `json:"user"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Priority int    `json:"priority"`
	Retry    int    `json:"retry,omitempty"`
	Expire   int    `json:"expire,omitempty"`
}

// Alert sends a priority notification. priority 2 is the engine's
// emergency-stop severity and always carries clamped retry/expire values;
// lower priorities omit them. Failures are logged, never returned — an
// alert delivery failure must not itself abort a shutdown path.
func (s *Sink) Alert(priority int, title, message string) {
	if s.token == "" || s.user == "" {
		s.logger.Warn("alert credentials not configured, skipping", "title", title)
		return
	}

	payload := alertPayload{
		Token:    s.token,
		User:     s.user,
		Title:    title,
		Message:  message,
		Priority: priority,
	}
	if priority == 2 {
		payload.Retry = defaultRetry
		if payload.Retry < minRetrySeconds {
			payload.Retry = minRetrySeconds
		}
		payload.Expire = defaultExpire
		if payload.Expire > maxExpireSeconds {
			payload.Expire = maxExpireSeconds
		}
	}

	resp, err := s.rc.R().SetBody(payload).Post(s.endpoint)
	if err != nil {
		s.logger.Error("alert delivery failed", "title", title, "error", err)
		return
	}
	if resp.IsError() {
		s.logger.Error("alert endpoint rejected notification", "title", title, "status", resp.StatusCode())
		return
	}
	s.logger.Info("alert sent", "title", title, "priority", priority)
}
