// Package notify sends optional Slack notifications when HOMЯ raises an
// Escalation or the Supervisor raises a critical Alert (SPEC_FULL.md §12),
// grounded on pkg/slack/service.go's nil-safe, fail-open Service pattern —
// generalized from session lifecycle events to Escalation/Alert lifecycle
// events.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"
)

// Config configures the Slack notifier. Notifications are disabled (Service
// methods become no-ops) when Token or Channel is empty.
type Config struct {
	Token   string
	Channel string
}

// Service delivers Slack notifications. Nil-safe: every method is a no-op
// when the receiver is nil, so callers never need a feature-flag check at
// the call site.
type Service struct {
	api     *goslack.Client
	channel string
	logger  *slog.Logger
}

// New constructs a Service, or returns nil when notifications aren't
// configured — the same shape as pkg/slack.NewService.
func New(cfg Config, logger *slog.Logger) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		api:     goslack.New(cfg.Token),
		channel: cfg.Channel,
		logger:  logger.With("component", "notify"),
	}
}

// NewWithClient builds a Service against a pre-built goslack.Client, for
// tests that point at a mock API server.
func NewWithClient(api *goslack.Client, channel string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{api: api, channel: channel, logger: logger.With("component", "notify")}
}

// EscalationRaised notifies that HOMЯ raised an Escalation blocking tasks
// on outcomeID — a human decision is now required.
func (s *Service) EscalationRaised(ctx context.Context, outcomeID, escalationID, question string) {
	if s == nil {
		return
	}
	text := fmt.Sprintf(":raising_hand: *Escalation raised* on outcome `%s`\n*%s*\n(`%s`)", outcomeID, question, escalationID)
	s.post(ctx, text)
}

// CriticalAlertRaised notifies that the Supervisor raised a critical Alert.
func (s *Service) CriticalAlertRaised(ctx context.Context, outcomeID, alertType, message string) {
	if s == nil {
		return
	}
	text := fmt.Sprintf(":rotating_light: *Critical alert* (`%s`) on outcome `%s`\n%s", alertType, outcomeID, message)
	s.post(ctx, text)
}

func (s *Service) post(ctx context.Context, text string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	blocks := []goslack.Block{
		goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false), nil, nil),
	}
	if _, _, err := s.api.PostMessageContext(ctx, s.channel, goslack.MsgOptionBlocks(blocks...)); err != nil {
		s.logger.Error("notify: slack post failed", "error", err)
	}
}
