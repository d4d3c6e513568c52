// Package alert delivers operator alerts raised by security handlers.
package alert

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

// Notifier posts a plain-text alert.
type Notifier interface {
	Notify(ctx context.Context, text string) error
	// Enabled reports whether alerts leave the process.
	Enabled() bool
}

// New returns a Slack notifier when both token and channel are set, and a
// Noop otherwise.
func New(token, channel, apiURL string) Notifier {
	if strings.TrimSpace(token) == "" || strings.TrimSpace(channel) == "" {
		return Noop{}
	}
	return NewSlack(token, channel, apiURL)
}

// Noop drops every alert.
type Noop struct{}

func (Noop) Notify(context.Context, string) error { return nil }
func (Noop) Enabled() bool                        { return false }

// Slack posts alerts to one channel through the Web API.
type Slack struct {
	api     *slack.Client
	channel string
}

// NewSlack builds a Slack notifier. apiURL overrides the Web API base and
// must end with a slash; empty keeps the library default.
func NewSlack(token, channel, apiURL string) *Slack {
	opts := []slack.Option{slack.OptionHTTPClient(&http.Client{Timeout: 10 * time.Second})}
	if apiURL = strings.TrimSpace(apiURL); apiURL != "" {
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return &Slack{api: slack.New(token, opts...), channel: channel}
}

func (s *Slack) Notify(ctx context.Context, text string) error {
	if _, _, err := s.api.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("alert: slack post: %w", err)
	}
	return nil
}

func (s *Slack) Enabled() bool { return true }
