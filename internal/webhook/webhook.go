// Package webhook posts run summaries to chat webhooks. Delivery is
// best-effort; a webhook failure never fails the run it reports on.
package webhook

import (
	"fmt"
	"time"
)

// RunReport summarizes one broadcast run for notification purposes.
type RunReport struct {
	TaskName     string
	RunID        string
	RunAt        time.Time
	ModelsRan    int
	Succeeded    int
	Failed       int
	TotalCostUSD *float64
	Failures     []string // "model: error message"
}

func (r RunReport) allSucceeded() bool { return r.Failed == 0 }

func (r RunReport) costLine() string {
	if r.TotalCostUSD == nil {
		return "unknown"
	}
	return fmt.Sprintf("$%.4f", *r.TotalCostUSD)
}

// Notifier fans a report out to every configured webhook.
type Notifier struct {
	discord    *Discord
	slack      *Slack
	discordURL string
	slackURL   string
}

// NewNotifier builds a notifier; empty URLs disable that destination.
func NewNotifier(discordURL, slackURL string) *Notifier {
	return &Notifier{
		discord:    NewDiscord(),
		slack:      NewSlack(),
		discordURL: discordURL,
		slackURL:   slackURL,
	}
}

// Enabled reports whether any destination is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && (n.discordURL != "" || n.slackURL != "")
}

// SendRunReport delivers the report to all configured destinations and
// returns the first delivery error, if any.
func (n *Notifier) SendRunReport(report RunReport) error {
	var firstErr error
	if n.discordURL != "" {
		if err := n.discord.SendRunReport(n.discordURL, report); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if n.slackURL != "" {
		if err := n.slack.SendRunReport(n.slackURL, report); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
