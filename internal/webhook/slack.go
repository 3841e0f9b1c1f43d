package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Slack handles Slack webhook notifications
type Slack struct {
	client *http.Client
}

// NewSlack creates a new Slack webhook handler
func NewSlack() *Slack {
	return &Slack{
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// SlackBlock represents a Slack Block Kit block
type SlackBlock struct {
	Type   string         `json:"type"`
	Text   *SlackTextObj  `json:"text,omitempty"`
	Fields []SlackTextObj `json:"fields,omitempty"`
}

// SlackTextObj represents a Slack text object
type SlackTextObj struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// SlackAttachment represents a Slack attachment (for colored sidebar)
type SlackAttachment struct {
	Color  string       `json:"color"`
	Blocks []SlackBlock `json:"blocks"`
}

// SlackPayload represents the webhook payload
type SlackPayload struct {
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SendRunReport sends a run summary to Slack
func (s *Slack) SendRunReport(webhookURL string, report RunReport) error {
	// Determine color and emoji based on outcome
	var color, statusEmoji string
	switch {
	case report.allSucceeded():
		color = "#00FF00" // Green
		statusEmoji = ":white_check_mark:"
	case report.Succeeded == 0:
		color = "#FF0000" // Red
		statusEmoji = ":x:"
	default:
		color = "#FFFF00" // Yellow
		statusEmoji = ":warning:"
	}

	blocks := []SlackBlock{
		{
			Type: "header",
			Text: &SlackTextObj{
				Type:  "plain_text",
				Text:  fmt.Sprintf("%s Broadcast: %s", statusEmoji, report.TaskName),
				Emoji: true,
			},
		},
		{
			Type: "section",
			Fields: []SlackTextObj{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Models:*\n%d", report.ModelsRan)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Succeeded:*\n%d", report.Succeeded)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Cost:*\n%s", report.costLine())},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Ran:*\n<!date^%d^{date_short} {time}|%s>", report.RunAt.Unix(), report.RunAt.Format(time.RFC3339))},
			},
		},
	}

	if len(report.Failures) > 0 {
		errMsg := strings.Join(report.Failures, "\n")
		if len(errMsg) > 2500 {
			errMsg = errMsg[:2500] + "\n... _(truncated)_"
		}
		blocks = append(blocks,
			SlackBlock{Type: "divider"},
			SlackBlock{
				Type: "section",
				Text: &SlackTextObj{Type: "mrkdwn", Text: fmt.Sprintf("```%s```", errMsg)},
			},
		)
	}

	payload := SlackPayload{
		Text: fmt.Sprintf("Broadcast %s: %d/%d models responded", report.TaskName, report.Succeeded, report.ModelsRan),
		Attachments: []SlackAttachment{
			{Color: color, Blocks: blocks},
		},
	}

	return s.send(webhookURL, payload)
}

func (s *Slack) send(webhookURL string, payload SlackPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequest("POST", webhookURL, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
