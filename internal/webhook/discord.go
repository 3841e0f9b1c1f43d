package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Discord handles Discord webhook notifications
type Discord struct {
	client *http.Client
}

// NewDiscord creates a new Discord webhook handler
func NewDiscord() *Discord {
	return &Discord{
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// DiscordEmbed represents a Discord embed object
type DiscordEmbed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

// EmbedField represents a field in a Discord embed
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// EmbedFooter represents the footer of a Discord embed
type EmbedFooter struct {
	Text string `json:"text"`
}

// DiscordPayload represents the webhook payload
type DiscordPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []DiscordEmbed `json:"embeds,omitempty"`
}

// SendRunReport sends a run summary to Discord
func (d *Discord) SendRunReport(webhookURL string, report RunReport) error {
	// Determine color based on outcome
	var color int
	var statusEmoji string
	switch {
	case report.allSucceeded():
		color = 0x00FF00 // Green
		statusEmoji = "✅"
	case report.Succeeded == 0:
		color = 0xFF0000 // Red
		statusEmoji = "❌"
	default:
		color = 0xFFFF00 // Yellow
		statusEmoji = "⚠️"
	}

	embed := DiscordEmbed{
		Title:       fmt.Sprintf("%s Broadcast: %s", statusEmoji, report.TaskName),
		Description: fmt.Sprintf("%d/%d models responded", report.Succeeded, report.ModelsRan),
		Color:       color,
		Fields: []EmbedField{
			{Name: "Models", Value: fmt.Sprintf("%d", report.ModelsRan), Inline: true},
			{Name: "Failed", Value: fmt.Sprintf("%d", report.Failed), Inline: true},
			{Name: "Cost", Value: report.costLine(), Inline: true},
		},
		Timestamp: report.RunAt.Format(time.RFC3339),
		Footer:    &EmbedFooter{Text: "modelwatch scheduler"},
	}

	// Add error field if present - errors use a code block for readability
	if len(report.Failures) > 0 {
		errMsg := strings.Join(report.Failures, "\n")
		if len(errMsg) > 500 {
			errMsg = errMsg[:500] + "..."
		}
		embed.Fields = append(embed.Fields, EmbedField{
			Name:   "⚠️ Failures",
			Value:  fmt.Sprintf("```\n%s\n```", errMsg),
			Inline: false,
		})
	}

	payload := DiscordPayload{
		Embeds: []DiscordEmbed{embed},
	}

	return d.send(webhookURL, payload)
}

func (d *Discord) send(webhookURL string, payload DiscordPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequest("POST", webhookURL, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
