package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

var levelColors = map[AlertLevel]string{
	Info:     "#36a64f",
	Warning:  "#ffcc00",
	Error:    "#ff0000",
	Critical: "#8b0000",
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color   string       `json:"color"`
	Pretext string       `json:"pretext"`
	Text    string       `json:"text"`
	Fields  []slackField `json:"fields,omitempty"`
	Footer  string       `json:"footer"`
	TS      int64        `json:"ts"`
}

type slackMessage struct {
	Attachments []slackAttachment `json:"attachments"`
}

// SlackChannel posts alerts to an incoming webhook. An empty URL disables it.
type SlackChannel struct {
	webhookURL string
	client     *http.Client
}

func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *SlackChannel) Name() string {
	return "slack"
}

func (s *SlackChannel) Send(ctx context.Context, alert AlertPayload) error {
	if s.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(newSlackMessage(alert))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func newSlackMessage(alert AlertPayload) slackMessage {
	keys := make([]string, 0, len(alert.Fields))
	for k := range alert.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	att := slackAttachment{
		Color:   levelColors[alert.Level],
		Pretext: fmt.Sprintf("[%s] %s", alert.Level, alert.Title),
		Text:    alert.Message,
		Footer:  "Execution Client",
		TS:      alert.Timestamp.Unix(),
	}
	for _, k := range keys {
		att.Fields = append(att.Fields, slackField{Title: k, Value: alert.Fields[k], Short: true})
	}
	return slackMessage{Attachments: []slackAttachment{att}}
}
