// Package slack posts action plans to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/aware/internal/decision"
)

const (
	maxActionsListed = 10
	maxTextLen       = 2900
	httpTimeout      = 10 * time.Second
)

// Notifier sends plans to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

var _ decision.Notifier = (*Notifier)(nil)

// New creates a new Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Notify posts a plan to the configured Slack webhook.
func (n *Notifier) Notify(ctx context.Context, p *decision.Plan) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(p))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	n.logger.Info(ctx, "plan posted to slack", "run_id", p.RunID, "immediate_actions", len(p.Immediate))
	return nil
}

func buildMessage(p *decision.Plan) map[string]any {
	blocks := []map[string]any{
		headerBlock(p),
		fieldsBlock(p),
		{"type": "divider"},
		actionsBlock("Immediate actions", p.Immediate),
	}
	if len(p.Conflicts) > 0 {
		blocks = append(blocks, conflictsBlock(p.Conflicts))
	}
	blocks = append(blocks, contextBlock(p))
	return map[string]any{"blocks": blocks}
}

func headerBlock(p *decision.Plan) map[string]any {
	title := "Action plan"
	if p.Status == decision.PlanCriticalHalt {
		title = "Critical safety override"
	}
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s %s (%s)", statusEmoji(p), title, p.Trigger),
		},
	}
}

func fieldsBlock(p *decision.Plan) map[string]any {
	safety := string(p.SafetyStatus)
	if safety == "" {
		safety = "n/a"
	}
	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Safety:* %s", safety)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Immediate:* %d", len(p.Immediate))},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Scheduled:* %d", len(p.Scheduled))},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Monitoring:* %d", len(p.Monitoring))},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Incidents:* %d", createdIncidents(p))},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Duration:* %.1fs", p.Duration)},
	}
	return map[string]any{"type": "section", "fields": fields}
}

func actionsBlock(title string, actions []decision.Action) map[string]any {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n", title)
	if len(actions) == 0 {
		b.WriteString("_None._")
	}
	for i, a := range actions {
		if i == maxActionsListed {
			fmt.Fprintf(&b, "_...and %d more_", len(actions)-maxActionsListed)
			break
		}
		fmt.Fprintf(&b, "• *%s* `%s` %s", a.Priority, a.AssetID, a.Description)
		if a.DispatchCrew {
			b.WriteString(" :construction_worker:")
		}
		b.WriteString("\n")
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{"type": "mrkdwn", "text": truncate(b.String(), maxTextLen)},
	}
}

func conflictsBlock(conflicts []decision.Conflict) map[string]any {
	var b strings.Builder
	b.WriteString("*Conflicts*\n")
	for _, c := range conflicts {
		fmt.Fprintf(&b, "• %s: %s\n", c.Description, c.Resolution)
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{"type": "mrkdwn", "text": truncate(b.String(), maxTextLen)},
	}
}

func contextBlock(p *decision.Plan) map[string]any {
	ts := p.CompletedAt
	if ts.IsZero() {
		ts = p.StartedAt
	}
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{{
			"type": "mrkdwn",
			"text": fmt.Sprintf("aware • run %s • %s", p.RunID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		}},
	}
}

func statusEmoji(p *decision.Plan) string {
	switch {
	case p.Status == decision.PlanCriticalHalt:
		return "\U0001f534" // red circle
	case len(p.Immediate) > 0:
		return "\U0001f7e0" // orange circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func createdIncidents(p *decision.Plan) int {
	n := 0
	for _, rec := range p.Incidents {
		if rec.Outcome == decision.OutcomeCreated {
			n++
		}
	}
	return n
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
