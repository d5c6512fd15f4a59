package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/aware/internal/decision"
)

func testPlan() *decision.Plan {
	return &decision.Plan{
		RunID:        "01JN123",
		Trigger:      "all",
		Status:       decision.PlanComplete,
		SafetyStatus: decision.SafetyWarning,
		Immediate: []decision.Action{
			{Priority: decision.LabelHigh, AssetID: "P-7", Description: "Leak on P-7", DispatchCrew: true},
		},
		Scheduled:  []decision.Action{},
		Monitoring: []decision.Action{{Priority: decision.LabelMonitor, Description: "watch J-2"}},
		Conflicts: []decision.Conflict{{
			Type:        "priority_conflict",
			Description: "Leak response requires pressure",
			Resolution:  "Leak response takes priority",
		}},
		Incidents: []decision.IncidentRecord{
			{AssetID: "P-7", Outcome: decision.OutcomeCreated, IncidentID: "01JNINC"},
			{AssetID: "P-8", Outcome: decision.OutcomeDuplicate},
		},
		Duration:    4.2,
		CompletedAt: time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC),
	}
}

func blockText(t *testing.T, block any) string {
	t.Helper()
	m := block.(map[string]any)
	if txt, ok := m["text"].(map[string]any); ok {
		return txt["text"].(string)
	}
	if els, ok := m["elements"].([]any); ok {
		return els[0].(map[string]any)["text"].(string)
	}
	t.Fatalf("block has no text: %v", m)
	return ""
}

func TestNotify_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	if err := n.Notify(context.Background(), testPlan()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}

	// header, fields, divider, immediate, conflicts, context
	if len(blocks) != 6 {
		t.Fatalf("blocks count = %d, want 6", len(blocks))
	}

	header := blockText(t, blocks[0])
	if !strings.Contains(header, "Action plan") || !strings.Contains(header, "\U0001f7e0") {
		t.Errorf("header = %q", header)
	}

	fields := blocks[1].(map[string]any)["fields"].([]any)
	if txt := fields[4].(map[string]any)["text"].(string); txt != "*Incidents:* 1" {
		t.Errorf("incidents field = %q, want only created incidents counted", txt)
	}

	immediate := blockText(t, blocks[3])
	if !strings.Contains(immediate, "`P-7` Leak on P-7") {
		t.Errorf("immediate block = %q", immediate)
	}
	if !strings.Contains(blockText(t, blocks[4]), "Leak response takes priority") {
		t.Error("conflict resolution missing")
	}
	if ctxText := blockText(t, blocks[5]); !strings.Contains(ctxText, "run 01JN123") || !strings.Contains(ctxText, "2026-02-26 14:23 UTC") {
		t.Errorf("context = %q", ctxText)
	}
}

func TestNotify_CriticalHalt(t *testing.T) {
	t.Parallel()

	p := &decision.Plan{
		RunID:   "01JNHALT",
		Trigger: "safety",
		Status:  decision.PlanCriticalHalt,
		Immediate: []decision.Action{
			{Priority: decision.LabelCritical, AssetID: "J-1", Description: "Critical low pressure"},
		},
	}
	msg := buildMessage(p)
	blocks := msg["blocks"].([]map[string]any)

	if len(blocks) != 5 {
		t.Errorf("blocks = %d, want 5 without conflicts", len(blocks))
	}
	header := blocks[0]["text"].(map[string]any)["text"].(string)
	if !strings.Contains(header, "Critical safety override") || !strings.Contains(header, "\U0001f534") {
		t.Errorf("header = %q", header)
	}
}

func TestNotify_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("", nil)
	if err := n.Notify(context.Background(), &decision.Plan{}); err != nil {
		t.Fatalf("Notify with empty URL should be no-op, got: %v", err)
	}
}

func TestNotify_WebhookError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := New(srv.URL, log.Nop()).Notify(context.Background(), testPlan())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "invalid_payload") {
		t.Errorf("error = %v", err)
	}
}

func TestActionsBlock_Limits(t *testing.T) {
	t.Parallel()

	var actions []decision.Action
	for i := range 14 {
		actions = append(actions, decision.Action{Priority: decision.LabelHigh, AssetID: fmt.Sprintf("P-%d", i), Description: "leak"})
	}
	text := actionsBlock("Immediate actions", actions)["text"].(map[string]any)["text"].(string)

	if !strings.Contains(text, "...and 4 more") {
		t.Errorf("text = %q", text)
	}
	if strings.Contains(text, "`P-10`") {
		t.Error("listed more actions than the limit")
	}

	empty := actionsBlock("Immediate actions", nil)["text"].(map[string]any)["text"].(string)
	if !strings.Contains(empty, "_None._") {
		t.Errorf("empty text = %q", empty)
	}
}

func TestActionsBlock_TruncatesLongDescriptions(t *testing.T) {
	t.Parallel()

	actions := []decision.Action{{Priority: decision.LabelHigh, Description: strings.Repeat("x", 5000)}}
	text := actionsBlock("Immediate actions", actions)["text"].(map[string]any)["text"].(string)
	if len(text) != maxTextLen || !strings.HasSuffix(text, "...") {
		t.Errorf("len = %d, want truncated to %d", len(text), maxTextLen)
	}
}

func TestStatusEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		plan *decision.Plan
		want string
	}{
		{"halt", &decision.Plan{Status: decision.PlanCriticalHalt}, "\U0001f534"},
		{"immediate", &decision.Plan{Status: decision.PlanComplete, Immediate: []decision.Action{{}}}, "\U0001f7e0"},
		{"quiet", &decision.Plan{Status: decision.PlanComplete}, "\U0001f7e2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := statusEmoji(tt.plan); got != tt.want {
				t.Errorf("statusEmoji = %q, want %q", got, tt.want)
			}
		})
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("P-1", "Leak on P-1", "all")
	f.Add("", "", "")
	f.Add("<@U123> mention", "*bold* _italic_ ~strike~", "safety")
	f.Add("asset\x00\x01", "desc\nline", "leak\ttab")
	f.Add(strings.Repeat("A", 5000), strings.Repeat("x", 10000), "energy")

	f.Fuzz(func(t *testing.T, asset, desc, trigger string) {
		p := &decision.Plan{
			RunID:     "fuzz-id",
			Trigger:   trigger,
			Status:    decision.PlanComplete,
			Immediate: []decision.Action{{Priority: decision.LabelHigh, AssetID: asset, Description: desc}},
			Conflicts: []decision.Conflict{{Description: desc, Resolution: desc}},
		}

		data, err := json.Marshal(buildMessage(p))
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("buildMessage JSON does not round-trip: %v", err)
		}
		if _, ok := decoded["blocks"].([]any); !ok {
			t.Fatal("missing blocks array")
		}
	})
}
