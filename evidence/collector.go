// Package evidence reconstructs what happened to an order while it sat in
// one status. No foreign key ties a call or a comment to a stage, so the
// timeline is assembled purely from timestamps inside the stage window.
package evidence

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/liamcoop/salesaudit/crm"
)

// InteractionType classifies timeline entries
type InteractionType string

const (
	InteractionCall        InteractionType = "call"
	InteractionComment     InteractionType = "comment"
	InteractionFieldChange InteractionType = "field_change"
)

// Interaction is one entry of a stage timeline
type Interaction struct {
	Type      InteractionType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Content   string          `json:"content"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// Stage is the evidence gathered for one status occupancy window.
// Interactions are sorted by timestamp, oldest first.
type Stage struct {
	OrderID      string        `json:"orderId"`
	Status       string        `json:"status"`
	EntryTime    time.Time     `json:"entryTime"`
	ExitTime     time.Time     `json:"exitTime"`
	Interactions []Interaction `json:"interactions"`
}

// CallCount returns the number of call interactions
func (s *Stage) CallCount() int {
	n := 0
	for _, it := range s.Interactions {
		if it.Type == InteractionCall {
			n++
		}
	}
	return n
}

// Render formats the timeline as plain text for the judgment capability
func (s *Stage) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Order %s, stage %q from %s to %s\n",
		s.OrderID, s.Status, s.EntryTime.UTC().Format(time.RFC3339), s.ExitTime.UTC().Format(time.RFC3339))
	for i, it := range s.Interactions {
		fmt.Fprintf(&b, "\n[%d] %s %s", i+1, it.Timestamp.UTC().Format(time.RFC3339), strings.ToUpper(string(it.Type)))
		if field, ok := it.Metadata["field"]; ok {
			fmt.Fprintf(&b, " (%v)", field)
		}
		b.WriteString("\n")
		b.WriteString(it.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// Config names the history fields the collector interprets
type Config struct {
	CommentField      string
	CustomFieldPrefix string
}

// DefaultConfig returns the field names of a stock CRM install
func DefaultConfig() Config {
	return Config{
		CommentField:      "comments",
		CustomFieldPrefix: "UF_CRM_",
	}
}

// Collector gathers stage evidence from the collaborator stores
type Collector struct {
	calls  crm.CallStore
	events crm.EventStore
	config Config
	now    func() time.Time
}

// NewCollector creates a collector
func NewCollector(calls crm.CallStore, events crm.EventStore, config Config) *Collector {
	return &Collector{
		calls:  calls,
		events: events,
		config: config,
		now:    time.Now,
	}
}

// SetClock replaces the clock used for open stages
func (c *Collector) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Collect builds the timeline of orderID while it was in status between
// entry and exit. A zero exit means the order is still in the stage.
func (c *Collector) Collect(ctx context.Context, orderID, status string, entry, exit time.Time) (*Stage, error) {
	if exit.IsZero() {
		exit = c.now()
	}
	stage := &Stage{
		OrderID:   orderID,
		Status:    status,
		EntryTime: entry,
		ExitTime:  exit,
	}

	calls, err := c.calls.CallsForOrder(ctx, orderID, entry, exit)
	if err != nil {
		return nil, fmt.Errorf("failed to collect calls for order %s: %w", orderID, err)
	}
	for _, call := range calls {
		if !call.HasTranscript() {
			continue
		}
		stage.Interactions = append(stage.Interactions, Interaction{
			Type:      InteractionCall,
			Timestamp: call.StartedAt,
			Content:   strings.TrimSpace(call.Transcript),
			Metadata: map[string]any{
				"call_id":      call.ID,
				"direction":    call.Direction,
				"duration_sec": call.DurationSec,
			},
		})
	}

	history, err := c.events.History(ctx, orderID, entry, exit)
	if err != nil {
		return nil, fmt.Errorf("failed to collect history for order %s: %w", orderID, err)
	}
	for _, ev := range history {
		if it, ok := c.classify(ev); ok {
			stage.Interactions = append(stage.Interactions, it)
		}
	}

	sort.SliceStable(stage.Interactions, func(i, j int) bool {
		return stage.Interactions[i].Timestamp.Before(stage.Interactions[j].Timestamp)
	})
	return stage, nil
}

// classify maps a history row to an interaction. Rows of untracked fields are dropped.
func (c *Collector) classify(ev crm.Event) (Interaction, bool) {
	meta := map[string]any{
		"field":    ev.Field,
		"event_id": strconv.FormatInt(ev.ID, 10),
	}
	if ev.ManagerID != "" {
		meta["manager_id"] = ev.ManagerID
	}

	switch {
	case c.config.CommentField != "" && ev.Field == c.config.CommentField:
		text := crm.Text(ev.NewValue)
		if text == "" {
			return Interaction{}, false
		}
		return Interaction{Type: InteractionComment, Timestamp: ev.OccurredAt, Content: text, Metadata: meta}, true

	case c.config.CustomFieldPrefix != "" && strings.HasPrefix(ev.Field, c.config.CustomFieldPrefix):
		content := fmt.Sprintf("%s: %q -> %q", ev.Field, crm.CodeOf(ev.OldValue), crm.CodeOf(ev.NewValue))
		return Interaction{Type: InteractionFieldChange, Timestamp: ev.OccurredAt, Content: content, Metadata: meta}, true
	}
	return Interaction{}, false
}
