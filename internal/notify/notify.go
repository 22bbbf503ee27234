// Package notify tells human operators about escalated conversations.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/switchyard/internal/models"
)

// Color constants for notice severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// Field is a key-value pair displayed with a notice.
type Field struct {
	Name  string
	Value string
	Short bool // hint: render side-by-side with another field
}

// Notice is a platform-neutral operator message.
type Notice struct {
	Title    string
	Body     string
	Severity string // "info", "warning", "error", "success"
	Color    string
	Fields   []Field
}

// Notifier delivers notices to an operator channel.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// Multi fans a notice out to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, n Notice) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// severityColor maps a severity string to a sidebar color.
func severityColor(severity string) string {
	switch severity {
	case "success":
		return ColorSuccess
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

// Escalation formats a notice for a newly opened or re-triggered case.
func Escalation(c *models.HandoffCase, reason, lastMessage string, created bool) Notice {
	title := fmt.Sprintf("Handoff requested by %s", c.ContactAddress)
	if !created {
		title = fmt.Sprintf("Contact %s is still waiting", c.ContactAddress)
	}
	n := Notice{
		Title:    title,
		Body:     truncate(lastMessage, 500),
		Severity: "warning",
		Fields: []Field{
			{Name: "Case", Value: c.ID, Short: true},
			{Name: "Status", Value: c.Status, Short: true},
		},
	}
	if reason != "" {
		n.Fields = append(n.Fields, Field{Name: "Reason", Value: reason, Short: true})
	}
	if c.TenantID != "" {
		n.Fields = append(n.Fields, Field{Name: "Tenant", Value: c.TenantID, Short: true})
	}
	if c.AssignedTo != "" {
		n.Fields = append(n.Fields, Field{Name: "Assigned", Value: c.AssignedTo, Short: true})
	}
	n.Color = severityColor(n.Severity)
	return n
}

// Digest formats a summary of case activity.
func Digest(r *DigestReport) Notice {
	severity := "info"
	if r.Open > 0 {
		severity = "warning"
	}
	var body []string
	body = append(body, fmt.Sprintf("%d open, %d assigned, %d resolved since %s",
		r.Open, r.Assigned, r.Resolved, r.PeriodStart.Format("Jan 2 15:04")))
	if r.Oldest != nil {
		body = append(body, fmt.Sprintf("Oldest waiting: %s (%s, %s)",
			r.Oldest.ContactAddress, r.Oldest.ID, formatAge(r.PeriodEnd.Sub(r.Oldest.CreatedAt))))
	}
	n := Notice{
		Title:    "Handoff digest",
		Body:     strings.Join(body, "\n"),
		Severity: severity,
	}
	for _, t := range r.Tenants {
		n.Fields = append(n.Fields, Field{
			Name:  t.TenantID,
			Value: fmt.Sprintf("%d waiting", t.Waiting),
			Short: true,
		})
	}
	n.Color = severityColor(severity)
	return n
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// MockNotifier records notices for tests.
type MockNotifier struct {
	mu      sync.Mutex
	notices []Notice
	err     error
}

// FailWith makes subsequent Notify calls return err.
func (m *MockNotifier) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Notify implements Notifier.
func (m *MockNotifier) Notify(_ context.Context, n Notice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.notices = append(m.notices, n)
	return nil
}

// Notices returns a copy of everything delivered.
func (m *MockNotifier) Notices() []Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notice(nil), m.notices...)
}
