// Package notify is the outbound notification boundary. Delivery is
// best-effort and happens after commit; a failed notification is never
// rolled back into the transaction that triggered it.
package notify

import (
	"context"

	"dmarcview.org/internal/obs"
)

// OrgInvite notifies an existing user that they were added to an
// organization.
type OrgInvite struct {
	Email   string
	OrgName string
}

// CreateAccountInvite asks a person without an account to create one via
// the embedded invitation link.
type CreateAccountInvite struct {
	Email   string
	OrgName string
	Link    string
}

// Notifier delivers outbound notifications.
type Notifier interface {
	SendOrgInvite(ctx context.Context, invite OrgInvite) error
	SendCreateAccountInvite(ctx context.Context, invite CreateAccountInvite) error
}

// LogNotifier records notifications as structured log lines instead of
// delivering them. Used in development and tests; the mail sender plugs in
// behind the same interface.
type LogNotifier struct{}

var _ Notifier = LogNotifier{}

func (LogNotifier) SendOrgInvite(_ context.Context, invite OrgInvite) error {
	obs.LogEntry(map[string]any{
		"op":    "notify.org_invite",
		"email": invite.Email,
		"org":   invite.OrgName,
	})
	return nil
}

func (LogNotifier) SendCreateAccountInvite(_ context.Context, invite CreateAccountInvite) error {
	obs.LogEntry(map[string]any{
		"op":    "notify.create_account_invite",
		"email": invite.Email,
		"org":   invite.OrgName,
		"link":  invite.Link,
	})
	return nil
}
