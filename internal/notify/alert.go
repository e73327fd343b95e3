package notify

import (
	"fmt"
	"strings"
)

// alertText renders an operator alert for ev.
func alertText(ev Event) string {
	var b strings.Builder
	switch ev.Type {
	case EventSessionAuthFailed:
		fmt.Fprintf(&b, "⚠️ Session %s failed to authenticate", ev.SessionID)
	case EventSessionDisconnected:
		fmt.Fprintf(&b, "⚠️ Session %s disconnected", ev.SessionID)
	default:
		fmt.Fprintf(&b, "Session %s: %s", ev.SessionID, ev.Type)
	}
	if ev.Tenant != "" {
		fmt.Fprintf(&b, " (tenant %s)", ev.Tenant)
	}
	if ev.Reason != "" {
		fmt.Fprintf(&b, "\nReason: %s", ev.Reason)
	}
	if ev.AccountID != "" {
		fmt.Fprintf(&b, "\nAccount: %s", ev.AccountID)
	}
	return b.String()
}
