package tagger

import (
	"fmt"
	"strings"
)

// Reply renders the summary for the operator. prefix is the command prefix
// used in hints.
func (s Summary) Reply(prefix string) string {
	var b strings.Builder
	failed := len(s.Results) - s.Succeeded()
	fmt.Fprintf(&b, "Tagging finished: %d succeeded, %d not tagged.", s.Succeeded(), failed)

	for _, r := range s.Results {
		b.WriteString("\n")
		name := r.GroupName
		if name == "" {
			name = "group"
		}
		switch r.Outcome {
		case OutcomeOK:
			fmt.Fprintf(&b, "✅ %d. %s: %d tagged", r.Index, name, r.Mentioned)
		case OutcomeNoOp:
			fmt.Fprintf(&b, "➖ %d. %s: nobody left to tag", r.Index, name)
		case OutcomeNotAdmin:
			fmt.Fprintf(&b, "❌ %d. %s: no longer admin, run %srefreshgroups", r.Index, name, prefix)
		case OutcomeInvalidIndex:
			fmt.Fprintf(&b, "❌ %d: no such group, run %slist", r.Index, prefix)
		default:
			fmt.Fprintf(&b, "❌ %d. %s: failed", r.Index, name)
		}
	}

	if s.Excluded > 0 {
		fmt.Fprintf(&b, "\nExcluded participants: %d", s.Excluded)
	}
	return b.String()
}
