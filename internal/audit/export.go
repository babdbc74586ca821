package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"agentguard/internal/domain"
)

// WriteEvents renders events to w. With structured set, each event becomes
// one JSON line; otherwise each becomes a human-readable line of the form
//
//	[timestamp] SEVERITY TYPE OPERATION RESOURCE - RESULT details
func WriteEvents(w io.Writer, events []domain.AuditEvent, structured bool) error {
	if structured {
		enc := json.NewEncoder(w)
		for i := range events {
			if err := enc.Encode(&events[i]); err != nil {
				return err
			}
		}
		return nil
	}

	for i := range events {
		if _, err := io.WriteString(w, FormatEvent(&events[i])+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// FormatEvent renders one event as a human-readable line.
func FormatEvent(ev *domain.AuditEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s %s %s - %s",
		ev.Timestamp.Format(time.RFC3339), ev.Severity, ev.Type,
		ev.Operation, ev.Resource, ev.Result)
	if len(ev.Details) > 0 {
		keys := make([]string, 0, len(ev.Details))
		for k := range ev.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%s", k, ev.Details[k])
		}
	}
	return b.String()
}
