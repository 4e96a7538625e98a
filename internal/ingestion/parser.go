package ingestion

import (
	"fmt"
	"strings"

	"AegisVault/internal/event"
)

// callSubjectPrefix is the inbound subject root: vault.calls.<call>.<sender>
const callSubjectPrefix = "vault.calls."

// ParseRawEvent converts a RawEvent (JSON bytes + call name) into a typed
// event.Event. callName may be the CamelCase name or the subject token.
func ParseRawEvent(raw RawEvent, callName string) (event.Event, error) {
	et := event.ParseEventType(callName)
	if et == event.EventTypeUnknown {
		return nil, fmt.Errorf("unknown event type: %s", callName)
	}
	return event.Unmarshal(et, raw.Data)
}

// CallFromSubject extracts the call token from an inbound subject such as
// vault.calls.deposit.0xabc.
func CallFromSubject(subject string) (string, error) {
	if !strings.HasPrefix(subject, callSubjectPrefix) {
		return "", fmt.Errorf("subject %q outside %s>", subject, callSubjectPrefix)
	}
	rest := strings.TrimPrefix(subject, callSubjectPrefix)
	call, _, _ := strings.Cut(rest, ".")
	if call == "" {
		return "", fmt.Errorf("subject %q has no call token", subject)
	}
	return call, nil
}
