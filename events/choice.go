package events

import "strings"

// ChoiceSeparator joins the parts of a button identifier: "<flow>:<field>:<key>".
// The flow and field prefix scopes a button to the step that rendered it, so presses
// on buttons from an older step or another flow can be recognised and dropped.
const ChoiceSeparator = ":"

// ChoiceData builds the opaque identifier carried by a choice button.
func ChoiceData(flow, field, key string) string {
	return flow + ChoiceSeparator + field + ChoiceSeparator + key
}

// Choice is a parsed button identifier.
type Choice struct {
	Flow  string
	Field string
	Key   string
}

// ParseChoice splits a button identifier. ok is false for payloads that do not
// follow the convention.
func ParseChoice(payload string) (Choice, bool) {
	parts := strings.SplitN(payload, ChoiceSeparator, 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Choice{}, false
	}
	return Choice{Flow: parts[0], Field: parts[1], Key: parts[2]}, true
}
