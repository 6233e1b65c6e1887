package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromText(t *testing.T) {
	tests := []struct {
		input   string
		kind    Kind
		command string
		args    string
	}{
		{"hello", KindText, "", ""},
		{"/deploy", KindCommand, "deploy", ""},
		{"/unrug 0xabc", KindCommand, "unrug", "0xabc"},
		{"/Launch@unrug_bot", KindCommand, "launch", ""},
		{"/unrug@unrug_bot   0x01  ", KindCommand, "unrug", "0x01"},
	}

	for _, test := range tests {
		ev := FromText("42", test.input)
		assert.Equal(t, test.kind, ev.Kind, test.input)
		assert.Equal(t, test.command, ev.Command, test.input)
		assert.Equal(t, test.args, ev.Args, test.input)
		assert.Equal(t, "42", ev.ConversationID)
		assert.Equal(t, test.input, ev.Payload)
	}
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, Event{Kind: KindText}.Validate(), ErrMissingConversation)
	assert.ErrorIs(t, Event{ConversationID: "1", Kind: "sticker"}.Validate(), ErrUnknownKind)
	assert.NoError(t, Event{ConversationID: "1", Kind: KindChoice}.Validate())
}

func TestChoiceRoundTrip(t *testing.T) {
	c, ok := ParseChoice(ChoiceData("launch", "amm", "jediswap"))
	assert.True(t, ok)
	assert.Equal(t, Choice{Flow: "launch", Field: "amm", Key: "jediswap"}, c)

	for _, bad := range []string{"", "launch", "launch:amm", "launch::x", ":amm:x", "deploy_confirm"} {
		_, ok := ParseChoice(bad)
		assert.False(t, ok, bad)
	}
}
