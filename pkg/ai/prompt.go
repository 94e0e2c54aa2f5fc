package ai

import (
	"fmt"
	"regexp"
	"strings"

	"chatmon/pkg/models"
)

const msgTimeLayout = "2006-01-02 15:04:05"

// FormatConversation renders the context window plus the tagged message as
// a transcript. The tag and its inline parameters are stripped from the
// tagged message.
func FormatConversation(tag string, context []models.Message, origin models.Message) string {
	var b strings.Builder
	for _, m := range context {
		fmt.Fprintf(&b, "[%s] %s: %s\n\n", m.TS.Format(msgTimeLayout), m.Sender, m.Content)
	}
	fmt.Fprintf(&b, "[%s] %s: %s\n\n",
		origin.TS.Format(msgTimeLayout), origin.Sender, stripTagParams(tag, origin.Content))
	return b.String()
}

// stripTagParams removes the tag and any inline count parameter.
func stripTagParams(tag, content string) string {
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(tag) + `\s+(?:n=|context=|c=)?(?:\d+)?`)
	out := re.ReplaceAllString(content, "")
	re = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(tag))
	return strings.TrimSpace(re.ReplaceAllString(out, ""))
}

// FormatPrompt wraps the transcript with the response instructions.
func FormatPrompt(conversation string) string {
	return fmt.Sprintf(`I'm forwarding you a conversation from a chat. Please respond to the request in the last message.

CONVERSATION:
%s
Please provide a helpful, accurate, and concise response. Be conversational and friendly.
`, conversation)
}

// FormatSystemPrompt builds the system prompt for one chat.
func FormatSystemPrompt(chatName string) string {
	if chatName == "" {
		chatName = "Unknown Chat"
	}
	return fmt.Sprintf(`You are an AI assistant responding to requests from a chat named %q.
Be helpful, respectful, and accurate in your responses. Keep your responses concise and to the point,
as this is a chat conversation.

The user is expecting a direct response to the last message in the conversation they've shared.
`, chatName)
}
