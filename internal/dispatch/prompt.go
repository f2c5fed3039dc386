package dispatch

import (
	"fmt"
	"strings"
)

// outboxNote is the standing reminder appended to every prompt so the
// model knows the file-return channel exists.
const outboxNote = "[Files you save to .outbox/ in your working directory are uploaded to this thread.]"

// BuildPrompt wraps raw message text with the context the model needs:
// who is speaking, where, any files they shared, and the outbox reminder.
func BuildPrompt(text, user, channel, channelName, fileNote string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Message from <@%s> in %s]\n", user, promptLocation(channel, channelName))
	if fileNote != "" {
		b.WriteString(fileNote)
		b.WriteByte('\n')
	}
	if text != "" {
		b.WriteString(text)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(outboxNote)
	return b.String()
}

func promptLocation(channel, channelName string) string {
	if channel == "" || strings.HasPrefix(channel, "D") {
		return "a DM"
	}
	if channelName != "" {
		return "#" + channelName
	}
	return channel
}

// summonPrompt frames a reaction summon: who pulled the instance in,
// where, and the message they pointed it at.
func summonPrompt(user, instance, channelName, messageText string) string {
	return fmt.Sprintf("[<@%s> summoned you by reacting with :%s: to this message in #%s]\n%s",
		user, instance, channelName, messageText)
}

// roundtablePrompt wraps a fan-out turn. Instances that have nothing
// distinctive to add are told to answer with the pass marker so the
// thread is not flooded with agreement.
func roundtablePrompt(prompt, you string, names []string) string {
	return fmt.Sprintf("[ROUNDTABLE MODE] This message was sent to all instances (%s). You are %s. "+
		"Reply with your unique perspective, or reply with exactly %q if you have nothing unique to add.\n%s",
		strings.Join(names, ", "), you, passMarker, prompt)
}

// batchPrompt joins messages that queued behind an execution into one
// follow-up turn.
func batchPrompt(texts []string) string {
	return strings.Join(texts, "\n\n")
}

func queuedTexts(msgs []queuedMsg) []string {
	texts := make([]string, len(msgs))
	for i, m := range msgs {
		texts[i] = m.text
	}
	return texts
}
