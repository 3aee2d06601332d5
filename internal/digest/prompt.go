// Package digest turns clustered mail threads into a prioritized to-do
// digest using an LLM, and runs the fetch → cluster → summarize → persist
// flow end to end.
package digest

import (
	"fmt"
	"strings"
	"time"

	"github.com/hurttlocker/inboxdigest/internal/thread"
)

const (
	// DefaultTimelineItems is how many of a thread's latest messages are
	// shown to the model.
	DefaultTimelineItems = 6

	maxPromptParticipants = 10

	DefaultInstruction = "Turn these emails into my to-do list, ordered by priority"
)

const systemPrompt = `You are a senior email assistant. Based on the mail threads provided, summarize what matters and produce clear, actionable to-do items, each tagged with a priority:
P0 = urgent (due within 48h or blocking someone else), P1 = important but not urgent, P2 = normal.
Answer as a Markdown list. When information is missing, add a "needs confirmation" item instead of guessing.`

// FormatThread renders one thread as a prompt block: fingerprint,
// participants and a timeline of the last maxItems messages.
func FormatThread(t thread.Thread, maxItems int) string {
	if maxItems <= 0 {
		maxItems = DefaultTimelineItems
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Subject fingerprint: %s\n", t.SubjectFingerprint)
	if len(t.Participants) > 0 {
		ps := t.Participants
		if len(ps) > maxPromptParticipants {
			ps = ps[:maxPromptParticipants]
		}
		fmt.Fprintf(&b, "Participants: %s\n", strings.Join(ps, ", "))
	}
	b.WriteString("Timeline:")

	msgs := t.Messages
	if len(msgs) > maxItems {
		msgs = msgs[len(msgs)-maxItems:]
	}
	for _, m := range msgs {
		fmt.Fprintf(&b, "\n- %s | From: %s | %s", m.Date.Format(time.RFC3339), m.From, strings.TrimSpace(m.Text))
	}
	return b.String()
}

// BuildPrompt returns the system and user prompts for one batch of threads.
func BuildPrompt(threads []thread.Thread, instruction string) (system, user string) {
	blocks := make([]string, len(threads))
	for i, t := range threads {
		blocks[i] = FormatThread(t, DefaultTimelineItems)
	}
	return systemPrompt, userPrompt(instruction, strings.Join(blocks, "\n\n"))
}

func userPrompt(instruction, threadsBlock string) string {
	if strings.TrimSpace(instruction) == "" {
		instruction = DefaultInstruction
	}
	return fmt.Sprintf("Instruction: %s\n\nClustered mail threads:\n\n%s\n\nAnswer in Markdown following the instruction; order items P0, P1, P2 where possible.",
		instruction, threadsBlock)
}
