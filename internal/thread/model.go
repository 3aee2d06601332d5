// Package thread groups a flat batch of mail messages into conversational
// threads without looking at threading headers.
//
// Algorithm:
//  1. Bucket messages by (normalized subject, sender domain, time window).
//  2. Inside each bucket, score pairwise text similarity and union every
//     pair at or above the threshold.
//  3. Turn each connected component into a Thread and order all threads by
//     their most recent message, newest first.
//
// The package is pure: no I/O, no logging, no package-level mutable state.
package thread

import "time"

// Message is a single input message. It is never modified by the engine.
type Message struct {
	UID       uint32    `json:"uid"`
	Date      time.Time `json:"date"`
	From      string    `json:"from"`
	Subject   string    `json:"subject"`
	Text      string    `json:"text"`
	Mailbox   string    `json:"mailbox,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	To        []string  `json:"to,omitempty"`
	Cc        []string  `json:"cc,omitempty"`
}

// Thread is a group of messages judged to belong to one conversation.
type Thread struct {
	ID                 string    `json:"id"`
	SubjectFingerprint string    `json:"subject_fingerprint"`
	Participants       []string  `json:"participants"`
	Messages           []Message `json:"messages"`
}

// Last returns the chronologically last message of the thread.
func (t Thread) Last() Message {
	if len(t.Messages) == 0 {
		return Message{}
	}
	return t.Messages[len(t.Messages)-1]
}

// LastDate is the timestamp of the most recent message.
func (t Thread) LastDate() time.Time {
	return t.Last().Date
}

// Result is the output of one clustering run.
type Result struct {
	Threads []Thread `json:"threads"`
}

// MessageCount returns the total number of messages across all threads.
func (r Result) MessageCount() int {
	n := 0
	for _, t := range r.Threads {
		n += len(t.Messages)
	}
	return n
}
