// Package policy decides when the bot is allowed to speak. Direct
// replies (mentions, !ai commands) are gated by per-channel cooldowns;
// unprompted messages go through DecideAutospeak, which arbitrates
// between filling a quiet chat and reacting to a topic shift.
//
// All functions are pure: they take the current time explicitly and
// mutate only the State passed in.
package policy

import (
	"time"

	"github.com/basket/go-banter/internal/summarize"
)

// Reasons attached to outgoing messages.
const (
	ReasonMention    = "mention"
	ReasonAICommand  = "ai_command"
	ReasonSilence    = "silence"
	ReasonTopicShift = "topic_shift"
)

// State tracks one channel's speaking history. Timestamps are unix
// seconds; zero means the event never happened.
type State struct {
	LastSpeakTS        int64
	LastTopicFP        string
	LastTopicTS        int64
	LastMentionReplyTS int64
	LastAIReplyTS      int64
}

// Config holds the pacing knobs. Durations are in seconds.
type Config struct {
	AutoSpeakEnabled   bool
	SpeakEverySec      int64
	TopicCooldownSec   int64
	MentionCooldownSec int64
	AICooldownSec      int64
	QuietAfterSec      int64
	BusyChatMsgs10s    int
}

// ShouldReplyAI reports whether the !ai cooldown for the channel has
// elapsed.
func ShouldReplyAI(st *State, cfg Config, now time.Time) bool {
	return now.Unix()-st.LastAIReplyTS >= cfg.AICooldownSec
}

// ShouldReplyMention reports whether the mention cooldown for the
// channel has elapsed.
func ShouldReplyMention(st *State, cfg Config, now time.Time) bool {
	return now.Unix()-st.LastMentionReplyTS >= cfg.MentionCooldownSec
}

// DecideAutospeak returns the reason the bot should initiate a message,
// or "" to stay silent. Checks run in a fixed order: the global speak
// cooldown and busy-chat guard always win over both triggers, and a
// quiet chat wins over a topic shift.
func DecideAutospeak(st *State, cfg Config, sum *summarize.Summary, now time.Time) string {
	if !cfg.AutoSpeakEnabled || sum == nil {
		return ""
	}
	n := now.Unix()
	if n-st.LastSpeakTS < cfg.SpeakEverySec {
		return ""
	}
	if sum.MsgsLast10s > cfg.BusyChatMsgs10s {
		return ""
	}
	if sum.LastMessageAgeSec >= cfg.QuietAfterSec {
		return ReasonSilence
	}
	if sum.TopicFingerprint != "" && sum.TopicFingerprint != st.LastTopicFP &&
		n-st.LastTopicTS >= cfg.TopicCooldownSec {
		return ReasonTopicShift
	}
	return ""
}

// MarkSpoke records an outgoing message. Topic tracking only advances
// for autospeak reasons: a direct reply does not claim the topic.
func MarkSpoke(st *State, sum *summarize.Summary, reason string, now time.Time) {
	st.LastSpeakTS = now.Unix()
	if reason == ReasonSilence || reason == ReasonTopicShift {
		if sum != nil {
			st.LastTopicFP = sum.TopicFingerprint
		}
		st.LastTopicTS = now.Unix()
	}
}

// MarkMentionReplied records a mention reply for cooldown purposes.
func MarkMentionReplied(st *State, now time.Time) {
	st.LastMentionReplyTS = now.Unix()
}

// MarkAIReplied records an !ai reply for cooldown purposes.
func MarkAIReplied(st *State, now time.Time) {
	st.LastAIReplyTS = now.Unix()
}

// States lazily allocates per-channel policy state.
type States map[string]*State

// Get returns the state for channel, creating it on first use.
func (s States) Get(channel string) *State {
	st, ok := s[channel]
	if !ok {
		st = &State{}
		s[channel] = st
	}
	return st
}
