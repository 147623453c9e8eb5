// Package irc implements the small slice of the tagged IRC dialect that
// Twitch chat speaks: line parsing, login/join/privmsg emission, and a
// connection that answers server pings itself.
package irc

import "strings"

// Message is one parsed line from the wire.
type Message struct {
	Raw      string
	Tags     map[string]string
	Prefix   string
	Command  string
	Params   []string
	Trailing string
}

// ParseLine parses a single line (without its CRLF) into a Message.
//
// Layout: [@tags ][:prefix ]command [params...][ :trailing]
// Tags split on ';' into key[=value] pairs; a missing '=' means an empty
// value. The first " :" separates the trailing argument.
func ParseLine(line string) Message {
	msg := Message{Raw: line, Tags: map[string]string{}}
	rest := line

	if strings.HasPrefix(rest, "@") {
		tagsPart := rest[1:]
		if idx := strings.Index(rest, " "); idx >= 0 {
			tagsPart = rest[1:idx]
			rest = rest[idx+1:]
		} else {
			rest = ""
		}
		for _, kv := range strings.Split(tagsPart, ";") {
			if kv == "" {
				continue
			}
			if k, v, ok := strings.Cut(kv, "="); ok {
				msg.Tags[k] = v
			} else {
				msg.Tags[kv] = ""
			}
		}
	}

	if strings.HasPrefix(rest, ":") {
		if idx := strings.Index(rest, " "); idx >= 0 {
			msg.Prefix = rest[1:idx]
			rest = rest[idx+1:]
		} else {
			msg.Prefix = rest[1:]
			rest = ""
		}
	}

	head := rest
	if h, trailing, ok := strings.Cut(rest, " :"); ok {
		head = h
		msg.Trailing = trailing
	}

	parts := strings.Fields(head)
	if len(parts) > 0 {
		msg.Command = parts[0]
		msg.Params = parts[1:]
	}
	return msg
}

// Nick extracts the sender's nick from the prefix
// (nick!nick@nick.tmi.twitch.tv).
func (m Message) Nick() string {
	if m.Prefix == "" {
		return ""
	}
	if nick, _, ok := strings.Cut(m.Prefix, "!"); ok {
		return nick
	}
	return m.Prefix
}

// Channel returns the normalized target channel for commands whose first
// parameter is a #channel, or "" when there is none.
func (m Message) Channel() string {
	if len(m.Params) == 0 {
		return ""
	}
	return NormalizeChannel(m.Params[0])
}

// NormalizeChannel strips whitespace and the leading '#' and lower-cases.
func NormalizeChannel(ch string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ch), "#"))
}
