package bus

import "strconv"

// TypeChatMessage is the value of the "type" field on IN stream entries
// carrying a chat line. Entries with any other type (including bootstrap
// markers) are acked and skipped by consumers.
const TypeChatMessage = "chat_message"

// ChatMessage is one chat line as published by the gateway on the IN
// stream. All values travel as strings; Fields and ParseChatMessage are
// the two sides of the wire contract.
type ChatMessage struct {
	TS          int64
	Channel     string // lower-case, no leading '#'
	User        string
	Text        string
	MsgID       string
	UserID      string
	DisplayName string
	Badges      string
	Mod         string
	Subscriber  string
	VIP         string
	Raw         string
}

// Fields renders the message as the flat map stored on the stream.
func (m ChatMessage) Fields() map[string]string {
	return map[string]string{
		"ts":           strconv.FormatInt(m.TS, 10),
		"type":         TypeChatMessage,
		"channel":      m.Channel,
		"user":         m.User,
		"text":         m.Text,
		"msg_id":       m.MsgID,
		"user_id":      m.UserID,
		"display_name": m.DisplayName,
		"badges":       m.Badges,
		"mod":          m.Mod,
		"subscriber":   m.Subscriber,
		"vip":          m.VIP,
		"raw":          m.Raw,
	}
}

// ParseChatMessage reads a stream field map produced by Fields. Missing
// keys yield zero values.
func ParseChatMessage(fields map[string]string) ChatMessage {
	return ChatMessage{
		TS:          parseUnix(fields["ts"]),
		Channel:     fields["channel"],
		User:        fields["user"],
		Text:        fields["text"],
		MsgID:       fields["msg_id"],
		UserID:      fields["user_id"],
		DisplayName: fields["display_name"],
		Badges:      fields["badges"],
		Mod:         fields["mod"],
		Subscriber:  fields["subscriber"],
		VIP:         fields["vip"],
		Raw:         fields["raw"],
	}
}

// OutboundMessage is one reply as published by the brain on the OUT stream.
type OutboundMessage struct {
	TS      int64
	Channel string
	Text    string
	ReplyTo string // parent msg_id for a threaded reply, empty for a plain line
}

// Fields renders the message for the stream. reply_to is omitted when empty.
func (m OutboundMessage) Fields() map[string]string {
	fields := map[string]string{
		"ts":      strconv.FormatInt(m.TS, 10),
		"channel": m.Channel,
		"text":    m.Text,
	}
	if m.ReplyTo != "" {
		fields["reply_to"] = m.ReplyTo
	}
	return fields
}

// ParseOutbound reads a stream field map produced by Fields. The older
// reply_parent_msg_id key is honored when reply_to is absent.
func ParseOutbound(fields map[string]string) OutboundMessage {
	reply := fields["reply_to"]
	if reply == "" {
		reply = fields["reply_parent_msg_id"]
	}
	return OutboundMessage{
		TS:      parseUnix(fields["ts"]),
		Channel: fields["channel"],
		Text:    fields["text"],
		ReplyTo: reply,
	}
}

// parseUnix accepts both integer and fractional unix timestamps; other
// producers on the bus are not required to truncate.
func parseUnix(s string) int64 {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}
