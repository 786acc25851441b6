package dialogue

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Command is a control token the reply generator embeds in its output to
// steer the dialogue. Tokens are extracted during parsing and never sent
// as visible text.
type Command string

const (
	CommandSendLinks      Command = "send_links"
	CommandNegativeFinish Command = "negative_finish"
	CommandCreativeSent   Command = "creative_sent"
	CommandHandoff        Command = "handoff"
)

const segmentSeparator = "|||"

var commandPattern = regexp.MustCompile(`(?i)\[(SEND_LINKS|NEGATIVE_FINISH|CREATIVE_SENT|HANDOFF)\]`)

// Segment is one outgoing message candidate together with the control
// tokens found inside it, in order of appearance.
type Segment struct {
	Text     string
	Commands []Command
}

// Reply is the parsed form of one generated reply.
type Reply struct {
	Raw      string
	Segments []Segment
}

// HasText reports whether any segment carries visible text.
func (r Reply) HasText() bool {
	for _, seg := range r.Segments {
		if seg.Text != "" {
			return true
		}
	}
	return false
}

// ParseReply splits a raw reply on the segment separator and extracts the
// recognized control tokens. Parsing is total: every input yields a valid
// segment list, and unrecognized bracket tokens stay in the text as-is.
func ParseReply(raw string) Reply {
	reply := Reply{Raw: raw}
	if strings.TrimSpace(raw) == "" {
		return reply
	}
	for _, part := range strings.Split(raw, segmentSeparator) {
		seg := parseSegment(part)
		if seg.Text == "" && len(seg.Commands) == 0 {
			continue
		}
		reply.Segments = append(reply.Segments, seg)
	}
	return reply
}

func parseSegment(part string) Segment {
	var seg Segment
	for _, m := range commandPattern.FindAllStringSubmatch(part, -1) {
		seg.Commands = append(seg.Commands, commandFromToken(m[1]))
	}
	seg.Text = cleanText(commandPattern.ReplaceAllString(part, ""))
	return seg
}

func commandFromToken(token string) Command {
	switch strings.ToUpper(token) {
	case "SEND_LINKS":
		return CommandSendLinks
	case "NEGATIVE_FINISH":
		return CommandNegativeFinish
	case "CREATIVE_SENT":
		return CommandCreativeSent
	default:
		return CommandHandoff
	}
}

// cleanText normalizes a segment the way messages are meant to read on the
// wire: a leading capital is lowered when it opens an ordinary sentence,
// trailing periods are stripped, whitespace is collapsed.
func cleanText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	first, size := utf8.DecodeRuneInString(s)
	if size < len(s) {
		next, _ := utf8.DecodeRuneInString(s[size:])
		if unicode.IsUpper(first) && unicode.IsLower(next) {
			s = string(unicode.ToLower(first)) + s[size:]
		}
	}
	for strings.HasSuffix(s, ".") {
		s = strings.TrimSpace(strings.TrimSuffix(s, "."))
	}
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimSpace(strings.Trim(s, "|"))
}
