// Package irc implements the line-oriented IRC wire protocol: framing a
// raw byte stream into discrete messages and encoding replies back into
// length-limited lines. It is useful for implementing clients and
// servers.
package irc

// MaxLineLength is the maximum protocol message line length, including
// the trailing CRLF.
//
// See RFC 1459/2812 section 2.3.
const MaxLineLength = 512

// MaxParams is how many parameters a single message may carry. Both RFC
// 1459 and RFC 2812 limit us to 15.
const MaxParams = 15

// Message holds a protocol message.
type Message struct {
	// Source is the message origin, without the leading ':'. For
	// server-originated messages this is either the server name or the
	// nick!user@host of the acting user. Clients should not send one;
	// the parser discards any it sees.
	Source string

	Command string

	// Params holds all parameters. A trailing parameter arrives here
	// stripped of its leading ':'.
	Params []string

	// Text is the trailing parameter for encoding. It is always encoded
	// with a leading ':' so it may contain spaces or be displayed
	// unambiguously. The parser never fills it in.
	Text string
}

// ParseError reports a line that could not be parsed as a protocol
// message.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return "cannot parse message: " + e.Reason
}
