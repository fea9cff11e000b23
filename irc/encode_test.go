package irc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		message Message
		output  string
	}{
		{
			Message{Source: "srv", Command: "001", Params: []string{"alice"},
				Text: "Welcome to the Internet Relay Network alice!alice@hidden"},
			":srv 001 alice :Welcome to the Internet Relay Network alice!alice@hidden\r\n",
		},
		{
			Message{Source: "alice!alice@hidden", Command: "JOIN",
				Params: []string{"#room"}},
			":alice!alice@hidden JOIN #room\r\n",
		},
		{
			Message{Source: "srv", Command: "PONG", Params: []string{"srv"},
				Text: "token"},
			":srv PONG srv :token\r\n",
		},
		{
			Message{Command: "PING", Text: "abcdef"},
			"PING :abcdef\r\n",
		},
		{
			Message{Source: "srv", Command: "004",
				Params: []string{"alice", "srv", "0", "a", "a"}},
			":srv 004 alice srv 0 a a\r\n",
		},
	}

	for _, test := range tests {
		assert.Equal(t, test.output, string(test.message.Encode()))
	}
}

func TestEncodeTruncates(t *testing.T) {
	long := strings.Repeat("x", 1024)

	msg := Message{
		Source:  "alice!alice@hidden",
		Command: "PRIVMSG",
		Params:  []string{"#room"},
		Text:    long,
	}

	out := msg.Encode()
	assert.Len(t, out, MaxLineLength)
	assert.Equal(t, "\r\n", string(out[MaxLineLength-2:]))
	assert.True(t, strings.HasPrefix(string(out), ":alice!alice@hidden PRIVMSG #room :xxx"))
}

func TestEncodeEveryLineTerminated(t *testing.T) {
	// Whatever we throw at the encoder, the line fits the limit and ends
	// with CRLF.
	messages := []Message{
		{Command: "PING"},
		{Source: strings.Repeat("s", 600), Command: "QUIT"},
		{Command: "353", Params: []string{"alice", "=", "#room"},
			Text: strings.Repeat("@nick ", 200)},
	}

	for _, msg := range messages {
		out := msg.Encode()
		assert.LessOrEqual(t, len(out), MaxLineLength)
		assert.True(t, strings.HasSuffix(string(out), "\r\n"))
	}
}
