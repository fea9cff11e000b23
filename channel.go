package main

import "fmt"

// channelMode holds the boolean channel flags.
type channelMode struct {
	secret         bool // s
	topicProtected bool // t
	moderated      bool // m
	noExternal     bool // n
}

// defaultChannelMode is what new channels get when the config does not
// say otherwise.
var defaultChannelMode = channelMode{noExternal: true}

// String renders the flags in canonical order.
func (m channelMode) String() string {
	s := "+"
	if m.noExternal {
		s += "n"
	}
	if m.secret {
		s += "s"
	}
	if m.moderated {
		s += "m"
	}
	if m.topicProtected {
		s += "t"
	}
	return s
}

// parseChannelMode parses a mode-letter string such as "ns" from the
// configuration.
func parseChannelMode(letters string) (channelMode, error) {
	var m channelMode
	for i := 0; i < len(letters); i++ {
		switch letters[i] {
		case 'n':
			m.noExternal = true
		case 's':
			m.secret = true
		case 'm':
			m.moderated = true
		case 't':
			m.topicProtected = true
		case '+':
		default:
			return channelMode{}, fmt.Errorf("unknown channel mode %q", letters[i])
		}
	}
	return m, nil
}

// channelUserMode holds a member's per-channel flags.
type channelUserMode struct {
	op    bool // o
	voice bool // v
}

// prefix is the glyph shown before the nick in NAMES/WHO replies.
func (m channelUserMode) prefix() string {
	if m.op {
		return "@"
	}
	if m.voice {
		return "+"
	}
	return ""
}

// topic is a channel topic. It is valid once content has been set.
type topic struct {
	content string
	setAt   int64 // seconds since epoch
	setBy   string
}

func (t topic) isValid() bool {
	return t.content != "" && t.setAt > 0
}

// channel holds everything to do with a channel. Membership is a pure
// id set; users never hold references back to channels.
type channel struct {
	// Display name, preserving the case of the JOIN that created it.
	// Lookup happens under the canonicalized name.
	name string

	topic   topic
	members map[userID]*channelUserMode
	mode    channelMode
}

// visibilityGlyph is the channel type glyph used in NAMES replies.
func (c *channel) visibilityGlyph() string {
	if c.mode.secret {
		return "@"
	}
	return "="
}

func (c *channel) isMember(id userID) bool {
	_, ok := c.members[id]
	return ok
}
