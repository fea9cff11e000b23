package main

import (
	"fmt"
	"math"
	"time"

	"github.com/perch-irc/perch/irc"
)

// privmsg delivers a PRIVMSG to a channel or a user.
func (s *serverState) privmsg(id userID, target, content string) {
	s.deliver(id, "PRIVMSG", target, content, false)
}

// notice is PRIVMSG with every error path muted.
func (s *serverState) notice(id userID, target, content string) {
	s.deliver(id, "NOTICE", target, content, true)
}

func (s *serverState) deliver(id userID, command, target, content string, silent bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return
	}

	reject := func(code string, params []string, text string) {
		if !silent {
			s.numeric(u.out, u.nickname, code, params, text)
		}
	}

	if content == "" {
		reject(errNoTextToSend, nil, "No text to send")
		return
	}

	ch, direct := s.lookupTarget(target)
	if ch == nil && direct == nil {
		reject(errNoSuchNick, []string{target}, "No such nick/channel")
		return
	}

	event := irc.Message{
		Source:  u.fullspec(),
		Command: command,
		Text:    content,
	}

	if ch != nil {
		if !s.canSendToChannel(u, ch) {
			reject(errCannotSendToChan, []string{ch.name},
				"Cannot send to channel")
			return
		}

		event.Params = []string{ch.name}
		for member := range ch.members {
			if member == u.id {
				continue
			}
			if mu, ok := s.users[member]; ok {
				mu.out.queue(event)
			}
		}
		return
	}

	event.Params = []string{direct.nickname}
	direct.out.queue(event)

	if !silent && direct.awayMessage != "" {
		s.numeric(u.out, u.nickname, rplAway, []string{direct.nickname},
			direct.awayMessage)
	}
}

// canSendToChannel enforces the no-external and moderated gates. Caller
// holds the lock.
func (s *serverState) canSendToChannel(u *registeredUser, ch *channel) bool {
	mode, member := ch.members[u.id]

	if ch.mode.noExternal && !member {
		return false
	}
	if ch.mode.moderated && (!member || (!mode.op && !mode.voice)) {
		return false
	}
	return true
}

// away sets or clears the away message.
func (s *serverState) away(id userID, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return
	}

	u.awayMessage = message
	if message == "" {
		s.numeric(u.out, u.nickname, rplUnaway, nil,
			"You are no longer marked as being away")
		return
	}
	s.numeric(u.out, u.nickname, rplNowAway, nil,
		"You have been marked as being away")
}

// list serves LIST with its optional channel subset and filter options.
func (s *serverState) list(id userID, channels []string, options []listOption) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return
	}

	var candidates []*channel
	if len(channels) > 0 {
		for _, name := range channels {
			if ch, exists := s.channels[canonicalizeChannel(name)]; exists {
				candidates = append(candidates, ch)
			}
		}
	} else {
		for _, ch := range s.channels {
			candidates = append(candidates, ch)
		}
	}

	now := time.Now()
	for _, ch := range candidates {
		// Secret channels are invisible unless the requester is in them.
		if ch.mode.secret && !ch.isMember(id) {
			continue
		}
		if !keepListed(ch, options, now) {
			continue
		}

		s.numeric(u.out, u.nickname, rplList,
			[]string{ch.name, fmt.Sprintf("%d", len(ch.members))},
			ch.topic.content)
	}

	s.numeric(u.out, u.nickname, rplListEnd, nil, "End of /LIST")
}

// keepListed applies every LIST filter; all must pass.
//
// The U comparisons are intentionally inverted with respect to their
// letter (U<n keeps channels with more than n users). Clients in the
// wild grew to rely on it, so it stays.
func keepListed(ch *channel, options []listOption, now time.Time) bool {
	for _, option := range options {
		switch option.filter {
		case 'C':
			// Creation-time filtering was never implemented; the option
			// is accepted but excludes everything.
			return false

		case 'U':
			switch option.op {
			case '<':
				if !(uint64(len(ch.members)) > option.n) {
					return false
				}
			case '>':
				if !(uint64(len(ch.members)) < option.n) {
					return false
				}
			}

		case 'T':
			if option.op == 0 {
				continue
			}
			// A channel with no topic keeps a zero set-time, so its
			// delta is hugely negative: T< matches it, T> never does.
			delta := ch.topic.setAt/60 - now.Unix()/60
			bound := int64(math.MaxInt64)
			if option.n <= math.MaxInt64 {
				bound = int64(option.n)
			}
			switch option.op {
			case '<':
				if !(delta < bound) {
					return false
				}
			case '>':
				if !(delta > bound) {
					return false
				}
			}
		}
	}
	return true
}
