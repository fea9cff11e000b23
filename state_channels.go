package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/perch-irc/perch/irc"
)

// broadcast queues a message to every member of a channel. Caller holds
// the lock.
func (s *serverState) broadcast(ch *channel, m irc.Message) {
	for member := range ch.members {
		if u, ok := s.users[member]; ok {
			u.out.queue(m)
		}
	}
}

// join handles JOIN for each requested channel in turn. An invalid name
// produces an error for that channel only; the rest still get tried.
func (s *serverState) join(id userID, channels []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return
	}

	for _, name := range channels {
		s.joinOne(u, name)
	}
}

func (s *serverState) joinOne(u *registeredUser, name string) {
	if !isValidChannel(name) {
		s.numeric(u.out, u.nickname, errBadChanMask, []string{name},
			"Bad Channel Mask")
		return
	}

	key := canonicalizeChannel(name)
	ch, exists := s.channels[key]
	if !exists {
		ch = &channel{
			name:    name,
			members: make(map[userID]*channelUserMode),
			mode:    s.defaultMode,
		}
		s.channels[key] = ch
	}

	// Joining twice is a no-op; no second broadcast.
	if ch.isMember(u.id) {
		return
	}

	mode := &channelUserMode{}
	if len(ch.members) == 0 {
		// First joiner of a fresh channel gets ops.
		mode.op = true
	}
	ch.members[u.id] = mode

	s.broadcast(ch, irc.Message{
		Source:  u.fullspec(),
		Command: "JOIN",
		Params:  []string{ch.name},
	})

	if ch.topic.isValid() {
		s.sendTopic(u, ch)
	}

	s.sendNames(u, ch)
}

// sendTopic queues 332 and 333 for a channel with a valid topic. Caller
// holds the lock.
func (s *serverState) sendTopic(u *registeredUser, ch *channel) {
	s.numeric(u.out, u.nickname, rplTopic, []string{ch.name}, ch.topic.content)
	s.numeric(u.out, u.nickname, rplTopicWhoTime,
		[]string{ch.name, ch.topic.setBy, fmt.Sprintf("%d", ch.topic.setAt)}, "")
}

// sendNames queues the 353/366 pair for one channel. Caller holds the
// lock.
func (s *serverState) sendNames(u *registeredUser, ch *channel) {
	var names []string
	for member, mode := range ch.members {
		if mu, ok := s.users[member]; ok {
			names = append(names, mode.prefix()+mu.nickname)
		}
	}

	s.numeric(u.out, u.nickname, rplNamReply,
		[]string{ch.visibilityGlyph(), ch.name}, strings.Join(names, " "))
	s.numeric(u.out, u.nickname, rplEndOfNames, []string{ch.name},
		"End of NAMES list")
}

// names handles an explicit NAMES command. Unknown channels, and secret
// channels the requester is not in, get the end marker only.
func (s *serverState) names(id userID, channels []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return
	}

	for _, name := range channels {
		ch, exists := s.channels[canonicalizeChannel(name)]
		if !exists || (ch.mode.secret && !ch.isMember(id)) {
			s.numeric(u.out, u.nickname, rplEndOfNames, []string{name},
				"End of NAMES list")
			continue
		}
		s.sendNames(u, ch)
	}
}

// part handles PART for each requested channel.
func (s *serverState) part(id userID, channels []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return
	}

	for _, name := range channels {
		s.partOne(u, name)
	}
}

func (s *serverState) partOne(u *registeredUser, name string) {
	key := canonicalizeChannel(name)

	ch, exists := s.channels[key]
	if !isValidChannel(name) || !exists {
		s.numeric(u.out, u.nickname, errNoSuchChannel, []string{name},
			"No such channel")
		return
	}

	if !ch.isMember(u.id) {
		s.numeric(u.out, u.nickname, errNotOnChannel, []string{ch.name},
			"You're not on that channel")
		return
	}

	// The departing user sees their own PART.
	s.broadcast(ch, irc.Message{
		Source:  u.fullspec(),
		Command: "PART",
		Params:  []string{ch.name},
	})

	delete(ch.members, u.id)
	if len(ch.members) == 0 {
		delete(s.channels, key)
	}
}

// topicOp handles both TOPIC forms: query and set.
func (s *serverState) topicOp(id userID, cmd topicCommand) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return
	}

	ch, exists := s.channels[canonicalizeChannel(cmd.channel)]
	if !exists {
		s.numeric(u.out, u.nickname, errNoSuchChannel, []string{cmd.channel},
			"No such channel")
		return
	}

	mode, member := ch.members[u.id]
	if !member {
		s.numeric(u.out, u.nickname, errNotOnChannel, []string{ch.name},
			"You're not on that channel")
		return
	}

	if !cmd.set {
		if !ch.topic.isValid() {
			s.numeric(u.out, u.nickname, rplNoTopic, []string{ch.name},
				"No topic is set")
			return
		}
		s.sendTopic(u, ch)
		return
	}

	if ch.mode.topicProtected && !mode.op {
		s.numeric(u.out, u.nickname, errChanOpPrivsNeeded, []string{ch.name},
			"You're not channel operator")
		return
	}

	ch.topic = topic{
		content: cmd.content,
		setAt:   time.Now().Unix(),
		setBy:   u.nickname,
	}

	s.broadcast(ch, irc.Message{
		Source:  u.fullspec(),
		Command: "TOPIC",
		Params:  []string{ch.name},
		Text:    ch.topic.content,
	})
}

// modeOp handles MODE on a channel: query, channel-flag toggles, and
// user-targeted op/voice toggles.
func (s *serverState) modeOp(id userID, cmd modeCommand) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return
	}

	ch, exists := s.channels[canonicalizeChannel(cmd.channel)]
	if !exists {
		s.numeric(u.out, u.nickname, errNoSuchChannel, []string{cmd.channel},
			"No such channel")
		return
	}

	// Pure query: current flags in canonical order. No op needed.
	if cmd.change == "" {
		s.numeric(u.out, u.nickname, rplChannelModeIs,
			[]string{ch.name, ch.mode.String()}, "")
		return
	}

	mode, member := ch.members[u.id]
	if !member || !mode.op {
		s.numeric(u.out, u.nickname, errChanOpPrivsNeeded, []string{ch.name},
			"You're not channel operator")
		return
	}

	set := true
	change := cmd.change
	switch change[0] {
	case '+':
		change = change[1:]
	case '-':
		set = false
		change = change[1:]
	}

	if change == "" {
		s.numeric(u.out, u.nickname, errUnknownMode, []string{cmd.change},
			"is unknown mode char to me")
		return
	}

	sign := "+"
	if !set {
		sign = "-"
	}

	switch change[0] {
	case 's', 't', 'm', 'n':
		if s.applyChannelFlag(ch, change[0], set) {
			s.broadcast(ch, irc.Message{
				Source:  u.fullspec(),
				Command: "MODE",
				Params:  []string{ch.name, sign + string(change[0])},
			})
		}

	case 'o', 'v':
		s.applyMemberFlag(u, ch, change[0], set, sign, cmd.param)

	default:
		s.numeric(u.out, u.nickname, errUnknownMode,
			[]string{string(change[0])}, "is unknown mode char to me")
	}
}

// applyChannelFlag toggles one channel flag, reporting whether anything
// changed. Caller holds the lock.
func (s *serverState) applyChannelFlag(ch *channel, flag byte, set bool) bool {
	var target *bool
	switch flag {
	case 's':
		target = &ch.mode.secret
	case 't':
		target = &ch.mode.topicProtected
	case 'm':
		target = &ch.mode.moderated
	case 'n':
		target = &ch.mode.noExternal
	}

	if *target == set {
		return false
	}
	*target = set
	return true
}

// applyMemberFlag toggles op or voice on a channel member. Caller holds
// the lock.
func (s *serverState) applyMemberFlag(u *registeredUser, ch *channel, flag byte, set bool, sign, nick string) {
	if nick == "" {
		s.numeric(u.out, u.nickname, errNeedMoreParams, []string{"MODE"},
			"Not enough parameters")
		return
	}

	_, target := s.lookupTarget(nick)
	if target == nil {
		s.numeric(u.out, u.nickname, errNoSuchNick, []string{nick},
			"No such nick/channel")
		return
	}

	targetMode, member := ch.members[target.id]
	if !member {
		s.numeric(u.out, u.nickname, errUserNotInChannel,
			[]string{target.nickname, ch.name}, "They aren't on that channel")
		return
	}

	var field *bool
	if flag == 'o' {
		field = &targetMode.op
	} else {
		field = &targetMode.voice
	}

	if *field == set {
		return
	}
	*field = set

	s.broadcast(ch, irc.Message{
		Source:  u.fullspec(),
		Command: "MODE",
		Params:  []string{ch.name, sign + string(flag), target.nickname},
	})
}
