package main

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/perch-irc/perch/irc"
)

// serverState is the single owner of all shared server data: both user
// registries, the channel table, and the config-derived values replies
// need. One lock guards everything; every operation is a single
// critical section, and all fan-out enqueues happen inside it so every
// recipient observes the same relative ordering for one originating
// command. The lock is never held across I/O; outboxes absorb the
// writes.
type serverState struct {
	mu sync.RWMutex

	users       map[userID]*registeredUser
	registering map[userID]*registeringUser

	// Canonicalized name to channel.
	channels map[string]*channel

	serverName   string
	password     string
	motd         []string
	defaultMode  channelMode
	sendISupport bool
	created      string

	// High-water mark of registered users, for LUSERS extra info.
	maxUsers int

	log *logrus.Entry
}

func newServerState(cfg *Config, created string, log *logrus.Entry) *serverState {
	s := &serverState{
		users:       make(map[userID]*registeredUser),
		registering: make(map[userID]*registeringUser),
		channels:    make(map[string]*channel),
		created:     created,
		log:         log,
	}
	s.applyConfig(cfg)
	return s
}

// applyConfig installs the config-derived values. Called at startup and
// again on reload; existing users and channels are untouched.
func (s *serverState) applyConfig(cfg *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.serverName = cfg.ServerName
	s.password = cfg.Password
	s.motd = cfg.MOTD
	s.defaultMode = cfg.channelMode
	s.sendISupport = cfg.Welcome.SendISupport
}

// numeric queues a numeric reply. The client parameter is the user's
// nickname, or * when no nick is known yet.
func (s *serverState) numeric(out *outbox, nick, code string, params []string, text string) {
	if nick == "" {
		nick = "*"
	}
	out.queue(irc.Message{
		Source:  s.serverName,
		Command: code,
		Params:  append([]string{nick}, params...),
		Text:    text,
	})
}

// addRegistering installs a brand new connection in the registering
// registry. The outbox lives as long as the user does.
func (s *serverState) addRegistering(id userID, out *outbox) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registering[id] = &registeringUser{id: id, out: out}
}

// nickOwned reports whether any other user owns the cured nickname.
func (s *serverState) nickOwned(cured string, exclude userID) bool {
	for _, u := range s.users {
		if u.id != exclude && cureNick(u.nickname) == cured {
			return true
		}
	}
	for _, u := range s.registering {
		if u.id != exclude && u.nickname != "" && cureNick(u.nickname) == cured {
			return true
		}
	}
	return false
}

// registerResult tells the session what happened to a registration
// attempt.
type registerResult int

const (
	// regPending: nothing decided yet; stay in the registering state.
	regPending registerResult = iota

	// regCompleted: the user is now registered.
	regCompleted

	// regBadPassword: password mismatch; the session must disconnect.
	regBadPassword
)

// registeringPass stores the password candidate.
func (s *serverState) registeringPass(id userID, password string) registerResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.registering[id]
	if !ok {
		return regPending
	}
	u.password = password
	return s.tryCompleteRegistration(u)
}

// registeringNick validates and stores the nickname during
// registration.
func (s *serverState) registeringNick(id userID, nick string) registerResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.registering[id]
	if !ok {
		return regPending
	}

	if !isValidNick(nick) {
		s.numeric(u.out, u.nickname, errErroneousNickname, []string{nick},
			"Erroneous nickname")
		return regPending
	}

	if s.nickOwned(cureNick(nick), id) {
		s.numeric(u.out, u.nickname, errNicknameInUse, []string{nick},
			"Nickname is already in use")
		return regPending
	}

	u.nickname = nick
	return s.tryCompleteRegistration(u)
}

// registeringUserCmd stores username and realname during registration.
func (s *serverState) registeringUserCmd(id userID, username, realname string) registerResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.registering[id]
	if !ok {
		return regPending
	}

	u.username = username
	u.realname = realname
	return s.tryCompleteRegistration(u)
}

// tryCompleteRegistration promotes a registering user once both NICK
// and USER have arrived. Caller holds the lock.
func (s *serverState) tryCompleteRegistration(u *registeringUser) registerResult {
	if !u.isReady() {
		return regPending
	}

	if subtle.ConstantTimeCompare([]byte(u.password), []byte(s.password)) != 1 {
		s.numeric(u.out, u.nickname, errPasswdMismatch, nil, "Password incorrect")
		delete(s.registering, u.id)
		return regBadPassword
	}

	delete(s.registering, u.id)

	reg := &registeredUser{
		id:       u.id,
		nickname: u.nickname,
		username: u.username,
		realname: u.realname,
		out:      u.out,
	}
	s.users[reg.id] = reg
	if len(s.users) > s.maxUsers {
		s.maxUsers = len(s.users)
	}

	s.sendWelcome(reg)
	s.sendLusers(reg, false)
	s.sendMotd(reg)

	s.log.WithFields(logrus.Fields{"nick": reg.nickname}).Info("user registered")

	return regCompleted
}

// sendWelcome queues the 001-004 welcome burst, plus 005 when
// configured. Caller holds the lock.
func (s *serverState) sendWelcome(u *registeredUser) {
	s.numeric(u.out, u.nickname, rplWelcome, nil,
		fmt.Sprintf("Welcome to the Internet Relay Network %s", u.fullspec()))

	s.numeric(u.out, u.nickname, rplYourHost, nil,
		fmt.Sprintf("Your host is %s, running version 0", s.serverName))

	s.numeric(u.out, u.nickname, rplCreated, nil,
		fmt.Sprintf("This server was created %s", s.created))

	// <servername> <version> <available user modes> <available channel
	// modes>
	s.numeric(u.out, u.nickname, rplMyInfo,
		[]string{s.serverName, "0", "a", "a"}, "")

	if s.sendISupport {
		s.numeric(u.out, u.nickname, rplISupport,
			[]string{"CASEMAPPING=rfc7613"}, "are supported by this server")
	}
}

// sendMotd queues the MOTD, or 422 when none is configured. Caller
// holds the lock.
func (s *serverState) sendMotd(u *registeredUser) {
	if len(s.motd) == 0 {
		s.numeric(u.out, u.nickname, errNoMotd, nil, "MOTD File is missing")
		return
	}

	s.numeric(u.out, u.nickname, rplMotdStart, nil,
		fmt.Sprintf("- %s Message of the day - ", s.serverName))
	for _, line := range s.motd {
		s.numeric(u.out, u.nickname, rplMotd, nil, fmt.Sprintf("- %s", line))
	}
	s.numeric(u.out, u.nickname, rplEndOfMotd, nil, "End of /MOTD command")
}

// sendLusers queues the LUSERS snapshot. Caller holds the lock.
func (s *serverState) sendLusers(u *registeredUser, extraInfo bool) {
	s.numeric(u.out, u.nickname, rplLuserClient, nil,
		fmt.Sprintf("There are %d users and 0 services on 1 servers",
			len(s.users)))
	s.numeric(u.out, u.nickname, rplLuserOp, []string{"0"},
		"operator(s) online")
	s.numeric(u.out, u.nickname, rplLuserUnknown,
		[]string{fmt.Sprintf("%d", len(s.registering))},
		"unknown connection(s)")
	s.numeric(u.out, u.nickname, rplLuserChannels,
		[]string{fmt.Sprintf("%d", len(s.channels))}, "channels formed")
	s.numeric(u.out, u.nickname, rplLuserMe, nil,
		fmt.Sprintf("I have %d clients and 1 servers", len(s.users)))

	if extraInfo {
		s.numeric(u.out, u.nickname, rplLocalUsers, nil,
			fmt.Sprintf("Current local users %d, max %d", len(s.users),
				s.maxUsers))
		s.numeric(u.out, u.nickname, rplGlobalUsers, nil,
			fmt.Sprintf("Current global users %d, max %d", len(s.users),
				s.maxUsers))
	}
}

// lusers serves an explicit LUSERS command.
func (s *serverState) lusers(id userID) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return
	}
	s.sendLusers(u, true)
}

// motd serves an explicit MOTD command.
func (s *serverState) motdCmd(id userID) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return
	}
	s.sendMotd(u)
}

// userChannels returns all channels the user is a member of. Caller
// holds the lock.
func (s *serverState) userChannels(id userID) []*channel {
	var channels []*channel
	for _, ch := range s.channels {
		if ch.isMember(id) {
			channels = append(channels, ch)
		}
	}
	return channels
}

// changeNick handles NICK from a registered user.
func (s *serverState) changeNick(id userID, nick string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		s.log.WithFields(logrus.Fields{"id": id}).Debug("nick change for missing user")
		return
	}

	if !isValidNick(nick) {
		s.numeric(u.out, u.nickname, errErroneousNickname, []string{nick},
			"Erroneous nickname")
		return
	}

	if s.nickOwned(cureNick(nick), id) {
		s.numeric(u.out, u.nickname, errNicknameInUse, []string{nick},
			"Nickname is already in use")
		return
	}

	// Setting the current nick again is a no-op, no broadcast.
	if u.nickname == nick {
		return
	}

	// Fan out from the old identity before mutating.
	event := irc.Message{
		Source:  u.fullspec(),
		Command: "NICK",
		Params:  []string{nick},
	}

	recipients := map[userID]struct{}{u.id: {}}
	for _, ch := range s.userChannels(id) {
		for member := range ch.members {
			recipients[member] = struct{}{}
		}
	}
	for member := range recipients {
		if target, ok := s.users[member]; ok {
			target.out.queue(event)
		}
	}

	u.nickname = nick
}

// lookupTarget resolves a PRIVMSG/NOTICE target: channels first by
// case-folded name, then users by case-folded nickname. The '#' prefix
// keeps the namespaces disjoint.
//
// Caller holds the lock. Exactly one return value is non-nil on a hit.
func (s *serverState) lookupTarget(target string) (*channel, *registeredUser) {
	if ch, ok := s.channels[canonicalizeChannel(target)]; ok {
		return ch, nil
	}

	folded := strings.ToLower(target)
	for _, u := range s.users {
		if strings.ToLower(u.nickname) == folded {
			return nil, u
		}
	}
	return nil, nil
}

// quitUser removes a user entirely. Voluntary quits get a closing ERROR
// line; sudden disconnects do not.
func (s *serverState) quitUser(id userID, reason string, voluntary bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.registering[id]; ok {
		if voluntary {
			u.out.queue(irc.Message{
				Command: "ERROR",
				Text:    fmt.Sprintf("Closing Link: %s (%s)", s.serverName, reason),
			})
		}
		delete(s.registering, id)
		return
	}

	u, ok := s.users[id]
	if !ok {
		return
	}

	event := irc.Message{
		Source:  u.fullspec(),
		Command: "QUIT",
		Text:    reason,
	}

	told := map[userID]struct{}{u.id: {}}
	for _, ch := range s.userChannels(id) {
		for member := range ch.members {
			if _, done := told[member]; done {
				continue
			}
			told[member] = struct{}{}
			if target, ok := s.users[member]; ok {
				target.out.queue(event)
			}
		}

		delete(ch.members, id)
		if len(ch.members) == 0 {
			delete(s.channels, canonicalizeChannel(ch.name))
		}
	}

	if voluntary {
		u.out.queue(irc.Message{
			Command: "ERROR",
			Text:    fmt.Sprintf("Closing Link: %s (%s)", s.serverName, reason),
		})
	}

	delete(s.users, id)

	s.log.WithFields(logrus.Fields{"nick": u.nickname, "reason": reason}).
		Info("user quit")
}
