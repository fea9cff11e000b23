package main

import (
	"fmt"
	"strings"
)

// whoListCap bounds how many users a wildcard WHO returns. Treat it as
// a privacy throttle.
const whoListCap = 10

// who serves WHO against a channel, a nickname, or the * wildcard.
// Always terminated by 315.
func (s *serverState) who(id userID, mask string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return
	}

	ch, direct := s.lookupTarget(mask)

	switch {
	case ch != nil:
		for member, mode := range ch.members {
			if mu, ok := s.users[member]; ok {
				s.sendWhoReply(u, ch.name, mu, mode.prefix())
			}
		}

	case direct != nil:
		s.sendWhoReply(u, "*", direct, "")

	case mask == "*":
		n := 0
		for _, mu := range s.users {
			if n == whoListCap {
				break
			}
			s.sendWhoReply(u, "*", mu, "")
			n++
		}
	}

	s.numeric(u.out, u.nickname, rplEndOfWho, []string{mask},
		"End of WHO list")
}

// sendWhoReply queues one 352 line. Caller holds the lock.
func (s *serverState) sendWhoReply(u *registeredUser, channelName string, target *registeredUser, glyph string) {
	flags := "H"
	if target.awayMessage != "" {
		flags = "G"
	}
	flags += glyph

	s.numeric(u.out, u.nickname, rplWhoReply,
		[]string{channelName, target.username, userHostname, s.serverName,
			target.nickname, flags},
		fmt.Sprintf("0 %s", target.realname))
}

// whois serves WHOIS for a single nickname.
func (s *serverState) whois(id userID, nick string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return
	}

	_, target := s.lookupTarget(nick)
	if target == nil {
		s.numeric(u.out, u.nickname, errNoSuchNick, []string{nick},
			"No such nick/channel")
		s.numeric(u.out, u.nickname, rplEndOfWhois, []string{nick},
			"End of /WHOIS list")
		return
	}

	if target.awayMessage != "" {
		s.numeric(u.out, u.nickname, rplAway, []string{target.nickname},
			target.awayMessage)
	}

	s.numeric(u.out, u.nickname, rplWhoisUser,
		[]string{target.nickname, target.username, userHostname, "*"},
		target.realname)

	var names []string
	for _, ch := range s.userChannels(target.id) {
		if ch.mode.secret && !ch.isMember(id) {
			continue
		}
		names = append(names, ch.members[target.id].prefix()+ch.name)
	}
	if len(names) > 0 {
		s.numeric(u.out, u.nickname, rplWhoisChannels,
			[]string{target.nickname}, strings.Join(names, " "))
	}

	s.numeric(u.out, u.nickname, rplEndOfWhois, []string{target.nickname},
		"End of /WHOIS list")
}

// userhost serves USERHOST for up to five nicknames. Unknown nicks are
// skipped silently.
func (s *serverState) userhost(id userID, nicks []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return
	}

	var entries []string
	for _, nick := range nicks {
		_, target := s.lookupTarget(nick)
		if target == nil {
			continue
		}

		away := "+"
		if target.awayMessage != "" {
			away = "-"
		}
		entries = append(entries,
			fmt.Sprintf("%s=%s%s", target.nickname, away, userHostname))
	}

	s.numeric(u.out, u.nickname, rplUserhost, nil, strings.Join(entries, " "))
}
