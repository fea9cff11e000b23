package main

import "fmt"

// outboxFor finds the outbox and current nickname for a connection in
// either registry. Caller holds the lock. Returns a nil outbox for
// unknown connections.
func (s *serverState) outboxFor(id userID) (*outbox, string) {
	if u, ok := s.users[id]; ok {
		return u.out, u.nickname
	}
	if u, ok := s.registering[id]; ok {
		return u.out, u.nickname
	}
	return nil, ""
}

// faultReply converts a command decoding fault into its numeric reply.
func (s *serverState) faultReply(id userID, e *decodeError) {
	if e.kind == faultSilent {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out, nick := s.outboxFor(id)
	if out == nil {
		return
	}

	switch e.kind {
	case faultCannotDecodeUTF8:
		s.numeric(out, nick, errGeneric, []string{e.command}, "Cannot decode utf8")
	case faultNotEnoughParameters:
		s.numeric(out, nick, errNeedMoreParams, []string{e.command},
			"Not enough parameters")
	case faultCannotParseInteger:
		s.numeric(out, nick, errGeneric, []string{e.command}, "Cannot parse integer")
	case faultNoNicknameGiven:
		s.numeric(out, nick, errNoNicknameGiven, nil, "No nickname given")
	case faultNoTextToSend:
		s.numeric(out, nick, errNoTextToSend, nil, "No text to send")
	case faultNoRecipient:
		s.numeric(out, nick, errNoRecipient, nil,
			fmt.Sprintf("No recipient given (%s)", e.command))
	}
}

// simpleReply queues a bare numeric for a connection in either phase.
func (s *serverState) simpleReply(id userID, code string, params []string, text string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out, nick := s.outboxFor(id)
	if out == nil {
		return
	}
	s.numeric(out, nick, code, params, text)
}

// pongReply answers a client PING.
func (s *serverState) pongReply(id userID, token string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out, _ := s.outboxFor(id)
	if out == nil {
		return
	}
	out.queue(newPong(s.serverName, token))
}
