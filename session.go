package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/perch-irc/perch/irc"
)

// sessionState is the per-connection phase.
type sessionState int

const (
	stateRegistering sessionState = iota
	stateRegistered
	stateDisconnected
)

// session drives one client connection: a read loop that feeds the
// parser and dispatches decoded commands, and a write loop that drains
// the connection's outbox. The shared state layer never touches the
// socket; everything it wants to say lands in the outbox.
type session struct {
	id   userID
	conn Conn
	srv  *Server
	out  *outbox
	log  *logrus.Entry

	// Outbound messages per second. Zero means unlimited.
	writeLimit rate.Limit

	// done tells the write loop to drain and close. The outbox channel
	// itself is never closed; enqueuers may race with teardown.
	done      chan struct{}
	closeOnce sync.Once

	// mu guards phase and live against the sweeper goroutine.
	mu    sync.Mutex
	phase sessionState
	live  liveness
}

func newSession(id userID, conn Conn, srv *Server, out *outbox,
	writeLimit rate.Limit, now time.Time, log *logrus.Entry) *session {
	return &session{
		id:         id,
		conn:       conn,
		srv:        srv,
		out:        out,
		log:        log,
		writeLimit: writeLimit,
		done:       make(chan struct{}),
		live:       newLiveness(now),
	}
}

func (s *session) currentPhase() sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *session) setPhase(p sessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

// disconnect marks the session terminal and wakes the write loop for
// its final drain.
func (s *session) disconnect() {
	s.setPhase(stateDisconnected)
	s.closeOnce.Do(func() { close(s.done) })
}

// suddenDisconnect handles EOF, read errors and write errors: the
// client is gone without saying QUIT.
func (s *session) suddenDisconnect() {
	s.mu.Lock()
	already := s.phase == stateDisconnected
	s.phase = stateDisconnected
	s.mu.Unlock()

	if !already {
		s.srv.state.quitUser(s.id, "connection closed", false)
	}
	s.closeOnce.Do(func() { close(s.done) })
}

// quit performs a server-initiated voluntary quit (timeout, stuck send
// queue). It looks exactly like the client said QUIT.
func (s *session) quit(reason string) {
	s.srv.state.quitUser(s.id, reason, true)
	s.disconnect()
}

// readLoop reads raw chunks, frames them through the parser, and
// dispatches every complete message. It exits on read error or once
// the session is terminal; the write loop owns closing the socket,
// which in turn unblocks any pending read.
func (s *session) readLoop() {
	defer s.srv.removeSession(s)

	var parser irc.Parser
	buf := make([]byte, 4096)

	for {
		n, err := s.conn.ReadChunk(buf)
		if n > 0 {
			parser.Feed(buf[:n])
			s.drainParser(&parser)
		}
		if err != nil {
			s.suddenDisconnect()
			return
		}
		if s.currentPhase() == stateDisconnected {
			return
		}
	}
}

// drainParser dispatches every complete message buffered so far.
// Malformed lines are logged and skipped; they consume their bytes and
// nothing else.
func (s *session) drainParser(parser *irc.Parser) {
	for {
		m, ok, err := parser.Next()
		if err != nil {
			s.log.WithError(err).Debug("discarding malformed line")
			continue
		}
		if !ok {
			return
		}

		s.handleMessage(m)

		if s.currentPhase() == stateDisconnected {
			return
		}
	}
}

func (s *session) handleMessage(m irc.Message) {
	cmd, err := decodeCommand(m)
	if err != nil {
		if e, ok := err.(*decodeError); ok {
			s.srv.state.faultReply(s.id, e)
		}
		return
	}

	switch s.currentPhase() {
	case stateRegistering:
		s.handleRegistering(cmd)
	case stateRegistered:
		s.handleRegistered(cmd)
	}
}

func (s *session) handleRegistering(cmd command) {
	st := s.srv.state

	switch c := cmd.(type) {
	case capCommand:
		// No CAP negotiation; acknowledge by ignoring.

	case passCommand:
		s.finishRegistration(st.registeringPass(s.id, c.password))
	case nickCommand:
		s.finishRegistration(st.registeringNick(s.id, c.nick))
	case userCommand:
		s.finishRegistration(st.registeringUserCmd(s.id, c.username, c.realname))

	case pingCommand:
		st.pongReply(s.id, c.token)
	case pongCommand:
		s.recordPong(c.token)

	case quitCommand:
		reason := c.reason
		if reason == "" {
			reason = "Client Quit"
		}
		st.quitUser(s.id, reason, true)
		s.disconnect()

	case privmsgCommand:
		st.simpleReply(s.id, errNotRegistered, nil, "You have not registered")
	case unknownCommand:
		st.simpleReply(s.id, errUnknownCommand, []string{c.command},
			"Unknown command")

	default:
		// Valid but premature. Stay silent.
	}
}

func (s *session) finishRegistration(result registerResult) {
	switch result {
	case regCompleted:
		s.setPhase(stateRegistered)
	case regBadPassword:
		// 464 is already queued; cut the connection after the drain.
		s.disconnect()
	}
}

func (s *session) handleRegistered(cmd command) {
	st := s.srv.state

	switch c := cmd.(type) {
	case nickCommand:
		st.changeNick(s.id, c.nick)

	case pingCommand:
		st.pongReply(s.id, c.token)
	case pongCommand:
		s.recordPong(c.token)

	case joinCommand:
		st.join(s.id, c.channels)
	case namesCommand:
		st.names(s.id, c.channels)
	case partCommand:
		st.part(s.id, c.channels)
	case topicCommand:
		st.topicOp(s.id, c)
	case modeCommand:
		st.modeOp(s.id, c)

	case privmsgCommand:
		st.privmsg(s.id, c.target, c.content)
	case noticeCommand:
		st.notice(s.id, c.target, c.content)

	case listCommand:
		st.list(s.id, c.channels, c.options)
	case userhostCommand:
		st.userhost(s.id, c.nicks)
	case whoisCommand:
		st.whois(s.id, c.nick)
	case whoCommand:
		st.who(s.id, c.mask)
	case motdCommand:
		st.motdCmd(s.id)
	case lusersCommand:
		st.lusers(s.id)
	case awayCommand:
		st.away(s.id, c.message)

	case quitCommand:
		reason := c.reason
		if reason == "" {
			reason = "Client Quit"
		}
		st.quitUser(s.id, reason, true)
		s.disconnect()

	case unknownCommand:
		st.simpleReply(s.id, errUnknownCommand, []string{c.command},
			"Unknown command")

	default:
		// PASS/USER/CAP after registration carry no meaning here.
	}
}

// writeLoop drains the outbox onto the socket, throttled to the
// configured per-connection rate. After done it performs a best-effort
// drain of whatever is already queued, then closes the socket, which
// also unblocks the read loop.
func (s *session) writeLoop() {
	defer func() {
		if err := s.conn.Close(); err != nil {
			s.log.WithError(err).Debug("close error")
		}
	}()

	var limiter *rate.Limiter
	if s.writeLimit > 0 {
		limiter = rate.NewLimiter(s.writeLimit, 1)
	}

	for {
		select {
		case m := <-s.out.ch:
			if limiter != nil {
				_ = limiter.Wait(context.Background())
			}
			if err := s.conn.WriteMessage(m); err != nil {
				s.log.WithError(err).Debug("write error")
				s.suddenDisconnect()
				return
			}

		case <-s.done:
			s.drainOutbox()
			return
		}
	}
}

func (s *session) drainOutbox() {
	for {
		select {
		case m := <-s.out.ch:
			if err := s.conn.WriteMessage(m); err != nil {
				return
			}
		default:
			return
		}
	}
}

// recordPong feeds a client PONG into the liveness tracker.
func (s *session) recordPong(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live.recordPong(token)
}

// reduceTimeout switches the connection onto the reduced liveness
// window for the next ten cycles. Called when the server is under
// connection pressure.
func (s *session) reduceTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live.aggressivelyReduceTimeout()
}

// checkLiveness runs one sweep cycle for this connection: kill stuck
// send queues, send a PING when the window lapses, and quit dead
// connections.
func (s *session) checkLiveness(now time.Time, cfg *timeoutConfig) {
	if s.out.exceeded.Load() {
		s.quit("Send queue exceeded")
		return
	}

	s.mu.Lock()
	if s.phase == stateDisconnected {
		s.mu.Unlock()
		return
	}
	action, elapsed := s.live.check(now, cfg)
	var token string
	if action == needToSend {
		token = newPingToken()
		s.live.recordSentPing(token, now)
	}
	s.mu.Unlock()

	switch action {
	case needToSend:
		s.out.queue(irc.Message{Command: "PING", Text: token})
	case timedOut:
		s.quit(fmt.Sprintf("Timeout (%ds)", int(elapsed.Seconds())))
	}
}

// newPong builds the server's answer to a client PING.
func newPong(serverName, token string) irc.Message {
	return irc.Message{
		Source:  serverName,
		Command: "PONG",
		Params:  []string{serverName},
		Text:    token,
	}
}
