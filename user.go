package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"github.com/perch-irc/perch/irc"
)

// userID is an opaque, globally unique connection identifier, assigned
// at accept time.
type userID string

func newUserID() userID {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(err)
	}
	return userID(hex.EncodeToString(buf[:]))
}

// Hostname presented to other clients. We never reveal real client
// addresses.
const userHostname = "hidden"

// How many outbound messages a connection may have queued before we
// consider it stuck.
const sendQueueSize = 32768

// outbox carries outbound messages for one connection. The server state
// layer enqueues; only the owning session's writer goroutine drains.
//
// Enqueue never blocks. If the queue fills, the connection is flagged
// as exceeded and subsequent messages are dropped; the sweeper will cut
// the connection off.
type outbox struct {
	ch       chan irc.Message
	exceeded atomic.Bool
}

func newOutbox() *outbox {
	return &outbox{ch: make(chan irc.Message, sendQueueSize)}
}

func (o *outbox) queue(m irc.Message) {
	if o.exceeded.Load() {
		return
	}

	select {
	case o.ch <- m:
	default:
		o.exceeded.Store(true)
	}
}

// registeringUser holds what we know about a connection that has not
// yet completed registration. Identity fields stay empty until NICK and
// USER arrive.
type registeringUser struct {
	id       userID
	nickname string
	username string
	realname string
	password string
	out      *outbox
}

// isReady reports whether the user has supplied everything needed to
// attempt registration.
func (u *registeringUser) isReady() bool {
	return u.nickname != "" && u.username != ""
}

// registeredUser is a fully registered client.
type registeredUser struct {
	id       userID
	nickname string
	username string
	realname string

	// awayMessage is empty when the user is not away.
	awayMessage string

	out *outbox
}

// fullspec is the canonical sender identifier used on event lines.
func (u *registeredUser) fullspec() string {
	return fmt.Sprintf("%s!%s@%s", u.nickname, u.username, userHostname)
}
