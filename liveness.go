package main

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// timeoutConfig holds the two liveness windows. While a connection has
// reduction tokens its window is the reduced one; this lets us shed
// likely-dead connections quickly when the server is under pressure.
type timeoutConfig struct {
	base    time.Duration
	reduced time.Duration
}

// livenessAction is the outcome of a periodic liveness check.
type livenessAction int

const (
	// allGood: no action needed.
	allGood livenessAction = iota

	// needToSend: the server should send a fresh PING.
	needToSend

	// timedOut: the connection is dead; quit it.
	timedOut
)

type sentPing struct {
	token string
	at    time.Time
}

// liveness tracks the PING/PONG exchange for one connection. It is only
// touched by the sweeper goroutine and the session's own read loop, and
// the session serializes that access with its own mutex.
type liveness struct {
	createdAt        time.Time
	lastSentPing     *sentPing
	lastReceivedPong *string
	reductionTokens  uint8
}

func newLiveness(now time.Time) liveness {
	return liveness{createdAt: now}
}

// window is the current timeout window: reduced while reduction tokens
// remain, base otherwise.
func (l *liveness) window(cfg *timeoutConfig) time.Duration {
	if l.reductionTokens > 0 {
		return cfg.reduced
	}
	return cfg.base
}

// check decides what the liveness sweep should do for this connection.
// elapsed is meaningful only for timedOut.
//
// A nil cfg disables liveness entirely.
func (l *liveness) check(now time.Time, cfg *timeoutConfig) (action livenessAction, elapsed time.Duration) {
	if cfg == nil {
		return allGood, 0
	}

	window := l.window(cfg)

	if l.lastSentPing == nil {
		if now.Sub(l.createdAt) >= window {
			return needToSend, 0
		}
		return allGood, 0
	}

	sinceSent := now.Sub(l.lastSentPing.at)

	if l.lastReceivedPong == nil {
		if sinceSent >= window {
			return timedOut, sinceSent
		}
		return allGood, 0
	}

	if sinceSent < window {
		return allGood, 0
	}

	if *l.lastReceivedPong == l.lastSentPing.token {
		return needToSend, 0
	}
	return timedOut, sinceSent
}

// recordSentPing notes that a PING with the given token went out now.
func (l *liveness) recordSentPing(token string, now time.Time) {
	l.lastSentPing = &sentPing{token: token, at: now}
}

// recordPong notes a PONG from the client. A duplicate of the previous
// token is ignored; a fresh pong spends one reduction token.
func (l *liveness) recordPong(token string) {
	if l.lastReceivedPong != nil && *l.lastReceivedPong == token {
		return
	}
	l.lastReceivedPong = &token

	if l.reductionTokens > 0 {
		l.reductionTokens--
	}
}

// aggressivelyReduceTimeout makes the next ten liveness cycles use the
// reduced window.
func (l *liveness) aggressivelyReduceTimeout() {
	l.reductionTokens = 10
}

// newPingToken returns a fresh 16-byte random token rendered as hex.
func newPingToken() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand does not fail on any supported platform.
		panic(err)
	}
	return hex.EncodeToString(buf[:])
}
