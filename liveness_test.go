package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLivenessNilConfigNeverActs(t *testing.T) {
	start := time.Now()
	l := newLiveness(start)

	action, _ := l.check(start.Add(1000*time.Hour), nil)
	assert.Equal(t, allGood, action)
}

func TestLivenessDecisions(t *testing.T) {
	cfg := &timeoutConfig{base: time.Minute, reduced: 10 * time.Second}
	start := time.Now()

	t.Run("quiet until base window lapses", func(t *testing.T) {
		l := newLiveness(start)

		action, _ := l.check(start.Add(59*time.Second), cfg)
		assert.Equal(t, allGood, action)

		action, _ = l.check(start.Add(time.Minute), cfg)
		assert.Equal(t, needToSend, action)
	})

	t.Run("ping outstanding times out", func(t *testing.T) {
		l := newLiveness(start)
		l.recordSentPing("tok", start)

		action, _ := l.check(start.Add(59*time.Second), cfg)
		assert.Equal(t, allGood, action)

		action, elapsed := l.check(start.Add(61*time.Second), cfg)
		assert.Equal(t, timedOut, action)
		assert.GreaterOrEqual(t, elapsed, cfg.base)
	})

	t.Run("matching pong earns another ping", func(t *testing.T) {
		l := newLiveness(start)
		l.recordSentPing("tok", start)
		l.recordPong("tok")

		action, _ := l.check(start.Add(30*time.Second), cfg)
		assert.Equal(t, allGood, action)

		action, _ = l.check(start.Add(time.Minute), cfg)
		assert.Equal(t, needToSend, action)
	})

	t.Run("stale pong times out", func(t *testing.T) {
		l := newLiveness(start)
		l.recordSentPing("old", start.Add(-2*time.Minute))
		l.recordPong("old")
		l.recordSentPing("new", start)
		l.recordPong("old")

		action, elapsed := l.check(start.Add(time.Minute), cfg)
		assert.Equal(t, timedOut, action)
		assert.GreaterOrEqual(t, elapsed, cfg.base)
	})
}

func TestLivenessReducedWindow(t *testing.T) {
	cfg := &timeoutConfig{base: time.Minute, reduced: 10 * time.Second}
	start := time.Now()

	l := newLiveness(start)
	l.aggressivelyReduceTimeout()
	assert.Equal(t, uint8(10), l.reductionTokens)

	// The reduced window applies immediately.
	action, _ := l.check(start.Add(10*time.Second), cfg)
	assert.Equal(t, needToSend, action)

	// Each fresh pong spends one token.
	l.recordSentPing("a", start)
	l.recordPong("a")
	assert.Equal(t, uint8(9), l.reductionTokens)

	// Duplicate pongs spend nothing.
	l.recordPong("a")
	assert.Equal(t, uint8(9), l.reductionTokens)

	// Once tokens run out the base window is back.
	for i := 0; i < 9; i++ {
		token := string(rune('b' + i))
		l.recordSentPing(token, start)
		l.recordPong(token)
	}
	assert.Equal(t, uint8(0), l.reductionTokens)

	l.recordSentPing("z", start)
	action, _ = l.check(start.Add(30*time.Second), cfg)
	assert.Equal(t, allGood, action)
}

func TestLivenessTokenDecrementSaturates(t *testing.T) {
	l := newLiveness(time.Now())
	l.recordPong("a")
	l.recordPong("b")
	assert.Equal(t, uint8(0), l.reductionTokens)
}

func TestNewPingTokenUnique(t *testing.T) {
	a := newPingToken()
	b := newPingToken()
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
