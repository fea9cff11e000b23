package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidatorAdmitsWithinBurst(t *testing.T) {
	v := newConnValidator(3)
	now := time.Now()

	assert.True(t, v.admit("10.0.0.1", now))
	assert.True(t, v.admit("10.0.0.1", now))
	assert.True(t, v.admit("10.0.0.1", now))
	assert.False(t, v.admit("10.0.0.1", now))

	// Other IPs are unaffected.
	assert.True(t, v.admit("10.0.0.2", now))
}

func TestValidatorCostInflation(t *testing.T) {
	v := newConnValidator(4)
	now := time.Now()

	for v.admit("10.0.0.1", now) {
	}

	rec := v.perIP["10.0.0.1"]
	assert.Equal(t, 2, rec.cost)

	// Further rejections double the cost, capped at the bucket size so
	// a full bucket always admits at least one connection.
	for i := 0; i < 20; i++ {
		v.admit("10.0.0.1", now)
	}
	assert.Equal(t, 4, rec.cost)

	// Once the bucket refills the inflated cost is paid and halves.
	later := now.Add(10 * time.Second)
	assert.True(t, v.admit("10.0.0.1", later))
	assert.Equal(t, 2, rec.cost)
}

func TestValidatorSweep(t *testing.T) {
	v := newConnValidator(1)
	now := time.Now()

	v.admit("10.0.0.1", now)
	v.admit("10.0.0.2", now.Add(5*time.Minute))

	v.sweep(now.Add(validatorIdleExpiry))
	assert.NotContains(t, v.perIP, "10.0.0.1")
	assert.Contains(t, v.perIP, "10.0.0.2")
}
