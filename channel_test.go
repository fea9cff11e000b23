package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelModeString(t *testing.T) {
	assert.Equal(t, "+", channelMode{}.String())
	assert.Equal(t, "+n", channelMode{noExternal: true}.String())
	assert.Equal(t, "+nsmt", channelMode{
		secret:         true,
		topicProtected: true,
		moderated:      true,
		noExternal:     true,
	}.String())
}

func TestParseChannelMode(t *testing.T) {
	mode, err := parseChannelMode("nt")
	require.NoError(t, err)
	assert.Equal(t, channelMode{noExternal: true, topicProtected: true}, mode)

	mode, err = parseChannelMode("+sm")
	require.NoError(t, err)
	assert.Equal(t, channelMode{secret: true, moderated: true}, mode)

	_, err = parseChannelMode("nz")
	assert.Error(t, err)
}

func TestChannelUserModePrefix(t *testing.T) {
	assert.Equal(t, "", channelUserMode{}.prefix())
	assert.Equal(t, "+", channelUserMode{voice: true}.prefix())
	assert.Equal(t, "@", channelUserMode{op: true}.prefix())
	// Op wins when both are set.
	assert.Equal(t, "@", channelUserMode{op: true, voice: true}.prefix())
}

func TestTopicValidity(t *testing.T) {
	assert.False(t, topic{}.isValid())
	assert.False(t, topic{content: "x"}.isValid())
	assert.True(t, topic{content: "x", setAt: 1}.isValid())
}
