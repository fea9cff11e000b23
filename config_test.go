package main

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	dir, err := ioutil.TempDir("", "perch-config")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	file := filepath.Join(dir, "perch.yaml")
	require.NoError(t, ioutil.WriteFile(file, []byte(content), 0600))
	return file
}

func TestCheckAndParseConfig(t *testing.T) {
	file := writeConfig(t, `
server_name: irc.example.org
address: 127.0.0.1
port: 6667
password: hunter2
motd:
  - welcome
  - enjoy
default_channel_mode: nt
welcome:
  send_isupport: true
messages_per_second_limit: 10
timeout:
  base: 2m
  reduced: 20s
wakeup_interval: 5s
connections_per_ip: 20
`)

	cfg, err := checkAndParseConfig(file)
	require.NoError(t, err)

	assert.Equal(t, "irc.example.org", cfg.ServerName)
	assert.Equal(t, "127.0.0.1", cfg.Address)
	assert.Equal(t, uint16(6667), cfg.Port)
	assert.Equal(t, "hunter2", cfg.Password)
	assert.Equal(t, []string{"welcome", "enjoy"}, cfg.MOTD)
	assert.Equal(t, channelMode{noExternal: true, topicProtected: true},
		cfg.channelMode)
	assert.True(t, cfg.Welcome.SendISupport)
	assert.Equal(t, uint32(10), cfg.MessagesPerSecondLimit)
	require.NotNil(t, cfg.timeout)
	assert.Equal(t, 2*time.Minute, cfg.timeout.base)
	assert.Equal(t, 20*time.Second, cfg.timeout.reduced)
	assert.Equal(t, 5*time.Second, cfg.wakeupInterval)
	assert.Equal(t, 20, cfg.ConnectionsPerIP)
	assert.Nil(t, cfg.TLS)
}

func TestConfigDefaults(t *testing.T) {
	file := writeConfig(t, `
server_name: srv
address: "0.0.0.0"
port: 6667
`)

	cfg, err := checkAndParseConfig(file)
	require.NoError(t, err)

	assert.Equal(t, "", cfg.Password)
	assert.Equal(t, channelMode{noExternal: true}, cfg.channelMode)
	assert.Nil(t, cfg.timeout)
	assert.Equal(t, defaultWakeupInterval, cfg.wakeupInterval)
	assert.Zero(t, cfg.MessagesPerSecondLimit)
}

func TestConfigRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing server name", "address: a\nport: 1\n"},
		{"missing address", "server_name: srv\nport: 1\n"},
		{"missing port", "server_name: srv\naddress: a\n"},
		{"unknown key", "server_name: srv\naddress: a\nport: 1\nbogus: x\n"},
		{"bad mode letter",
			"server_name: srv\naddress: a\nport: 1\ndefault_channel_mode: z\n"},
		{"half a tls section",
			"server_name: srv\naddress: a\nport: 1\ntls:\n  cert_path: c\n"},
		{"bad timeout",
			"server_name: srv\naddress: a\nport: 1\ntimeout:\n  base: soon\n  reduced: 1s\n"},
		{"reduced exceeds base",
			"server_name: srv\naddress: a\nport: 1\ntimeout:\n  base: 1s\n  reduced: 2s\n"},
		{"bad wakeup",
			"server_name: srv\naddress: a\nport: 1\nwakeup_interval: never\n"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			file := writeConfig(t, test.content)
			_, err := checkAndParseConfig(file)
			assert.Error(t, err)
		})
	}
}

func TestConfigMissingFile(t *testing.T) {
	_, err := checkAndParseConfig("/nonexistent/perch.yaml")
	assert.Error(t, err)
}

func TestConfigRelativePath(t *testing.T) {
	file := writeConfig(t, "server_name: srv\naddress: a\nport: 1\n")

	cwd, err := os.Getwd()
	require.NoError(t, err)
	rel, err := filepath.Rel(cwd, file)
	require.NoError(t, err)

	cfg, err := checkAndParseConfig(rel)
	require.NoError(t, err)
	assert.Equal(t, "srv", cfg.ServerName)
}
