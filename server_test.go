package main

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestServer boots a server on an ephemeral port and returns its
// address. It runs the accept and sweep loops but not the signal loop.
func startTestServer(t *testing.T, configContent string) string {
	t.Helper()

	file := writeConfig(t, configContent)

	srv, err := newServer(file, testLogger())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv.mu.Lock()
	srv.listener = ln
	srv.mu.Unlock()

	srv.wg.Go(srv.acceptLoop)
	srv.wg.Go(srv.sweepLoop)

	t.Cleanup(func() {
		srv.stop()
		srv.wg.Wait()
	})

	return ln.Addr().String()
}

const baseTestConfig = `
server_name: srv
address: 127.0.0.1
port: 6667
welcome:
  send_isupport: true
wakeup_interval: 50ms
connections_per_ip: 100
`

// testClient is a scripted IRC client for end-to-end tests.
type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialClient(t *testing.T, addr string) *testClient {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) send(line string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(line + "\r\n"))
	require.NoError(c.t, err)
}

func (c *testClient) readLine() string {
	c.t.Helper()

	require.NoError(c.t,
		c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err, "waiting for a server line")
	return strings.TrimRight(line, "\r\n")
}

// expectLine reads one line and requires the exact content.
func (c *testClient) expectLine(want string) {
	c.t.Helper()
	assert.Equal(c.t, want, c.readLine())
}

// expectPrefix reads one line and requires it to start with prefix.
func (c *testClient) expectPrefix(prefix string) string {
	c.t.Helper()
	line := c.readLine()
	require.True(c.t, strings.HasPrefix(line, prefix),
		"expected prefix %q, got %q", prefix, line)
	return line
}

// register runs the NICK/USER exchange and consumes the welcome burst
// through the MOTD marker.
func (c *testClient) register(nick string) {
	c.t.Helper()

	c.send("NICK " + nick)
	c.send("USER " + nick + " 0 * :" + nick)

	for {
		line := c.readLine()
		if strings.HasPrefix(line, ":srv 422 ") ||
			strings.HasPrefix(line, ":srv 376 ") {
			return
		}
	}
}

func TestServerRegistrationWelcome(t *testing.T) {
	addr := startTestServer(t, baseTestConfig)
	a := dialClient(t, addr)

	a.send("NICK alice")
	a.send("USER alice 0 * :Alice")

	a.expectLine(":srv 001 alice :Welcome to the Internet Relay Network alice!alice@hidden")
	a.expectPrefix(":srv 002 alice :Your host is srv")
	a.expectPrefix(":srv 003 alice :This server was created")
	a.expectLine(":srv 004 alice srv 0 a a")
	a.expectLine(":srv 005 alice CASEMAPPING=rfc7613 :are supported by this server")
	a.expectPrefix(":srv 251 alice :There are 1 users")
	a.expectPrefix(":srv 252 alice 0 ")
	a.expectPrefix(":srv 253 alice 0 ")
	a.expectPrefix(":srv 254 alice 0 ")
	a.expectPrefix(":srv 255 alice :I have 1 clients")
	a.expectLine(":srv 422 alice :MOTD File is missing")
}

func TestServerNickCollisionCaseFold(t *testing.T) {
	addr := startTestServer(t, baseTestConfig)

	a := dialClient(t, addr)
	a.register("alice")

	b := dialClient(t, addr)
	b.send("NICK ALICE")
	b.send("USER b 0 * :B")

	b.expectLine(":srv 433 * ALICE :Nickname is already in use")

	// No welcome followed; a fresh nick registers cleanly.
	b.send("NICK bob")
	b.expectPrefix(":srv 001 bob ")
}

func TestServerJoinFirstJoinerOp(t *testing.T) {
	addr := startTestServer(t, baseTestConfig)
	a := dialClient(t, addr)
	a.register("alice")

	a.send("JOIN #room")
	a.expectLine(":alice!alice@hidden JOIN #room")
	a.expectLine(":srv 353 alice = #room :@alice")
	a.expectLine(":srv 366 alice #room :End of NAMES list")
}

func TestServerModeratedChannel(t *testing.T) {
	addr := startTestServer(t, baseTestConfig)

	a := dialClient(t, addr)
	a.register("alice")
	a.send("JOIN #room")
	a.expectLine(":alice!alice@hidden JOIN #room")
	a.expectPrefix(":srv 353 alice ")
	a.expectPrefix(":srv 366 alice ")

	// Wait for the mode echo so bob cannot race the mode change.
	a.send("MODE #room +m")
	a.expectLine(":alice!alice@hidden MODE #room +m")

	b := dialClient(t, addr)
	b.register("bob")
	b.send("JOIN #room")
	b.expectLine(":bob!bob@hidden JOIN #room")
	b.expectPrefix(":srv 353 bob ")
	b.expectPrefix(":srv 366 bob ")

	b.send("PRIVMSG #room :hi")
	b.expectLine(":srv 404 bob #room :Cannot send to channel")
}

func TestServerAwayReply(t *testing.T) {
	addr := startTestServer(t, baseTestConfig)

	a := dialClient(t, addr)
	a.register("alice")

	b := dialClient(t, addr)
	b.register("bob")

	b.send("AWAY :lunch")
	b.expectLine(":srv 306 bob :You have been marked as being away")

	a.send("PRIVMSG bob :ping")
	a.expectLine(":srv 301 alice bob :lunch")
	b.expectLine(":alice!alice@hidden PRIVMSG bob :ping")
}

func TestServerSuddenDisconnectFanOut(t *testing.T) {
	addr := startTestServer(t, baseTestConfig)

	a := dialClient(t, addr)
	a.register("alice")
	a.send("JOIN #room")
	a.expectLine(":alice!alice@hidden JOIN #room")
	a.expectPrefix(":srv 353 alice ")
	a.expectPrefix(":srv 366 alice ")

	b := dialClient(t, addr)
	b.register("bob")
	b.send("JOIN #room")
	b.expectLine(":bob!bob@hidden JOIN #room")
	b.expectPrefix(":srv 353 bob ")
	b.expectPrefix(":srv 366 bob ")

	// Alice sees bob arrive, then vanishes without a QUIT.
	a.expectLine(":bob!bob@hidden JOIN #room")
	require.NoError(t, a.conn.Close())

	b.expectLine(":alice!alice@hidden QUIT :connection closed")

	// The channel survives with bob as its only member.
	b.send("NAMES #room")
	b.expectLine(":srv 353 bob = #room :bob")
	b.expectLine(":srv 366 bob #room :End of NAMES list")
}

func TestServerVoluntaryQuit(t *testing.T) {
	addr := startTestServer(t, baseTestConfig)

	a := dialClient(t, addr)
	a.register("alice")

	a.send("QUIT :gone fishing")
	a.expectLine("ERROR :Closing Link: srv (gone fishing)")

	// The server closes the connection after the ERROR line.
	_, err := a.r.ReadByte()
	assert.Error(t, err)
}

func TestServerPingPong(t *testing.T) {
	addr := startTestServer(t, baseTestConfig)

	a := dialClient(t, addr)
	a.register("alice")

	a.send("PING token123")
	a.expectLine(":srv PONG srv :token123")
}

func TestServerUnknownAndPremature(t *testing.T) {
	addr := startTestServer(t, baseTestConfig)

	a := dialClient(t, addr)

	a.send("WHOWAS alice")
	a.expectLine(":srv 421 * WHOWAS :Unknown command")

	a.send("PRIVMSG bob :hi")
	a.expectLine(":srv 451 * :You have not registered")

	// CAP is accepted silently; registration proceeds normally.
	a.send("CAP LS 302")
	a.send("NICK alice")
	a.send("USER alice 0 * :Alice")
	a.expectPrefix(":srv 001 alice ")
}

func TestServerNumericCommandIsUnknown(t *testing.T) {
	addr := startTestServer(t, baseTestConfig)

	a := dialClient(t, addr)
	a.register("alice")

	// Three-digit commands parse fine but match nothing in the decoder
	// table, so they earn the same 421 as any other unknown command.
	a.send("300 x")
	a.expectLine(":srv 421 alice 300 :Unknown command")

	a.send("BOGUS x")
	a.expectLine(":srv 421 alice BOGUS :Unknown command")
}

func TestServerPasswordMismatch(t *testing.T) {
	addr := startTestServer(t, baseTestConfig+"password: hunter2\n")

	a := dialClient(t, addr)
	a.send("PASS wrong")
	a.send("NICK alice")
	a.send("USER alice 0 * :Alice")

	a.expectLine(":srv 464 alice :Password incorrect")
	_, err := a.r.ReadByte()
	assert.Error(t, err)

	b := dialClient(t, addr)
	b.send("PASS hunter2")
	b.register("bob")
}

func TestServerLivenessTimeout(t *testing.T) {
	addr := startTestServer(t, baseTestConfig+
		"timeout:\n  base: 200ms\n  reduced: 100ms\n")

	a := dialClient(t, addr)
	a.register("alice")

	// First the server pings us; ignoring it gets us cut off with a
	// timeout quit.
	a.expectPrefix("PING :")
	a.expectPrefix("ERROR :Closing Link: srv (Timeout (")

	_, err := a.r.ReadByte()
	assert.Error(t, err)
}

func TestServerLivenessPongKeepsAlive(t *testing.T) {
	addr := startTestServer(t, baseTestConfig+
		"timeout:\n  base: 150ms\n  reduced: 100ms\n")

	a := dialClient(t, addr)
	a.register("alice")

	// Answer two full ping cycles, then confirm we are still welcome.
	for i := 0; i < 2; i++ {
		line := a.expectPrefix("PING :")
		a.send("PONG " + strings.TrimPrefix(line, "PING :"))
	}

	a.send("MOTD")
	a.expectLine(":srv 422 alice :MOTD File is missing")
}
