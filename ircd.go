package main

import (
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"
)

// Server ties the pieces together: the listener, the shared state, the
// per-connection sessions, and the admission validator.
type Server struct {
	configFile string
	log        *logrus.Entry
	state      *serverState
	validator  *connValidator

	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           *conc.WaitGroup

	mu       sync.Mutex
	config   *Config
	listener net.Listener
	sessions map[userID]*session
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&nested.Formatter{
		TimestampFormat: time.RFC3339,
		HideKeys:        false,
	})

	args, err := getArgs()
	if err != nil {
		logger.Fatal(err)
	}

	server, err := newServer(args.ConfigFile, logger.WithField("component", "ircd"))
	if err != nil {
		logger.Fatal(err)
	}

	if err := server.run(); err != nil {
		logger.Fatal(err)
	}

	logger.Info("server shut down cleanly")
}

func newServer(configFile string, log *logrus.Entry) (*Server, error) {
	cfg, err := checkAndParseConfig(configFile)
	if err != nil {
		return nil, err
	}

	created := time.Now().Format(time.RFC1123)

	s := &Server{
		configFile: configFile,
		log:        log,
		validator:  newConnValidator(cfg.ConnectionsPerIP),
		shutdown:   make(chan struct{}),
		wg:         conc.NewWaitGroup(),
		config:     cfg,
		sessions:   make(map[userID]*session),
	}
	s.state = newServerState(cfg, created, log.WithField("component", "state"))

	return s, nil
}

func (s *Server) currentConfig() *Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

func (s *Server) currentListener() net.Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener
}

// run opens the listener and drives the server until shutdown.
func (s *Server) run() error {
	ln, err := openListener(s.currentConfig())
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"address": ln.Addr().String(),
		"tls":     s.currentConfig().TLS != nil,
	}).Info("listening")

	s.wg.Go(s.acceptLoop)
	s.wg.Go(s.sweepLoop)
	s.wg.Go(s.signalLoop)

	s.wg.Wait()
	return nil
}

func openListener(cfg *Config) (net.Listener, error) {
	hostPort := fmt.Sprintf("%s:%d", cfg.Address, cfg.Port)

	if cfg.TLS == nil {
		ln, err := net.Listen("tcp", hostPort)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to listen on %s", hostPort)
		}
		return ln, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.TLS.CertPath, cfg.TLS.KeyPath)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load tls key pair")
	}

	ln, err := tls.Listen("tcp", hostPort, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "unable to listen on %s", hostPort)
	}
	return ln, nil
}

// acceptLoop takes connections off the current listener. Reload swaps
// the listener out from under us; an Accept error on a stale listener
// just means we should pick up the new one.
func (s *Server) acceptLoop() {
	for {
		ln := s.currentListener()
		if ln == nil {
			return
		}

		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}

			if s.currentListener() != ln {
				continue
			}

			s.log.WithError(err).Error("accept error")
			time.Sleep(time.Second)
			continue
		}

		s.accept(conn)
	}
}

// accept admits or rejects one new connection and, if admitted, starts
// its session.
func (s *Server) accept(conn net.Conn) {
	now := time.Now()
	c := NewConn(conn, 0)

	ip := ""
	if c.IP != nil {
		ip = c.IP.String()
	}

	if !s.validator.admit(ip, now) {
		_ = conn.Close()
		s.log.WithField("ip", ip).Warn("rejecting connection, rate limited")

		// Someone is hammering us. Shed likely-dead connections faster
		// to make room.
		s.reduceAllTimeouts()
		return
	}

	id := newUserID()
	out := newOutbox()
	s.state.addRegistering(id, out)

	cfg := s.currentConfig()
	sess := newSession(id, c, s, out,
		rate.Limit(cfg.MessagesPerSecondLimit), now,
		s.log.WithFields(logrus.Fields{"component": "session", "ip": ip}))

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	s.wg.Go(sess.readLoop)
	s.wg.Go(sess.writeLoop)
}

func (s *Server) removeSession(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess.id)
}

func (s *Server) snapshotSessions() []*session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

func (s *Server) reduceAllTimeouts() {
	for _, sess := range s.snapshotSessions() {
		sess.reduceTimeout()
	}
}

// sweepLoop periodically runs liveness checks on every session and
// ages out idle validator records.
func (s *Server) sweepLoop() {
	for {
		select {
		case <-s.shutdown:
			return
		case <-time.After(s.currentConfig().wakeupInterval):
		}

		now := time.Now()
		cfg := s.currentConfig().timeout

		for _, sess := range s.snapshotSessions() {
			sess.checkLiveness(now, cfg)
		}

		s.validator.sweep(now)
	}
}

// signalLoop reloads on SIGHUP and shuts down on SIGINT/SIGTERM.
func (s *Server) signalLoop() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	for {
		select {
		case <-s.shutdown:
			return

		case sig := <-signals:
			if sig == syscall.SIGHUP {
				s.reload()
				continue
			}

			s.log.WithField("signal", sig.String()).Info("shutting down")
			s.stop()
			return
		}
	}
}

// reload re-reads the config and rebuilds the listener. Existing
// connections and all server state survive; a broken new config is
// logged and ignored.
func (s *Server) reload() {
	cfg, err := checkAndParseConfig(s.configFile)
	if err != nil {
		s.log.WithError(err).Error("reload: keeping old config")
		return
	}

	ln, err := openListener(cfg)
	if err != nil {
		s.log.WithError(err).Error("reload: keeping old listener")
		return
	}

	s.mu.Lock()
	old := s.listener
	s.config = cfg
	s.listener = ln
	s.mu.Unlock()

	s.state.applyConfig(cfg)

	if old != nil {
		_ = old.Close()
	}

	s.log.Info("reloaded config")
}

// stop closes the listener and quits every session. Goroutines unwind
// on their own; run's Wait picks them all up.
func (s *Server) stop() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)

		s.mu.Lock()
		ln := s.listener
		s.listener = nil
		s.mu.Unlock()

		if ln != nil {
			_ = ln.Close()
		}

		for _, sess := range s.snapshotSessions() {
			sess.quit("Server shutting down")
		}
	})
}
