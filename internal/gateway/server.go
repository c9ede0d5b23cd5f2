package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/domain"
	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/runtime"
	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/service/auth"
)

const (
	permissionUserID   = "scitex-user-id"
	permissionUsername = "scitex-username"

	authTimeout = 5 * time.Second
)

// Authenticator checks a username/password pair against the user store.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*domain.User, error)
}

// ShellProvider attaches an interactive shell to a user's workspace container,
// creating or starting the container as needed.
type ShellProvider interface {
	AttachShell(ctx context.Context, user *domain.User) (runtime.Stream, error)
}

// Server accepts SSH connections, authenticates them against the application
// user store and proxies a terminal into the user's workspace container.
type Server struct {
	addr              string
	auth              Authenticator
	shells            ShellProvider
	logger            *slog.Logger
	sshConfig         *ssh.ServerConfig
	shellReadyTimeout time.Duration
	connSlots         chan struct{}
	metrics           *gatewayMetrics
}

// NewServer constructs a Server with the given host key. maxConns bounds
// concurrent connections; zero or negative means a default of 256.
func NewServer(addr string, hostKey ssh.Signer, authenticator Authenticator, shells ShellProvider, logger *slog.Logger, maxConns int, shellReadyTimeout time.Duration) *Server {
	if maxConns <= 0 {
		maxConns = 256
	}
	if shellReadyTimeout <= 0 {
		shellReadyTimeout = 10 * time.Second
	}
	if logger != nil {
		logger = logger.With("component", "gateway")
	}
	s := &Server{
		addr:              addr,
		auth:              authenticator,
		shells:            shells,
		logger:            logger,
		shellReadyTimeout: shellReadyTimeout,
		connSlots:         make(chan struct{}, maxConns),
		metrics:           initMetrics(),
	}

	cfg := &ssh.ServerConfig{PasswordCallback: s.passwordCallback}
	cfg.AddHostKey(hostKey)
	s.sshConfig = cfg
	return s
}

// passwordCallback delegates credential checks to the application's user
// store. Password auth is the only supported method.
func (s *Server) passwordCallback(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
	ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
	defer cancel()

	user, err := s.auth.Authenticate(ctx, conn.User(), string(password))
	if err != nil {
		s.metrics.authFailures.Inc()
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrInactiveAccount) {
			s.logger.Warn("authentication rejected", "username", conn.User(), "remote", conn.RemoteAddr().String())
		} else {
			s.logger.Error("authentication check failed", "username", conn.User(), "error", err)
		}
		return nil, fmt.Errorf("authentication failed")
	}
	return &ssh.Permissions{Extensions: map[string]string{
		permissionUserID:   user.ID,
		permissionUsername: user.Username,
	}}, nil
}

// Serve accepts connections until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("ssh gateway listening", "addr", s.addr)
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		select {
		case s.connSlots <- struct{}{}:
		case <-ctx.Done():
			conn.Close()
			return nil
		}

		s.metrics.connectionsTotal.Inc()
		go func() {
			defer func() { <-s.connSlots }()
			s.handleConn(ctx, conn)
		}()
	}
}

// handleConn is the outermost per-connection boundary: every failure is caught
// and logged here so one broken connection never affects the listener or other
// sessions.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	defer s.recoverPanic("connection", remote)

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.sshConfig)
	if err != nil {
		s.logger.Warn("ssh handshake failed", "remote", remote, "error", err)
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	user := &domain.User{
		ID:       sshConn.Permissions.Extensions[permissionUserID],
		Username: sshConn.Permissions.Extensions[permissionUsername],
	}
	s.logger.Info("ssh connection authenticated", "username", user.Username, "remote", remote)

	handled := false
	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		if handled {
			newChannel.Reject(ssh.ResourceShortage, "only one session channel allowed")
			continue
		}
		handled = true

		channel, requests, err := newChannel.Accept()
		if err != nil {
			s.logger.Warn("failed to accept session channel", "remote", remote, "error", err)
			return
		}
		s.runSession(ctx, user, channel, requests, remote)
		return
	}
}

// runSession waits for the shell request, attaches the workspace and forwards
// bytes until either side closes.
func (s *Server) runSession(ctx context.Context, user *domain.User, channel ssh.Channel, requests <-chan *ssh.Request, remote string) {
	defer channel.Close()

	sess := newSession(channel)
	go func() {
		defer s.recoverPanic("session requests", remote)
		sess.consumeRequests(requests)
	}()

	select {
	case <-sess.ready:
	case <-time.After(s.shellReadyTimeout):
		s.logger.Warn("no shell request before timeout, abandoning connection", "username", user.Username, "remote", remote)
		return
	case <-ctx.Done():
		return
	}

	stream, err := s.shells.AttachShell(ctx, user)
	if err != nil {
		s.logger.Error("workspace attach failed", "username", user.Username, "error", err)
		fmt.Fprintf(channel, "scitex: cannot attach workspace: %s\r\n", attachErrorMessage(err))
		sendExitStatus(channel, 1)
		return
	}
	defer stream.Close()

	s.metrics.sessionsTotal.Inc()
	s.metrics.activeSessions.Inc()
	defer s.metrics.activeSessions.Dec()
	s.logger.Info("shell session attached", "username", user.Username, "remote", remote)

	s.forward(channel, stream)
	s.logger.Info("shell session closed", "username", user.Username, "remote", remote)
}

// forward copies bytes in both directions, one goroutine per direction, and
// returns once both directions have unwound. Each goroutine owns its direction
// exclusively, which preserves byte ordering within a direction.
func (s *Server) forward(channel ssh.Channel, stream runtime.Stream) {
	clientDone := make(chan struct{})
	containerDone := make(chan struct{})

	go func() {
		defer close(clientDone)
		io.Copy(stream, channel)
		stream.CloseWrite()
	}()
	go func() {
		defer close(containerDone)
		io.Copy(channel, stream)
		channel.CloseWrite()
	}()

	// The first side to close ends the session. The exit status must go out
	// before the channel closes; closing both endpoints then unblocks the
	// surviving reader so it can unwind.
	select {
	case <-clientDone:
	case <-containerDone:
	}
	sendExitStatus(channel, 0)
	stream.Close()
	channel.Close()
	<-clientDone
	<-containerDone
}

// recoverPanic is the outermost per-connection boundary: a protocol-handling
// panic takes down one connection, never the listener.
func (s *Server) recoverPanic(scope, remote string) {
	if v := recover(); v != nil {
		s.logger.Error("recovered panic", "scope", scope, "remote", remote, "panic", v)
	}
}

func attachErrorMessage(err error) string {
	if errors.Is(err, runtime.ErrImageNotFound) {
		return "workspace image is not available, contact the operator"
	}
	return "workspace is temporarily unavailable"
}
