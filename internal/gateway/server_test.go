package gateway

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/domain"
	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/runtime"
	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/service/auth"
)

func testHostKey(t *testing.T) ssh.Signer {
	t.Helper()
	signer, err := LoadOrCreateHostKey(filepath.Join(t.TempDir(), "host_key"))
	if err != nil {
		t.Fatalf("host key generation failed: %v", err)
	}
	return signer
}

func dialTestServer(t *testing.T, authn Authenticator, shells ShellProvider, username, password string) (*ssh.Client, error) {
	t.Helper()
	// net.Pipe deadlocks here: both SSH sides write their version string
	// before reading, and pipe writes block until the peer reads. Use a
	// loopback TCP pair instead, as x/crypto/ssh's own tests do.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	srv := NewServer("127.0.0.1:0", testHostKey(t), authn, shells, logger, 4, 2*time.Second)
	go func() {
		serverConn, err := ln.Accept()
		if err != nil {
			return
		}
		srv.handleConn(context.Background(), serverConn)
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	conf := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}
	conn, chans, reqs, err := ssh.NewClientConn(clientConn, "pipe", conf)
	if err != nil {
		clientConn.Close()
		return nil, err
	}
	return ssh.NewClient(conn, chans, reqs), nil
}

func TestGatewayDeliversShellSession(t *testing.T) {
	authn := &fakeAuth{
		username: "alice",
		password: "s3cret",
		user:     &domain.User{ID: "user-1", Username: "alice", IsActive: true},
	}
	shells := &fakeShells{banner: "workspace ready\r\n"}

	client, err := dialTestServer(t, authn, shells, "alice", "s3cret")
	if err != nil {
		t.Fatalf("ssh handshake failed: %v", err)
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		t.Fatalf("session open failed: %v", err)
	}
	defer sess.Close()

	var out bytes.Buffer
	sess.Stdout = &out
	if err := sess.RequestPty("xterm", 24, 80, ssh.TerminalModes{}); err != nil {
		t.Fatalf("pty request failed: %v", err)
	}
	if err := sess.Shell(); err != nil {
		t.Fatalf("shell request failed: %v", err)
	}
	if err := sess.Wait(); err != nil {
		t.Fatalf("session wait failed: %v", err)
	}
	if !strings.Contains(out.String(), "workspace ready") {
		t.Fatalf("expected workspace banner, got %q", out.String())
	}
	if shells.attachCalls() != 1 {
		t.Fatalf("expected one attach, got %d", shells.attachCalls())
	}
	if shells.lastUser() == nil || shells.lastUser().ID != "user-1" {
		t.Fatalf("attach received wrong user: %+v", shells.lastUser())
	}
}

func TestGatewayRejectsInvalidCredentials(t *testing.T) {
	authn := &fakeAuth{
		username: "alice",
		password: "s3cret",
		user:     &domain.User{ID: "user-1", Username: "alice", IsActive: true},
	}
	shells := &fakeShells{}

	_, err := dialTestServer(t, authn, shells, "alice", "wrong")
	if err == nil {
		t.Fatalf("expected handshake to fail with bad password")
	}
	if shells.attachCalls() != 0 {
		t.Fatalf("attach must never run for rejected credentials")
	}
}

func TestGatewayReportsMissingImageInBand(t *testing.T) {
	authn := &fakeAuth{
		username: "alice",
		password: "s3cret",
		user:     &domain.User{ID: "user-1", Username: "alice", IsActive: true},
	}
	shells := &fakeShells{attachErr: &runtime.Error{Op: "create container", Err: runtime.ErrImageNotFound}}

	client, err := dialTestServer(t, authn, shells, "alice", "s3cret")
	if err != nil {
		t.Fatalf("ssh handshake failed: %v", err)
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		t.Fatalf("session open failed: %v", err)
	}
	defer sess.Close()

	var out bytes.Buffer
	sess.Stdout = &out
	if err := sess.Shell(); err != nil {
		t.Fatalf("shell request failed: %v", err)
	}
	waitErr := sess.Wait()
	var exitErr *ssh.ExitError
	if !errors.As(waitErr, &exitErr) || exitErr.ExitStatus() != 1 {
		t.Fatalf("expected exit status 1, got %v", waitErr)
	}
	if !strings.Contains(out.String(), "image is not available") {
		t.Fatalf("expected in-band image message, got %q", out.String())
	}
}

func TestParsePtyRequest(t *testing.T) {
	payload := make([]byte, 0, 32)
	term := "xterm-256color"
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(term)))
	payload = append(payload, lenBuf[:]...)
	payload = append(payload, term...)
	var dims [16]byte
	binary.BigEndian.PutUint32(dims[0:4], 120)
	binary.BigEndian.PutUint32(dims[4:8], 40)
	payload = append(payload, dims[:]...)

	pty := parsePtyRequest(payload)
	if pty == nil {
		t.Fatalf("expected pty request to parse")
	}
	if pty.Term != term || pty.Cols != 120 || pty.Rows != 40 {
		t.Fatalf("unexpected parse result: %+v", pty)
	}
	if parsePtyRequest([]byte{0, 0}) != nil {
		t.Fatalf("expected truncated payload to be rejected")
	}
}

func TestParsePtyRequestRejectsOversizedTermLength(t *testing.T) {
	// A term-length near MaxUint32 must not wrap the bounds arithmetic and
	// slice past the payload.
	payload := make([]byte, 16)
	binary.BigEndian.PutUint32(payload[:4], 0xFFFFFFF4)
	if pty := parsePtyRequest(payload); pty != nil {
		t.Fatalf("expected oversized term length to be rejected, got %+v", pty)
	}
	binary.BigEndian.PutUint32(payload[:4], uint32(len(payload)))
	if pty := parsePtyRequest(payload); pty != nil {
		t.Fatalf("expected term length past payload end to be rejected, got %+v", pty)
	}
}

type fakeAuth struct {
	username string
	password string
	user     *domain.User
}

func (f *fakeAuth) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	if username != f.username || password != f.password {
		return nil, auth.ErrInvalidCredentials
	}
	if !f.user.IsActive {
		return nil, auth.ErrInactiveAccount
	}
	return f.user, nil
}

type fakeShells struct {
	mu        sync.Mutex
	banner    string
	attachErr error
	attaches  int
	user      *domain.User
}

func (f *fakeShells) AttachShell(ctx context.Context, user *domain.User) (runtime.Stream, error) {
	f.mu.Lock()
	f.attaches++
	f.user = user
	f.mu.Unlock()
	if f.attachErr != nil {
		return nil, f.attachErr
	}
	return newBannerStream(f.banner), nil
}

func (f *fakeShells) attachCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attaches
}

func (f *fakeShells) lastUser() *domain.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.user
}

// bannerStream emits a fixed banner, then EOF. Writes are swallowed.
type bannerStream struct {
	out *bytes.Reader
}

func newBannerStream(banner string) *bannerStream {
	return &bannerStream{out: bytes.NewReader([]byte(banner))}
}

func (s *bannerStream) Read(p []byte) (int, error)  { return s.out.Read(p) }
func (s *bannerStream) Write(p []byte) (int, error) { return len(p), nil }
func (s *bannerStream) Close() error                { return nil }
func (s *bannerStream) CloseWrite() error           { return nil }
