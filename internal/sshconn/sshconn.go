// Package sshconn opens key-authenticated SSH connections to a Gerrit server and runs
// one command per session.
//
// Host keys are NOT verified: the connection behaves like OpenSSH with
// StrictHostKeyChecking=no. Deployments that need verification must supply their own
// Dialer.
package sshconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/net/proxy"
)

// DefaultPort is Gerrit's SSH daemon port
const DefaultPort = 29418

// Credentials describe how to reach and authenticate against the Gerrit SSH daemon
type Credentials struct {
	Host        string
	Port        int
	Proxy       string // optional, e.g. socks5://proxy:1080
	User        string
	PrivateKey  []byte // PEM encoded
	Passphrase  []byte // optional
	DialTimeout time.Duration
}

// Addr returns host:port, applying the default port
func (c Credentials) Addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Dialer opens connections. Each protocol call dials a fresh connection.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is an open SSH connection
type Conn interface {
	// Exec starts command in a new session
	Exec(command string) (Session, error)
	Close() error
}

// Session is one running remote command
type Session interface {
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the command exits. A non-zero exit status is reported as *ExitError.
	Wait() error
	Close() error
}

// ExitError reports a remote command that ran but exited non-zero
type ExitError struct {
	Status int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("remote command exited with status %d", e.Status)
}

// SSHDialer is the x/crypto/ssh backed Dialer
type SSHDialer struct {
	creds  Credentials
	config *ssh.ClientConfig
}

// NewDialer validates the credentials and parses the private key once
func NewDialer(creds Credentials) (*SSHDialer, error) {
	if creds.Host == "" {
		return nil, errors.New("ssh host is required")
	}
	if creds.User == "" {
		return nil, errors.New("ssh user is required")
	}

	signer, err := parseSigner(creds.PrivateKey, creds.Passphrase)
	if err != nil {
		return nil, err
	}

	timeout := creds.DialTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &SSHDialer{
		creds: creds,
		config: &ssh.ClientConfig{
			User:            creds.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         timeout,
		},
	}, nil
}

func parseSigner(key, passphrase []byte) (ssh.Signer, error) {
	if len(key) == 0 {
		return nil, errors.New("ssh private key is required")
	}
	if len(passphrase) > 0 {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(key, passphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key with passphrase: %w", err)
		}
		return signer, nil
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}

// Dial opens a TCP connection (optionally through the proxy) and performs the SSH handshake
func (d *SSHDialer) Dial(ctx context.Context) (Conn, error) {
	addr := d.creds.Addr()

	dialCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	netConn, err := d.dialTCP(dialCtx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	if deadline, ok := dialCtx.Deadline(); ok {
		_ = netConn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, d.config)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}

	// handshake done, the session itself is bounded by the caller's context
	_ = netConn.SetDeadline(time.Time{})

	return &clientConn{client: ssh.NewClient(sshConn, chans, reqs)}, nil
}

func (d *SSHDialer) dialTCP(ctx context.Context, addr string) (net.Conn, error) {
	if d.creds.Proxy == "" {
		var nd net.Dialer
		return nd.DialContext(ctx, "tcp", addr)
	}

	u, err := url.Parse(d.creds.Proxy)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	pd, err := proxy.FromURL(u, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("unsupported proxy %q: %w", d.creds.Proxy, err)
	}
	if cd, ok := pd.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", addr)
	}
	return pd.Dial("tcp", addr)
}

type clientConn struct {
	client *ssh.Client
}

func (c *clientConn) Exec(command string) (Session, error) {
	s, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	stdout, err := s.StdoutPipe()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := s.StderrPipe()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := s.Start(command); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start %q: %w", command, err)
	}

	return &session{s: s, stdout: stdout, stderr: stderr}, nil
}

func (c *clientConn) Close() error {
	return c.client.Close()
}

type session struct {
	s      *ssh.Session
	stdout io.Reader
	stderr io.Reader
}

func (s *session) Stdout() io.Reader { return s.stdout }
func (s *session) Stderr() io.Reader { return s.stderr }

func (s *session) Wait() error {
	err := s.s.Wait()
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Status: exitErr.ExitStatus()}
	}
	return err
}

func (s *session) Close() error {
	err := s.s.Close()
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
