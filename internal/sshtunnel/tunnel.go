// Package sshtunnel opens one SSH tunnel per request: an SSH connection
// to a bastion host plus a local TCP listener whose accepted connections
// are forwarded through the SSH session to a remote database endpoint.
//
// Tunnels are never pooled or reused. Every orchestrated operation opens
// its own tunnel and closes it on the way out; the registry in
// registry.go exists only as a leak safety net.
package sshtunnel

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Config describes the bastion host and the credentials used to reach it.
// PrivateKey and Passphrase arrive already decrypted.
type Config struct {
	Host       string
	Port       int
	User       string
	PrivateKey string
	Passphrase string

	// ConnectTimeout bounds the TCP dial and SSH handshake.
	ConnectTimeout time.Duration
}

// AuthError indicates the bastion rejected our credentials, or the
// private key itself was unusable.
type AuthError struct{ Err error }

func (e *AuthError) Error() string { return fmt.Sprintf("ssh auth failed: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// ConnectError indicates the bastion host was unreachable.
type ConnectError struct{ Err error }

func (e *ConnectError) Error() string { return fmt.Sprintf("ssh connect failed: %v", e.Err) }
func (e *ConnectError) Unwrap() error { return e.Err }

// BindError indicates no local port could be bound for the listener.
type BindError struct{ Err error }

func (e *BindError) Error() string { return fmt.Sprintf("tunnel bind failed: %v", e.Err) }
func (e *BindError) Unwrap() error { return e.Err }

// Tunnel is a live forwarded tunnel. It owns one SSH client session and
// one local listener, and is exclusively owned by the request that
// opened it.
type Tunnel struct {
	// LocalPort is the OS-assigned port of the local listener. Drivers
	// connect to 127.0.0.1:LocalPort instead of the real endpoint.
	LocalPort int

	target    string
	client    *ssh.Client
	listener  net.Listener
	cancel    context.CancelFunc
	openedAt  time.Time

	mu     sync.Mutex
	conns  map[net.Conn]struct{} // in-flight forwarded connections
	closed bool
}

// Open authenticates to the bastion with the given private key and binds
// an ephemeral local listener forwarding to targetHost:targetPort.
func Open(ctx context.Context, cfg Config, targetHost string, targetPort int) (*Tunnel, error) {
	var signer ssh.Signer
	var err error
	if cfg.Passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(cfg.PrivateKey), []byte(cfg.Passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey([]byte(cfg.PrivateKey))
	}
	if err != nil {
		return nil, &AuthError{Err: fmt.Errorf("parse private key: %w", err)}
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	sshCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	dialer := net.Dialer{Timeout: timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Err: fmt.Errorf("dial %s: %w", addr, err)}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, sshCfg)
	if err != nil {
		netConn.Close()
		// The handshake is where key auth gets rejected.
		return nil, &AuthError{Err: fmt.Errorf("ssh handshake with %s: %w", addr, err)}
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		client.Close()
		return nil, &BindError{Err: err}
	}

	tunnelCtx, cancel := context.WithCancel(context.Background())
	t := &Tunnel{
		LocalPort: listener.Addr().(*net.TCPAddr).Port,
		target:    net.JoinHostPort(targetHost, fmt.Sprintf("%d", targetPort)),
		client:    client,
		listener:  listener,
		cancel:    cancel,
		openedAt:  time.Now(),
		conns:     make(map[net.Conn]struct{}),
	}

	go t.acceptLoop(tunnelCtx)
	register(t)

	log.Printf("[tunnel] opened: %s via %s, local port %d", t.target, addr, t.LocalPort)
	return t, nil
}

// acceptLoop forwards every accepted local connection through a new SSH
// channel to the target. Multiple concurrent connections are supported
// for engines that open more than one socket.
func (t *Tunnel) acceptLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Set a deadline so we can check for context cancellation
		if dl, ok := t.listener.(*net.TCPListener); ok {
			dl.SetDeadline(time.Now().Add(1 * time.Second))
		}

		conn, err := t.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Printf("[tunnel] accept error for %s: %v", t.target, err)
			return
		}

		remote, err := t.client.Dial("tcp", t.target)
		if err != nil {
			log.Printf("[tunnel] ssh dial to %s failed: %v", t.target, err)
			conn.Close()
			continue
		}

		t.track(conn)
		t.track(remote)
		go func() {
			bidirectionalCopy(ctx, conn, remote)
			t.untrack(conn)
			t.untrack(remote)
		}()
	}
}

func (t *Tunnel) track(c net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		c.Close()
		return
	}
	t.conns[c] = struct{}{}
}

func (t *Tunnel) untrack(c net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, c)
}

// Close stops accepting new connections, closes in-flight forwarded
// connections, and terminates the SSH session. It is idempotent. Both
// releases are attempted even if one fails; inner errors are logged and
// never returned.
func (t *Tunnel) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	conns := make([]net.Conn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.conns = nil
	t.mu.Unlock()

	deregister(t)
	t.cancel()

	if err := t.listener.Close(); err != nil {
		log.Printf("[tunnel] listener close: %v", err)
	}
	for _, c := range conns {
		c.Close()
	}
	if err := t.client.Close(); err != nil && err != io.EOF {
		log.Printf("[tunnel] ssh close: %v", err)
	}
	log.Printf("[tunnel] closed: %s (local port %d)", t.target, t.LocalPort)
}

// Port returns the bound local port.
func (t *Tunnel) Port() int { return t.LocalPort }

// IsClosed reports whether Close has run.
func (t *Tunnel) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// bidirectionalCopy pipes data between two connections until one side
// closes or errors.
func bidirectionalCopy(ctx context.Context, a, b net.Conn) {
	done := make(chan struct{}, 2)
	cp := func(dst, src net.Conn) {
		defer func() { done <- struct{}{} }()
		io.Copy(dst, src)
	}
	go cp(a, b)
	go cp(b, a)

	select {
	case <-done:
	case <-ctx.Done():
	}
	a.Close()
	b.Close()
	// Wait for the second copy to finish
	<-done
}
