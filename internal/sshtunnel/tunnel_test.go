package sshtunnel

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

type testKeys struct {
	clientPEM    string
	clientPublic ssh.PublicKey
	hostSigner   ssh.Signer
}

func generateKeys(t *testing.T) testKeys {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	clientPub, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(clientPriv, "")
	if err != nil {
		t.Fatalf("marshal client key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(clientPub)
	if err != nil {
		t.Fatalf("client public key: %v", err)
	}

	return testKeys{
		clientPEM:    string(pem.EncodeToMemory(block)),
		clientPublic: sshPub,
		hostSigner:   hostSigner,
	}
}

// startBastion runs a minimal in-process SSH server that accepts the
// given public key and serves direct-tcpip channels by dialing the
// requested target. It returns the listen address.
func startBastion(t *testing.T, keys testKeys) (host string, port int) {
	t.Helper()

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), keys.clientPublic.Marshal()) {
				return &ssh.Permissions{}, nil
			}
			return nil, errors.New("unknown public key")
		},
	}
	cfg.AddHostKey(keys.hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("bastion listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveBastionConn(conn, cfg)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func serveBastionConn(conn net.Conn, cfg *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "direct-tcpip" {
			newChan.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		var msg struct {
			DestAddr string
			DestPort uint32
			OrigAddr string
			OrigPort uint32
		}
		if err := ssh.Unmarshal(newChan.ExtraData(), &msg); err != nil {
			newChan.Reject(ssh.ConnectionFailed, "bad payload")
			continue
		}
		target, err := net.Dial("tcp", net.JoinHostPort(msg.DestAddr, strconv.Itoa(int(msg.DestPort))))
		if err != nil {
			newChan.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}
		ch, chReqs, err := newChan.Accept()
		if err != nil {
			target.Close()
			continue
		}
		go ssh.DiscardRequests(chReqs)
		go func() {
			defer ch.Close()
			defer target.Close()
			go io.Copy(ch, target)
			io.Copy(target, ch)
		}()
	}
}

// startEcho runs a TCP server that echoes everything back, standing in
// for a database endpoint behind the bastion.
func startEcho(t *testing.T) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("echo listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				io.Copy(conn, conn)
			}()
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func TestOpenForwardClose(t *testing.T) {
	keys := generateKeys(t)
	bastionHost, bastionPort := startBastion(t, keys)
	echoHost, echoPort := startEcho(t)

	before := ActiveCount()
	tun, err := Open(context.Background(), Config{
		Host:           bastionHost,
		Port:           bastionPort,
		User:           "tester",
		PrivateKey:     keys.clientPEM,
		ConnectTimeout: 5 * time.Second,
	}, echoHost, echoPort)
	if err != nil {
		t.Fatalf("open tunnel: %v", err)
	}
	if ActiveCount() != before+1 {
		t.Errorf("ActiveCount = %d, want %d", ActiveCount(), before+1)
	}
	if tun.Port() == 0 {
		t.Fatalf("tunnel has no local port")
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(tun.Port())), 5*time.Second)
	if err != nil {
		t.Fatalf("dial local listener: %v", err)
	}
	defer conn.Close()

	payload := []byte("SELECT version()")
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := make([]byte, len(payload))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("echoed %q, want %q", got, payload)
	}

	tun.Close()
	if !tun.IsClosed() {
		t.Errorf("tunnel not marked closed")
	}
	if ActiveCount() != before {
		t.Errorf("ActiveCount after close = %d, want %d", ActiveCount(), before)
	}

	// Close twice; the second must be a no-op.
	tun.Close()
}

func TestOpenGarbageKeyIsAuthError(t *testing.T) {
	_, err := Open(context.Background(), Config{
		Host:       "127.0.0.1",
		Port:       2222,
		User:       "tester",
		PrivateKey: "not a private key",
	}, "db", 5432)
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want *AuthError", err)
	}
}

func TestOpenRejectedKeyIsAuthError(t *testing.T) {
	serverKeys := generateKeys(t)
	bastionHost, bastionPort := startBastion(t, serverKeys)

	// A different, unauthorized client key.
	otherKeys := generateKeys(t)

	_, err := Open(context.Background(), Config{
		Host:           bastionHost,
		Port:           bastionPort,
		User:           "tester",
		PrivateKey:     otherKeys.clientPEM,
		ConnectTimeout: 5 * time.Second,
	}, "db", 5432)
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want *AuthError", err)
	}
}

func TestOpenUnreachableBastionIsConnectError(t *testing.T) {
	keys := generateKeys(t)

	// Grab a port that is guaranteed closed.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, err = Open(context.Background(), Config{
		Host:           "127.0.0.1",
		Port:           port,
		User:           "tester",
		PrivateKey:     keys.clientPEM,
		ConnectTimeout: 2 * time.Second,
	}, "db", 5432)
	var ce *ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *ConnectError", err)
	}
}

func TestReapClosesExpiredTunnels(t *testing.T) {
	keys := generateKeys(t)
	bastionHost, bastionPort := startBastion(t, keys)
	echoHost, echoPort := startEcho(t)

	tun, err := Open(context.Background(), Config{
		Host:           bastionHost,
		Port:           bastionPort,
		User:           "tester",
		PrivateKey:     keys.clientPEM,
		ConnectTimeout: 5 * time.Second,
	}, echoHost, echoPort)
	if err != nil {
		t.Fatalf("open tunnel: %v", err)
	}
	defer tun.Close()

	// A generous lifetime leaves the fresh tunnel alone.
	reap(time.Hour)
	if tun.IsClosed() {
		t.Fatalf("reap closed a fresh tunnel")
	}

	// A zero lifetime expires everything.
	reap(0)
	if !tun.IsClosed() {
		t.Errorf("reap left an expired tunnel open")
	}
}

func TestCloseAll(t *testing.T) {
	keys := generateKeys(t)
	bastionHost, bastionPort := startBastion(t, keys)
	echoHost, echoPort := startEcho(t)

	var tunnels []*Tunnel
	for i := 0; i < 3; i++ {
		tun, err := Open(context.Background(), Config{
			Host:           bastionHost,
			Port:           bastionPort,
			User:           "tester",
			PrivateKey:     keys.clientPEM,
			ConnectTimeout: 5 * time.Second,
		}, echoHost, echoPort)
		if err != nil {
			t.Fatalf("open tunnel %d: %v", i, err)
		}
		tunnels = append(tunnels, tun)
	}

	CloseAll()
	for i, tun := range tunnels {
		if !tun.IsClosed() {
			t.Errorf("tunnel %d still open after CloseAll", i)
		}
	}
	if ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d after CloseAll", ActiveCount())
	}
}
