package tunnel

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// Conn is one authenticated SSH connection.
type Conn interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
	NewSession() (Process, error)
	Close() error
}

// Process is a remote command session.
type Process interface {
	RequestPty(term string, height, width int, modes ssh.TerminalModes) error
	StdoutPipe() (io.Reader, error)
	StderrPipe() (io.Reader, error)
	Start(cmd string) error
	Wait() error
	Close() error
}

// Dialer opens the two hops.
type Dialer interface {
	Dial(ctx context.Context, addr string, cfg *ssh.ClientConfig) (Conn, error)
	DialVia(ctx context.Context, via Conn, addr string, cfg *ssh.ClientConfig) (Conn, error)
}

type netDialer struct {
	timeout time.Duration
}

func (d netDialer) Dial(ctx context.Context, addr string, cfg *ssh.ClientConfig) (Conn, error) {
	nd := net.Dialer{Timeout: d.timeout}
	nc, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return d.handshake(ctx, nc, addr, cfg)
}

func (d netDialer) DialVia(ctx context.Context, via Conn, addr string, cfg *ssh.ClientConfig) (Conn, error) {
	nc, err := via.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return d.handshake(ctx, nc, addr, cfg)
}

// handshake bounds the SSH handshake by ctx and the dial timeout. Channel conns
// through the jump host do not support deadlines, so closing nc is the only way
// to abort a stalled peer.
func (d netDialer) handshake(ctx context.Context, nc net.Conn, addr string, cfg *ssh.ClientConfig) (Conn, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	stop := context.AfterFunc(ctx, func() { _ = nc.Close() })

	c, chans, reqs, err := ssh.NewClientConn(nc, addr, cfg)
	if !stop() {
		if err == nil {
			_ = c.Close()
		}
		return nil, ctx.Err()
	}
	if err != nil {
		_ = nc.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	return sshConn{ssh.NewClient(c, chans, reqs)}, nil
}

type sshConn struct {
	*ssh.Client
}

func (c sshConn) NewSession() (Process, error) {
	s, err := c.Client.NewSession()
	if err != nil {
		return nil, err
	}
	return s, nil
}
