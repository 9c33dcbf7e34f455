package tunnel

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/crypto/ssh"
)

// scriptedReader returns one part per Read, then EOF.
type scriptedReader struct {
	mu    sync.Mutex
	parts []string
}

func (r *scriptedReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.parts) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.parts[0])
	r.parts = r.parts[1:]
	return n, nil
}

type fakeProc struct {
	stdout  io.Reader
	stderr  io.Reader
	waitErr error
	onClose func()

	cmd    string
	pty    bool
	closes atomic.Int32
}

func (p *fakeProc) RequestPty(string, int, int, ssh.TerminalModes) error {
	p.pty = true
	return nil
}
func (p *fakeProc) StdoutPipe() (io.Reader, error) { return p.stdout, nil }
func (p *fakeProc) StderrPipe() (io.Reader, error) { return p.stderr, nil }
func (p *fakeProc) Start(cmd string) error         { p.cmd = cmd; return nil }
func (p *fakeProc) Wait() error                    { return p.waitErr }
func (p *fakeProc) Close() error {
	if p.closes.Add(1) == 1 && p.onClose != nil {
		p.onClose()
	}
	return nil
}

type fakeConn struct {
	proc   *fakeProc
	closes atomic.Int32
}

func (c *fakeConn) DialContext(context.Context, string, string) (net.Conn, error) {
	return nil, errors.New("not supported by fake")
}
func (c *fakeConn) NewSession() (Process, error) { return c.proc, nil }
func (c *fakeConn) Close() error                 { c.closes.Add(1); return nil }

type fakeDialer struct {
	jump      *fakeConn
	target    *fakeConn
	jumpErr   error
	targetErr error

	mu    sync.Mutex
	dials []string
	users []string
}

func (d *fakeDialer) Dial(_ context.Context, addr string, cfg *ssh.ClientConfig) (Conn, error) {
	d.record(addr, cfg.User)
	if d.jumpErr != nil {
		return nil, d.jumpErr
	}
	return d.jump, nil
}

func (d *fakeDialer) DialVia(_ context.Context, via Conn, addr string, cfg *ssh.ClientConfig) (Conn, error) {
	d.record(addr, cfg.User)
	if via != Conn(d.jump) {
		return nil, errors.New("target must be dialed through the jump connection")
	}
	if d.targetErr != nil {
		return nil, d.targetErr
	}
	return d.target, nil
}

func (d *fakeDialer) record(addr, user string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, addr)
	d.users = append(d.users, user)
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func newFakeDialer(proc *fakeProc) *fakeDialer {
	return &fakeDialer{jump: &fakeConn{}, target: &fakeConn{proc: proc}}
}

func writeTestKey(t *testing.T, dir, name string) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "test")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
}

func stderrOf(s string) io.Reader { return strings.NewReader(s) }
