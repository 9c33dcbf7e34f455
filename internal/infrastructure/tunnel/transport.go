// Package tunnel streams self-hosted model output over an SSH double hop:
// local → jump host → private inference host → `<runner> run` in a pty.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-logr/logr"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/sync/errgroup"

	"github.com/thalamus/thalamus-api/internal/chunk"
	"github.com/thalamus/thalamus-api/internal/domain/repository"
	"github.com/thalamus/thalamus-api/internal/infrastructure/resilience"
)

const (
	readSize       = 4096
	maxStderrBytes = 8192
)

// Config describes the jump host and the local credentials.
type Config struct {
	KeyDir         string
	KeyNames       []string
	JumpAddr       string
	JumpUser       string
	KnownHostsFile string
	DialTimeout    time.Duration
}

// Transport implements repository.Dispatcher for self-hosted backends.
type Transport struct {
	cfg      Config
	dialer   Dialer
	breakers *resilience.Set
	hostKeys ssh.HostKeyCallback
	log      logr.Logger
}

var _ repository.Dispatcher = (*Transport)(nil)

// New creates a Transport. Without a known_hosts file every host key is accepted.
func New(cfg Config, breakers *resilience.Set, log logr.Logger) (*Transport, error) {
	log = log.WithName("tunnel")

	hostKeys := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts %s: %w", cfg.KnownHostsFile, err)
		}
		hostKeys = cb
	} else {
		log.Info("⚠️ No known_hosts file configured, host keys are not verified")
	}

	return &Transport{
		cfg:      cfg,
		dialer:   netDialer{timeout: cfg.DialTimeout},
		breakers: breakers,
		hostKeys: hostKeys,
		log:      log,
	}, nil
}

// Stream opens both hops, starts the model runner and returns its output as a
// ChunkSequence. Setup failures are returned directly and leave nothing open.
func (t *Transport) Stream(ctx context.Context, q repository.Query, d repository.Descriptor) (repository.ChunkSequence, error) {
	if d.Kind != repository.KindSelfHosted {
		return nil, fmt.Errorf("%w: backend %q is not self-hosted", repository.ErrValidation, d.ID)
	}
	cmd, err := BuildCommand(d.Remote.Runner, d.Model, q.Text)
	if err != nil {
		return nil, err
	}
	signer, err := LoadSigner(t.cfg.KeyDir, t.cfg.KeyNames)
	if err != nil {
		return nil, err
	}

	s := &session{log: t.log.WithValues("backend", d.ID)}
	if err := t.open(ctx, s, signer, d, cmd); err != nil {
		s.close()
		return nil, err
	}
	return chunk.Start(ctx, s.relay), nil
}

func (t *Transport) open(ctx context.Context, s *session, signer ssh.Signer, d repository.Descriptor, cmd string) error {
	auth := []ssh.AuthMethod{ssh.PublicKeys(signer)}

	t.log.V(1).Info("🔐 Connecting to jump host", "addr", t.cfg.JumpAddr)
	err := t.guard(t.cfg.JumpAddr, func() (err error) {
		s.jump, err = t.dialer.Dial(ctx, t.cfg.JumpAddr, t.clientConfig(t.cfg.JumpUser, auth))
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: jump host %s: %w", repository.ErrConnection, t.cfg.JumpAddr, err)
	}

	user := d.Remote.User
	if user == "" {
		user = t.cfg.JumpUser
	}
	target := d.Remote.Addr()
	t.log.V(1).Info("🔐 Connecting to target through jump host", "addr", target)
	err = t.guard(target, func() (err error) {
		s.target, err = t.dialer.DialVia(ctx, s.jump, target, t.clientConfig(user, auth))
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: target host %s: %w", repository.ErrConnection, target, err)
	}

	if err := s.start(cmd); err != nil {
		return fmt.Errorf("%w: starting remote command on %s: %w", repository.ErrConnection, target, err)
	}
	t.log.V(1).Info("🚀 Remote runner started", "runner", d.Remote.Runner, "model", d.Model)
	return nil
}

func (t *Transport) guard(addr string, fn func() error) error {
	if t.breakers == nil {
		return fn()
	}
	return t.breakers.For(addr).Execute(fn)
}

func (t *Transport) clientConfig(user string, auth []ssh.AuthMethod) *ssh.ClientConfig {
	return &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: t.hostKeys,
		Timeout:         t.cfg.DialTimeout,
	}
}

// session owns the three legs of one invocation.
type session struct {
	jump   Conn
	target Conn
	proc   Process
	stdout io.Reader
	stderr io.Reader

	once sync.Once
	log  logr.Logger
}

func (s *session) start(cmd string) error {
	proc, err := s.target.NewSession()
	if err != nil {
		return err
	}
	s.proc = proc

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := proc.RequestPty("xterm", 40, 200, modes); err != nil {
		return fmt.Errorf("requesting pty: %w", err)
	}
	if s.stdout, err = proc.StdoutPipe(); err != nil {
		return err
	}
	if s.stderr, err = proc.StderrPipe(); err != nil {
		return err
	}
	return proc.Start(cmd)
}

// close tears down process, target and jump, in that order, exactly once.
func (s *session) close() {
	s.once.Do(func() {
		if s.proc != nil {
			_ = s.proc.Close()
		}
		if s.target != nil {
			_ = s.target.Close()
		}
		if s.jump != nil {
			_ = s.jump.Close()
		}
		s.log.V(1).Info("🔒 Tunnel closed")
	})
}

func (s *session) relay(ctx context.Context, emit chunk.Emit) error {
	defer s.close()

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, s.close)
	defer stop()

	var errOut cappedBuffer
	var exitErr error
	g.Go(func() error {
		_, err := io.Copy(&errOut, s.stderr)
		return err
	})
	g.Go(func() error {
		if err := pump(s.stdout, emit); err != nil {
			return err
		}
		exitErr = s.proc.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	if msg := strings.TrimSpace(errOut.String()); msg != "" {
		return fmt.Errorf("%w: %s", repository.ErrRemote, msg)
	}
	if exitErr != nil {
		var ee *ssh.ExitError
		if errors.As(exitErr, &ee) {
			return fmt.Errorf("%w: remote command exited with status %d", repository.ErrRemote, ee.ExitStatus())
		}
		return fmt.Errorf("%w: %w", repository.ErrRemote, exitErr)
	}
	return nil
}

// pump forwards stdout as it arrives. A UTF-8 sequence split across reads is
// held back until its remaining bytes show up.
func pump(r io.Reader, emit chunk.Emit) error {
	buf := make([]byte, readSize)
	var carry []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			cut := completePrefix(data)
			if cut > 0 {
				if e := emit(string(data[:cut])); e != nil {
					return e
				}
			}
			carry = append([]byte(nil), data[cut:]...)
		}
		if errors.Is(err, io.EOF) {
			if len(carry) > 0 {
				return emit(string(carry))
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: reading remote output: %w", repository.ErrConnection, err)
		}
	}
}

func completePrefix(p []byte) int {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if utf8.RuneStart(p[i]) {
			if utf8.FullRune(p[i:]) {
				return len(p)
			}
			return i
		}
	}
	return len(p)
}

// cappedBuffer keeps the first maxStderrBytes and discards the rest, so a
// chatty stderr never stalls the remote process.
type cappedBuffer struct {
	b strings.Builder
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := maxStderrBytes - c.b.Len(); room > 0 {
		if len(p) > room {
			c.b.Write(p[:room])
		} else {
			c.b.Write(p)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	return c.b.String()
}
