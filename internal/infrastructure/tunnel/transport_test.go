package tunnel

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/thalamus/thalamus-api/internal/chunk"
	"github.com/thalamus/thalamus-api/internal/domain/repository"
	"github.com/thalamus/thalamus-api/internal/infrastructure/resilience"
)

var mistral = repository.Descriptor{
	ID:    "mistral",
	Kind:  repository.KindSelfHosted,
	Model: "mistral",
	Remote: repository.Remote{
		Host:   "100.81.81.162",
		Port:   22,
		User:   "ubuntu",
		Runner: "ollama",
	},
}

func newTestTransport(t *testing.T, dialer Dialer, withKey bool) *Transport {
	t.Helper()
	dir := t.TempDir()
	if withKey {
		writeTestKey(t, dir, "id_ed25519")
	}
	tr, err := New(Config{
		KeyDir:   dir,
		KeyNames: []string{"id_rsa", "id_ed25519", "id_ecdsa", "id_dsa"},
		JumpAddr: "146.152.232.8:22",
		JumpUser: "guest",
	}, resilience.NewSet(3, time.Minute, nil), logr.Discard())
	require.NoError(t, err)
	tr.dialer = dialer
	return tr
}

func assertClosedOnce(t *testing.T, d *fakeDialer, proc *fakeProc) {
	t.Helper()
	assert.Equal(t, int32(1), proc.closes.Load(), "remote process closes")
	assert.Equal(t, int32(1), d.target.closes.Load(), "target connection closes")
	assert.Equal(t, int32(1), d.jump.closes.Load(), "jump connection closes")
}

func TestStream_YieldsChunksInOrderAndClosesOnce(t *testing.T) {
	proc := &fakeProc{stdout: &scriptedReader{parts: []string{"Hel", "lo"}}, stderr: stderrOf("")}
	dialer := newFakeDialer(proc)
	tr := newTestTransport(t, dialer, true)

	seq, err := tr.Stream(context.Background(), repository.Query{Text: "say hello"}, mistral)
	require.NoError(t, err)

	var got []string
	for {
		text, err := seq.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, text)
	}
	require.NoError(t, seq.Close())

	assert.Equal(t, []string{"Hel", "lo"}, got)
	assertClosedOnce(t, dialer, proc)
	assert.True(t, proc.pty, "command must run in a pty")
	assert.Equal(t, "ollama run 'mistral' 'say hello'", proc.cmd)
	assert.Equal(t, []string{"146.152.232.8:22", "100.81.81.162:22"}, dialer.dials)
	assert.Equal(t, []string{"guest", "ubuntu"}, dialer.users)
}

func TestStream_EarlyAbandonClosesOnce(t *testing.T) {
	pr, pw := io.Pipe()
	proc := &fakeProc{stdout: pr, stderr: stderrOf(""), onClose: func() { _ = pr.CloseWithError(io.ErrClosedPipe) }}
	dialer := newFakeDialer(proc)
	tr := newTestTransport(t, dialer, true)

	go func() { _, _ = pw.Write([]byte("Hel")) }()

	seq, err := tr.Stream(context.Background(), repository.Query{Text: "say hello"}, mistral)
	require.NoError(t, err)

	text, err := seq.Recv()
	require.NoError(t, err)
	assert.Equal(t, "Hel", text)

	require.NoError(t, seq.Close())
	assertClosedOnce(t, dialer, proc)

	_, err = seq.Recv()
	assert.ErrorIs(t, err, chunk.ErrClosed)
	require.NoError(t, seq.Close())
	assertClosedOnce(t, dialer, proc)
}

func TestStream_CallerCancellationClosesTunnel(t *testing.T) {
	pr, _ := io.Pipe()
	proc := &fakeProc{stdout: pr, stderr: stderrOf(""), onClose: func() { _ = pr.CloseWithError(io.ErrClosedPipe) }}
	dialer := newFakeDialer(proc)
	tr := newTestTransport(t, dialer, true)

	ctx, cancel := context.WithCancel(context.Background())
	seq, err := tr.Stream(ctx, repository.Query{Text: "hang forever"}, mistral)
	require.NoError(t, err)
	defer seq.Close()

	cancel()
	_, err = seq.Recv()
	assert.ErrorIs(t, err, context.Canceled)
	assertClosedOnce(t, dialer, proc)
}

func TestStream_NoKeyOpensNoConnections(t *testing.T) {
	dialer := newFakeDialer(&fakeProc{})
	tr := newTestTransport(t, dialer, false)

	_, err := tr.Stream(context.Background(), repository.Query{Text: "hi"}, mistral)
	assert.ErrorIs(t, err, repository.ErrCredentialNotFound)
	assert.Zero(t, dialer.dialCount())
}

func TestStream_RemoteStderrBecomesTerminalError(t *testing.T) {
	proc := &fakeProc{
		stdout: &scriptedReader{parts: []string{"partial"}},
		stderr: stderrOf("Error: model 'mistral' not found\n"),
	}
	dialer := newFakeDialer(proc)
	tr := newTestTransport(t, dialer, true)

	seq, err := tr.Stream(context.Background(), repository.Query{Text: "hi"}, mistral)
	require.NoError(t, err)
	defer seq.Close()

	text, err := chunk.Collect(seq)
	assert.Equal(t, "partial", text)
	require.ErrorIs(t, err, repository.ErrRemote)
	assert.Contains(t, err.Error(), "model 'mistral' not found")
	assertClosedOnce(t, dialer, proc)
}

func TestStream_NonZeroExitIsRemoteError(t *testing.T) {
	proc := &fakeProc{
		stdout:  &scriptedReader{parts: []string{"out"}},
		stderr:  stderrOf(""),
		waitErr: &ssh.ExitMissingError{},
	}
	dialer := newFakeDialer(proc)
	tr := newTestTransport(t, dialer, true)

	seq, err := tr.Stream(context.Background(), repository.Query{Text: "hi"}, mistral)
	require.NoError(t, err)
	defer seq.Close()

	_, err = chunk.Collect(seq)
	assert.ErrorIs(t, err, repository.ErrRemote)
}

func TestStream_TargetFailureClosesJump(t *testing.T) {
	dialer := newFakeDialer(&fakeProc{})
	dialer.targetErr = errors.New("no route to host")
	tr := newTestTransport(t, dialer, true)

	_, err := tr.Stream(context.Background(), repository.Query{Text: "hi"}, mistral)
	assert.ErrorIs(t, err, repository.ErrConnection)
	assert.Equal(t, int32(1), dialer.jump.closes.Load())
}

func TestStream_OpenBreakerFailsFast(t *testing.T) {
	dialer := newFakeDialer(&fakeProc{})
	dialer.jumpErr = errors.New("connection refused")
	tr := newTestTransport(t, dialer, true)

	for i := 0; i < 3; i++ {
		_, err := tr.Stream(context.Background(), repository.Query{Text: "hi"}, mistral)
		require.ErrorIs(t, err, repository.ErrConnection)
	}
	_, err := tr.Stream(context.Background(), repository.Query{Text: "hi"}, mistral)
	assert.ErrorIs(t, err, repository.ErrConnection)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 3, dialer.dialCount())
}

func TestStream_RejectsUnsafeQueryBeforeDialing(t *testing.T) {
	dialer := newFakeDialer(&fakeProc{})
	tr := newTestTransport(t, dialer, true)

	_, err := tr.Stream(context.Background(), repository.Query{Text: "hi\x00there"}, mistral)
	assert.ErrorIs(t, err, repository.ErrValidation)
	assert.Zero(t, dialer.dialCount())
}

func TestPump_HoldsBackSplitRunes(t *testing.T) {
	// "é" is 0xC3 0xA9; split it across two reads.
	r := &scriptedReader{parts: []string{"caf\xc3", "\xa9!"}}
	var got []string
	err := pump(r, func(text string) error {
		got = append(got, text)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"caf", "é!"}, got)
	assert.Equal(t, "café!", strings.Join(got, ""))
}
