package query

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thalamus/thalamus-api/internal/chunk"
	"github.com/thalamus/thalamus-api/internal/domain/repository"
)

type scriptedDispatcher struct {
	texts []string
	err   error
}

func (d scriptedDispatcher) Stream(ctx context.Context, _ repository.Query, _ repository.Descriptor) (repository.ChunkSequence, error) {
	return chunk.Fragments(ctx, d.err, d.texts...), nil
}

var auditBackend = repository.Descriptor{ID: "mistral", Kind: repository.KindSelfHosted}

func TestAuditedDispatcher_RecordsCompletion(t *testing.T) {
	repo := &memoryAudit{}
	a := NewAuditedDispatcher(scriptedDispatcher{texts: []string{"Hel", "lo"}}, repo, logr.Discard())

	seq, err := a.Stream(context.Background(), repository.Query{Text: "hi"}, auditBackend)
	require.NoError(t, err)

	text, err := chunk.Collect(seq)
	require.NoError(t, err)
	assert.Equal(t, "Hello", text, "audit must not change the stream")
	require.NoError(t, seq.Close())

	out := repo.all()
	require.Len(t, out, 1)
	assert.Equal(t, repository.RouteCompleted, out[0].Status)
	assert.Equal(t, 2, out[0].Fragments)
	assert.Equal(t, 5, out[0].Bytes)
	assert.Equal(t, "mistral", out[0].BackendID)
}

func TestAuditedDispatcher_RecordsInBandFailure(t *testing.T) {
	repo := &memoryAudit{}
	remoteErr := errors.Join(repository.ErrRemote, errors.New("model not found"))
	a := NewAuditedDispatcher(scriptedDispatcher{texts: []string{"partial"}, err: remoteErr}, repo, logr.Discard())

	seq, err := a.Stream(context.Background(), repository.Query{Text: "hi"}, auditBackend)
	require.NoError(t, err)
	defer seq.Close()

	_, err = chunk.Collect(seq)
	require.ErrorIs(t, err, repository.ErrRemote)

	out := repo.all()
	require.Len(t, out, 1)
	assert.Equal(t, repository.RouteFailed, out[0].Status)
	assert.Equal(t, 1, out[0].Fragments)
	assert.Contains(t, out[0].Err, "model not found")
}

func TestAuditedDispatcher_RecordsEarlyClose(t *testing.T) {
	repo := &memoryAudit{}
	a := NewAuditedDispatcher(scriptedDispatcher{texts: []string{"a", "b", "c"}}, repo, logr.Discard())

	seq, err := a.Stream(context.Background(), repository.Query{Text: "hi"}, auditBackend)
	require.NoError(t, err)
	_, err = seq.Recv()
	require.NoError(t, err)
	require.NoError(t, seq.Close())
	require.NoError(t, seq.Close())

	out := repo.all()
	require.Len(t, out, 1)
	assert.Equal(t, repository.RouteCanceled, out[0].Status)
	assert.Equal(t, 1, out[0].Fragments)
}

func TestAuditedDispatcher_RecordsDispatchFailure(t *testing.T) {
	repo := &memoryAudit{}
	a := NewAuditedDispatcher(&echoDispatcher{err: repository.ErrCredentialNotFound}, repo, logr.Discard())

	_, err := a.Stream(context.Background(), repository.Query{Text: "hi"}, auditBackend)
	require.ErrorIs(t, err, repository.ErrCredentialNotFound)

	out := repo.all()
	require.Len(t, out, 1)
	assert.Equal(t, repository.RouteFailed, out[0].Status)
}

func TestAuditedDispatcher_AuditFailureDoesNotAffectStream(t *testing.T) {
	repo := &memoryAudit{err: errors.New("disk full")}
	a := NewAuditedDispatcher(scriptedDispatcher{texts: []string{"ok"}}, repo, logr.Discard())

	seq, err := a.Stream(context.Background(), repository.Query{Text: "hi"}, auditBackend)
	require.NoError(t, err)
	defer seq.Close()

	text, err := seq.Recv()
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	_, err = seq.Recv()
	assert.ErrorIs(t, err, io.EOF)
}
