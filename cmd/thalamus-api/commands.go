package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gosuri/uitable"
	"golang.org/x/sync/errgroup"

	"github.com/thalamus/thalamus-api/internal/domain/repository"
)

const probePrompt = "Hello, world!"

// router is the part of query.Router the CLI needs.
type router interface {
	RouteQuery(ctx context.Context, text string) (repository.Descriptor, repository.ChunkSequence, error)
	RouteTo(ctx context.Context, text string, d repository.Descriptor) (repository.ChunkSequence, error)
}

func ask(ctx context.Context, w io.Writer, r router, reg *repository.Registry, backend, text string) error {
	var seq repository.ChunkSequence
	var err error
	if backend != "" {
		d, ok := reg.Lookup(backend)
		if !ok {
			return fmt.Errorf("%w: unknown backend %q", repository.ErrValidation, backend)
		}
		seq, err = r.RouteTo(ctx, text, d)
	} else {
		var d repository.Descriptor
		d, seq, err = r.RouteQuery(ctx, text)
		if err == nil {
			fmt.Fprintf(w, "[%s]\n", d.ID)
		}
	}
	if err != nil {
		return err
	}
	defer seq.Close()

	for {
		fragment, err := seq.Recv()
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(w)
			return nil
		}
		if err != nil {
			fmt.Fprintln(w)
			return err
		}
		if _, err := io.WriteString(w, fragment); err != nil {
			return err
		}
	}
}

type probeResult struct {
	Backend repository.Descriptor
	First   string
	Elapsed time.Duration
	Err     error
}

// probe sends probePrompt to every backend, at most concurrency at a time, and
// keeps the first fragment of each answer. Results follow the order of backends.
func probe(ctx context.Context, r router, backends []repository.Descriptor, concurrency int) []probeResult {
	results := make([]probeResult, len(backends))

	g, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, d := range backends {
		g.Go(func() error {
			start := time.Now()
			first, err := probeOne(ctx, r, d)
			results[i] = probeResult{Backend: d, First: first, Elapsed: time.Since(start), Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func probeOne(ctx context.Context, r router, d repository.Descriptor) (string, error) {
	seq, err := r.RouteTo(ctx, probePrompt, d)
	if err != nil {
		return "", err
	}
	defer seq.Close()

	first, err := seq.Recv()
	if errors.Is(err, io.EOF) {
		return "", fmt.Errorf("%w: backend %s answered with nothing", repository.ErrProvider, d.ID)
	}
	return first, err
}

func failed(results []probeResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

func probeTable(results []probeResult) *uitable.Table {
	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("BACKEND", "KIND", "STATUS", "ELAPSED", "DETAIL")
	for _, r := range results {
		status, detail := "OK", strings.TrimSpace(r.First)
		if r.Err != nil {
			status, detail = "FAIL", r.Err.Error()
		}
		table.AddRow(r.Backend.ID, r.Backend.Kind, status, r.Elapsed.Round(time.Millisecond), detail)
	}
	return table
}

func backendTable(reg *repository.Registry) *uitable.Table {
	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("ID", "KIND", "MODEL", "ENDPOINT")
	for _, d := range reg.All() {
		endpoint := d.BaseURL
		switch {
		case d.Kind == repository.KindSelfHosted:
			endpoint = d.Remote.Addr()
		case endpoint == "":
			endpoint = "default"
		}
		table.AddRow(d.ID, d.Kind, d.Model, endpoint)
	}
	return table
}
