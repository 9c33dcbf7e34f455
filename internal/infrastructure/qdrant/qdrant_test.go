package qdrant

import (
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
)

func scored(backend string, score float32) *pb.ScoredPoint {
	payload := map[string]any{"text": "sample"}
	if backend != "" {
		payload[payloadBackend] = backend
	}
	return &pb.ScoredPoint{Payload: pb.NewValueMap(payload), Score: score}
}

func TestBestMatch(t *testing.T) {
	m, ok := bestMatch([]*pb.ScoredPoint{scored("mistral", 0.4), scored("gpt-4", 0.9), scored("", 0.99)})
	if !ok {
		t.Fatal("expected a match")
	}
	if m.BackendID != "gpt-4" || m.Score != 0.9 {
		t.Errorf("unexpected match %+v", m)
	}
}

func TestBestMatch_Empty(t *testing.T) {
	if _, ok := bestMatch(nil); ok {
		t.Error("expected no match for no points")
	}
	if _, ok := bestMatch([]*pb.ScoredPoint{scored("", 0.5), nil}); ok {
		t.Error("expected no match when payload lacks a backend")
	}
}

func TestExemplarID_Deterministic(t *testing.T) {
	a := ExemplarID("mistral", "Tell me a joke")
	if a != ExemplarID("mistral", "Tell me a joke") {
		t.Error("expected the same id for the same exemplar")
	}
	if a == ExemplarID("llama3.1", "Tell me a joke") {
		t.Error("expected different ids for different backends")
	}
}
