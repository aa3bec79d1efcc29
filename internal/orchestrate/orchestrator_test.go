package orchestrate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/appweaver/api/internal/models"
	"github.com/appweaver/api/internal/relay"
	"github.com/appweaver/api/internal/sandbox"
)

type scriptedGenerator struct {
	streams []string
	errs    []error
	models  []string
}

func (g *scriptedGenerator) GenerateStream(_ context.Context, req sandbox.GenerateRequest) (io.ReadCloser, error) {
	i := len(g.models)
	g.models = append(g.models, req.Model)
	if i < len(g.errs) && g.errs[i] != nil {
		return nil, g.errs[i]
	}
	if i >= len(g.streams) {
		return io.NopCloser(strings.NewReader("")), nil
	}
	return io.NopCloser(strings.NewReader(g.streams[i])), nil
}

type memorySink struct {
	lines  []string
	failAt int // fail on the nth write, -1 disables
}

func newMemorySink() *memorySink {
	return &memorySink{failAt: -1}
}

func (s *memorySink) WriteLine(line string) error {
	if s.failAt >= 0 && len(s.lines) >= s.failAt {
		return errors.New("broken pipe")
	}
	s.lines = append(s.lines, line)
	return nil
}

func (s *memorySink) Flush() {}

// frames decodes every data line the sink received.
func (s *memorySink) frames(t *testing.T) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, l := range s.lines {
		if !strings.HasPrefix(l, "data: ") {
			continue
		}
		var frame map[string]interface{}
		if err := json.Unmarshal([]byte(l[len("data: "):]), &frame); err != nil {
			t.Fatalf("unparseable data line %q: %v", l, err)
		}
		out = append(out, frame)
	}
	return out
}

func terminals(frames []map[string]interface{}) []map[string]interface{} {
	var out []map[string]interface{}
	for _, f := range frames {
		if f["type"] == "complete" || f["type"] == "error" {
			out = append(out, f)
		}
	}
	return out
}

const emptyCompleteStream = "data: {\"type\":\"complete\",\"generatedCode\":\"\"}\n\n"

const successStream = "data: {\"type\":\"content\",\"text\":\"working on it\"}\n\n" +
	"data: {\"type\":\"complete\",\"generatedCode\":\"<file path=\\\"src/App.jsx\\\">export default function App() { return null }</file>\"}\n\n"

func newTestOrchestrator(gen Generator, cfg Config) *Orchestrator {
	if cfg.StreamReadTimeout == 0 {
		cfg.StreamReadTimeout = time.Second
	}
	return New(gen, zap.NewNop(), cfg)
}

func TestRunRetriesPastEmptyComplete(t *testing.T) {
	gen := &scriptedGenerator{streams: []string{emptyCompleteStream, successStream}}
	sink := newMemorySink()

	result, err := newTestOrchestrator(gen, Config{}).Run(context.Background(), models.GenerationRequest{
		Prompt:          "build a shop",
		ModelCandidates: []string{"m-primary", "m-fallback"},
	}, sink)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Succeeded() {
		t.Fatal("expected success after retry")
	}
	if result.Attempts != 2 || result.Model != "m-fallback" {
		t.Errorf("expected 2 attempts ending on m-fallback, got %d / %q", result.Attempts, result.Model)
	}
	if len(gen.models) != 2 || gen.models[0] != "m-primary" || gen.models[1] != "m-fallback" {
		t.Errorf("candidates tried in wrong order: %v", gen.models)
	}

	frames := sink.frames(t)
	term := terminals(frames)
	if len(term) != 1 || term[0]["type"] != "complete" {
		t.Fatalf("expected exactly one complete terminal, got %v", term)
	}
	if code, _ := term[0]["generatedCode"].(string); !strings.Contains(code, "src/App.jsx") {
		t.Errorf("terminal complete lost the generated code: %v", term[0])
	}

	status := 0
	for _, f := range frames {
		if f["type"] == "status" {
			status++
			if msg, _ := f["message"].(string); !strings.Contains(msg, "m-fallback") {
				t.Errorf("retry status should name the next model, got %q", msg)
			}
		}
	}
	if status != 1 {
		t.Errorf("expected one retry status event, got %d", status)
	}
}

func TestRunSynthesizesSingleErrorWhenAllFail(t *testing.T) {
	streams := []string{
		"data: {\"type\":\"error\",\"error\":\"Request timed out\"}\n\n",
		emptyCompleteStream,
		"data: {\"type\":\"error\",\"error\":\"model exploded\"}\n\n",
	}
	gen := &scriptedGenerator{streams: streams}
	sink := newMemorySink()

	result, err := newTestOrchestrator(gen, Config{}).Run(context.Background(), models.GenerationRequest{
		Prompt:          "build a shop",
		ModelCandidates: []string{"a", "b", "c"},
	}, sink)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Succeeded() {
		t.Fatal("all attempts failed, result must not report success")
	}
	if result.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Attempts)
	}

	term := terminals(sink.frames(t))
	if len(term) != 1 {
		t.Fatalf("expected exactly one terminal event, got %v", term)
	}
	if term[0]["type"] != "error" {
		t.Fatalf("terminal should be an error, got %v", term[0])
	}
	// Timeout evidence from the first attempt dominates cause reporting.
	if term[0]["code"] != string(models.UpstreamTimeout) {
		t.Errorf("expected %s cause, got %v", models.UpstreamTimeout, term[0]["code"])
	}
	if msg, _ := term[0]["error"].(string); !strings.Contains(msg, "model exploded") {
		t.Errorf("synthesized error should carry the last upstream message, got %q", msg)
	}
}

func TestRunSynthesizesCompleteAfterContentOnlyStream(t *testing.T) {
	stream := "data: {\"type\":\"content\",\"text\":\"const a = 1\"}\n\n"
	gen := &scriptedGenerator{streams: []string{stream}}
	sink := newMemorySink()

	result, err := newTestOrchestrator(gen, Config{}).Run(context.Background(), models.GenerationRequest{
		Prompt: "build a shop",
	}, sink)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Succeeded() {
		t.Fatal("incremental content counts as usable output")
	}

	term := terminals(sink.frames(t))
	if len(term) != 1 || term[0]["type"] != "complete" {
		t.Fatalf("expected one synthesized complete, got %v", term)
	}
}

func TestRunAppendsConfiguredFallbackModels(t *testing.T) {
	gen := &scriptedGenerator{streams: []string{emptyCompleteStream, successStream}}
	sink := newMemorySink()

	result, err := newTestOrchestrator(gen, Config{FallbackModels: []string{"deploy-fallback"}}).Run(
		context.Background(),
		models.GenerationRequest{Prompt: "build a shop", ModelCandidates: []string{"m1"}},
		sink,
	)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Succeeded() || result.Model != "deploy-fallback" {
		t.Errorf("expected success via deploy-fallback, got %+v", result)
	}
}

func TestRunDefaultsToSingleAttemptWithDefaultModel(t *testing.T) {
	gen := &scriptedGenerator{streams: []string{emptyCompleteStream}}
	sink := newMemorySink()

	result, err := newTestOrchestrator(gen, Config{}).Run(context.Background(), models.GenerationRequest{
		Prompt: "build a shop",
	}, sink)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Attempts != 1 {
		t.Errorf("no candidates configured: expected a single attempt, got %d", result.Attempts)
	}
	if len(gen.models) != 1 || gen.models[0] != "" {
		t.Errorf("expected one attempt with the upstream default model, got %v", gen.models)
	}

	term := terminals(sink.frames(t))
	if len(term) != 1 || term[0]["code"] != string(models.UpstreamEmptyOutput) {
		t.Errorf("expected one %s error, got %v", models.UpstreamEmptyOutput, term)
	}
}

func TestRunTreatsStreamOpenFailureAsRetryable(t *testing.T) {
	gen := &scriptedGenerator{
		errs:    []error{errors.New("connect: connection refused")},
		streams: []string{"", successStream},
	}
	sink := newMemorySink()

	result, err := newTestOrchestrator(gen, Config{}).Run(context.Background(), models.GenerationRequest{
		Prompt:          "build a shop",
		ModelCandidates: []string{"m1", "m2"},
	}, sink)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Succeeded() || result.Attempts != 2 {
		t.Errorf("expected success on second attempt, got %+v", result)
	}
}

func TestRunStopsOnClientDisconnect(t *testing.T) {
	gen := &scriptedGenerator{streams: []string{successStream, successStream}}
	sink := newMemorySink()
	sink.failAt = 0

	_, err := newTestOrchestrator(gen, Config{}).Run(context.Background(), models.GenerationRequest{
		Prompt:          "build a shop",
		ModelCandidates: []string{"m1", "m2"},
	}, sink)

	if !errors.Is(err, relay.ErrClientGone) {
		t.Fatalf("expected ErrClientGone, got %v", err)
	}
	if len(gen.models) != 1 {
		t.Errorf("no further attempts after disconnect, got %d", len(gen.models))
	}
}
