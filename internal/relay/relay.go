// Package relay forwards an upstream SSE code-generation stream to a
// downstream client line by line, rewriting or withholding specific events
// in flight, and classifies how the attempt ended.
package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"

	"github.com/appweaver/api/internal/bundle"
	"github.com/appweaver/api/internal/sanitize"
)

// ErrClientGone signals that the downstream client disconnected. It is a
// normal termination: the caller stops further attempts and cleans up.
var ErrClientGone = errors.New("downstream client disconnected")

const dataPrefix = "data: "

// maxLineSize bounds a single SSE line; complete events embed whole file
// bundles, so this is generous.
const maxLineSize = 4 * 1024 * 1024

// Sink receives relayed SSE lines. WriteLine appends the line terminator.
type Sink interface {
	WriteLine(line string) error
	Flush()
}

// Outcome is the per-attempt result, produced once and read-only after.
type Outcome struct {
	SawIncrementalContent bool
	SawCompleteWithCode   bool
	SawTimeoutError       bool

	// ForwardedTerminal records whether an unsuppressed terminal event
	// reached the client during this attempt.
	ForwardedTerminal bool

	LastErrorMessage string
}

// HasUsableCode reports whether the attempt produced anything the client
// can work with.
func (o Outcome) HasUsableCode() bool {
	return o.SawIncrementalContent || o.SawCompleteWithCode
}

// Options configures one relay pass.
type Options struct {
	// SuppressTerminal withholds misleading terminal events (an empty
	// complete, or a timeout error) from the client because a retry is
	// about to occur.
	SuppressTerminal bool

	// ReadTimeout bounds the wait for the next upstream line. Expiry is
	// classified as a timeout, never a crash.
	ReadTimeout time.Duration
}

// Relay is a single-pass SSE relay state machine.
type Relay struct {
	logger *zap.Logger
}

// New creates a relay.
func New(logger *zap.Logger) *Relay {
	return &Relay{logger: logger}
}

// Run consumes the upstream stream until EOF, timeout, or client
// disconnect. The only non-nil error it returns is ErrClientGone; every
// upstream misbehavior is expressed in the Outcome instead.
func (r *Relay) Run(ctx context.Context, upstream io.Reader, sink Sink, opts Options) (Outcome, error) {
	outcome := Outcome{}

	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 2 * time.Minute
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		scanner := bufio.NewScanner(upstream)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	timer := time.NewTimer(opts.ReadTimeout)
	defer timer.Stop()

	for {
		select {
		case line := <-lines:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(opts.ReadTimeout)

			if err := r.handleLine(line, sink, opts, &outcome); err != nil {
				r.logger.Info("client disconnected mid-stream", zap.Error(err))
				return outcome, ErrClientGone
			}

		case err := <-readErr:
			if err != nil {
				r.logger.Warn("upstream stream read ended abnormally", zap.Error(err))
				outcome.LastErrorMessage = err.Error()
				if isTimeoutMessage(err.Error()) {
					outcome.SawTimeoutError = true
				}
			}
			return outcome, nil

		case <-timer.C:
			r.logger.Warn("upstream stream stalled past read timeout",
				zap.Duration("timeout", opts.ReadTimeout))
			outcome.SawTimeoutError = true
			return outcome, nil

		case <-ctx.Done():
			r.logger.Info("request context cancelled during stream")
			return outcome, ErrClientGone
		}
	}
}

// handleLine relays one SSE line. Blank lines are always forwarded to
// preserve event framing even when the associated data line was withheld.
func (r *Relay) handleLine(line string, sink Sink, opts Options, outcome *Outcome) error {
	if line == "" {
		return writeAndFlush(sink, line)
	}
	if !strings.HasPrefix(line, dataPrefix) {
		return writeAndFlush(sink, line)
	}

	payload := line[len(dataPrefix):]
	frame, ok := decodeFrame(payload)
	if !ok {
		// Not JSON we recognize; pass it through untouched.
		return writeAndFlush(sink, line)
	}

	switch frameType(frame) {
	case "content", "stream":
		outcome.SawIncrementalContent = true
		return writeAndFlush(sink, line)

	case "complete":
		return r.handleComplete(line, frame, sink, opts, outcome)

	case "error":
		return r.handleError(line, frame, sink, opts, outcome)

	default:
		return writeAndFlush(sink, line)
	}
}

// handleComplete patches an empty entry file inside the embedded bundle
// before forwarding, and withholds the event entirely when it would
// mislead the client into treating a failed attempt as done.
func (r *Relay) handleComplete(line string, frame map[string]interface{}, sink Sink, opts Options, outcome *Outcome) error {
	// The client sees at most one terminal per attempt; anything after it
	// is upstream misbehavior and the outcome is already sealed.
	if outcome.ForwardedTerminal {
		r.logger.Warn("withholding complete event after terminal already forwarded")
		return nil
	}

	code, _ := frame["generatedCode"].(string)
	parsed := bundle.Parse(code)

	repaired := sanitize.RepairEntry(parsed)
	hasCode := bundleHasCode(repaired)

	if !outcome.SawIncrementalContent && !hasCode && opts.SuppressTerminal {
		r.logger.Info("suppressed empty complete event before retry")
		outcome.SawCompleteWithCode = false
		return nil
	}

	outcome.SawCompleteWithCode = hasCode
	outcome.ForwardedTerminal = true

	if parsed.Len() > 0 && repaired.Serialize() != parsed.Serialize() {
		frame["generatedCode"] = repaired.Serialize()
		patched, err := json.Marshal(frame)
		if err == nil {
			r.logger.Info("patched empty entry file in complete event")
			return writeAndFlush(sink, dataPrefix+string(patched))
		}
	}

	return writeAndFlush(sink, line)
}

func (r *Relay) handleError(line string, frame map[string]interface{}, sink Sink, opts Options, outcome *Outcome) error {
	message := errorMessage(frame)
	if outcome.ForwardedTerminal {
		r.logger.Warn("withholding error event after terminal already forwarded",
			zap.String("message", message))
		return nil
	}
	outcome.LastErrorMessage = message
	timeout := isTimeoutMessage(message)
	if timeout {
		outcome.SawTimeoutError = true
	}

	// Mirror the complete-event suppression: withhold the error exactly
	// when a retry will follow it, so the client never sees a terminal
	// from an attempt that is about to be superseded.
	if opts.SuppressTerminal && (!outcome.SawIncrementalContent || timeout) {
		r.logger.Info("suppressed upstream error event before retry",
			zap.String("message", message))
		return nil
	}

	outcome.ForwardedTerminal = true
	return writeAndFlush(sink, line)
}

func writeAndFlush(sink Sink, line string) error {
	if err := sink.WriteLine(line); err != nil {
		return err
	}
	sink.Flush()
	return nil
}

// decodeFrame parses an SSE data payload, repairing near-JSON model
// output before giving up.
func decodeFrame(payload string) (map[string]interface{}, bool) {
	var frame map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &frame); err == nil {
		return frame, true
	}
	repaired, err := jsonrepair.JSONRepair(payload)
	if err != nil {
		return nil, false
	}
	if err := json.Unmarshal([]byte(repaired), &frame); err != nil {
		return nil, false
	}
	return frame, true
}

func frameType(frame map[string]interface{}) string {
	t, _ := frame["type"].(string)
	return t
}

func errorMessage(frame map[string]interface{}) string {
	if msg, ok := frame["error"].(string); ok && msg != "" {
		return msg
	}
	msg, _ := frame["message"].(string)
	return msg
}

func bundleHasCode(b bundle.Bundle) bool {
	for _, f := range b.Files {
		if !f.IsEmpty() {
			return true
		}
	}
	return false
}

// timeoutSignatures match the known upstream timeout phrasings.
var timeoutSignatures = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"etimedout",
	"esockettimedout",
}

func isTimeoutMessage(message string) bool {
	message = strings.ToLower(message)
	for _, sig := range timeoutSignatures {
		if strings.Contains(message, sig) {
			return true
		}
	}
	return false
}
