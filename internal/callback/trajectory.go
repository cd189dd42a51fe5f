package callback

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/sjson"

	"github.com/wadang/cua/internal/schema"
)

// TrajectoryWriter is the required built-in persisting a run's messages
// and screenshots to disk, the one form of persistence spec.md's
// Non-goals explicitly permit ("an optional trajectory directory").
// Grounded on the teacher's append-only event-sourcing store
// (internal/repository/sqlite.go's events table) adapted from a SQL
// table to a plain messages.jsonl file plus a screenshots/ directory,
// since a SQL store itself is the persistence the Non-goals exclude.
type TrajectoryWriter struct {
	Dir string

	mu      sync.Mutex
	file    *os.File
	written int             // transcript messages already accounted for via OnRunStart/AfterTurn
	seen    map[string]bool // role+call_id keys already written to messages.jsonl
}

// NewTrajectoryWriter prepares dir/messages.jsonl and dir/screenshots/
// for a run. Safe to pass a fresh empty directory per run.
func NewTrajectoryWriter(dir string) (*TrajectoryWriter, error) {
	if err := os.MkdirAll(filepath.Join(dir, "screenshots"), 0o755); err != nil {
		return nil, fmt.Errorf("callback: create trajectory dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "messages.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("callback: open messages.jsonl: %w", err)
	}
	return &TrajectoryWriter{Dir: dir, file: f, seen: make(map[string]bool)}, nil
}

func (t *TrajectoryWriter) OnRunStart(ctx context.Context, transcript []schema.Message) ([]schema.Message, error) {
	for _, m := range transcript {
		if err := t.flush(m); err != nil {
			return transcript, err
		}
	}
	return transcript, nil
}

// AfterTurn flushes every message ASK appended this turn, not just the
// last — a turn can be a reasoning message followed by a computer_call,
// and both belong in the trajectory (spec.md §6). A message already
// written out-of-band via OnScreenshot/AfterAction (computer_call_output
// and function_call_output, produced in ACT/OBSERVE rather than ASK) is
// skipped here so it isn't duplicated, while t.written still advances
// past it.
func (t *TrajectoryWriter) AfterTurn(ctx context.Context, transcript []schema.Message) ([]schema.Message, error) {
	t.mu.Lock()
	start := t.written
	t.mu.Unlock()
	if start >= len(transcript) {
		return transcript, nil
	}
	for _, m := range transcript[start:] {
		if err := t.flush(m); err != nil {
			return transcript, err
		}
	}
	return transcript, nil
}

// AfterAction persists a function_call_output (produced by act()'s skip
// branch) or a computer_call_output not already written via OnScreenshot
// (observe()'s skip branch never calls OnScreenshot). The message hasn't
// landed in the transcript slice yet at this point, so this writes
// out-of-band and leaves t.written for AfterTurn to catch up later.
func (t *TrajectoryWriter) AfterAction(ctx context.Context, call, output schema.Message) (schema.Message, error) {
	if err := t.writeOnce(output); err != nil {
		return output, err
	}
	return output, nil
}

// OnScreenshot persists a screenshot the moment it's produced, which is
// the only way a real run ever reaches writeScreenshot — AfterTurn only
// sees ASK-state messages. In OBSERVE the message passed in is the
// canonical computer_call_output that joins the transcript; in CAPTURE
// it's a throwaway computer_call_output envelope run()'s capture step
// builds solely to carry the frame through this hook before folding its
// image URL into the user turn's input_image content part instead of
// appending the envelope itself (spec.md §4.7 CAPTURE), so the envelope
// never appears in the transcript this hook is also handed.
func (t *TrajectoryWriter) OnScreenshot(ctx context.Context, output schema.Message) (schema.Message, error) {
	if err := t.writeOnce(output); err != nil {
		return output, err
	}
	return output, nil
}

// flush accounts for one more transcript slot and writes m unless it was
// already written out-of-band via writeOnce for the same call.
func (t *TrajectoryWriter) flush(m schema.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.written++
	return t.writeLocked(m)
}

// writeOnce writes m if it hasn't been written yet, without touching
// t.written — m may not have landed in the transcript slice yet (ACT and
// OBSERVE append their output only after these hooks return).
func (t *TrajectoryWriter) writeOnce(m schema.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeLocked(m)
}

// writeLocked dedupes on role+call_id and writes m as the canonical
// message shape required by spec.md §6 ("messages.jsonl: one canonical
// message per line"), with a "_timestamp" and, for screenshot outputs, a
// "_image_path" sibling field spliced in via sjson rather than nesting
// the message inside a wrapper object — the line stays decodable by
// schema.Decode directly, the two extra keys are just along for the
// ride. Callers must hold t.mu.
func (t *TrajectoryWriter) writeLocked(m schema.Message) error {
	if key := outputKey(m); key != "" {
		if t.seen[key] {
			return nil
		}
		t.seen[key] = true
	}

	raw, err := schema.Encode(m)
	if err != nil {
		return fmt.Errorf("callback: encode trajectory line: %w", err)
	}

	raw, err = sjson.SetBytes(raw, "_timestamp", time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("callback: stamp trajectory line: %w", err)
	}

	if m.Role == schema.RoleComputerCallOutput {
		for _, part := range m.Content {
			if part.Type != schema.ContentComputerScreenshot {
				continue
			}
			path, err := t.writeScreenshot(m.CallID, part.ImageURL)
			if err != nil {
				return err
			}
			raw, err = sjson.SetBytes(raw, "_image_path", path)
			if err != nil {
				return fmt.Errorf("callback: stamp trajectory line: %w", err)
			}
		}
	}

	if _, err := t.file.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("callback: write trajectory line: %w", err)
	}
	return nil
}

// outputKey returns the role+call_id dedup key for a computer/function
// call or output, or "" for messages (user/assistant/reasoning) that
// never reach the writer more than once.
func outputKey(m schema.Message) string {
	if m.CallID == "" {
		return ""
	}
	return string(m.Role) + ":" + m.CallID
}

// writeScreenshot names the file after callID (spec.md §6:
// "screenshots/<call_id>.png"), so a trajectory reader can join a
// computer_call_output line back to the computer_call that produced it
// without tracking a separate counter.
func (t *TrajectoryWriter) writeScreenshot(callID, dataURL string) (string, error) {
	payload := dataURL
	if idx := strings.Index(dataURL, ","); idx >= 0 && strings.HasPrefix(dataURL, "data:") {
		payload = dataURL[idx+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("callback: decode screenshot: %w", err)
	}

	if callID == "" {
		callID = "unknown"
	}
	name := fmt.Sprintf("screenshots/%s.png", callID)
	if err := os.WriteFile(filepath.Join(t.Dir, name), raw, 0o644); err != nil {
		return "", fmt.Errorf("callback: write screenshot: %w", err)
	}
	return name, nil
}

// OnRunEnd flushes and fsyncs messages.jsonl so a crash immediately
// after a run completes never loses the trajectory (spec.md §5
// graceful-shutdown guarantees extend to trajectory durability).
func (t *TrajectoryWriter) OnRunEnd(ctx context.Context, transcript []schema.Message, outcome Outcome) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.file.Sync(); err != nil {
		return fmt.Errorf("callback: sync trajectory file: %w", err)
	}
	return t.file.Close()
}
