// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stream carries workflow execution out to clients as an ordered
// sequence of discriminated events. The wire form is one JSON object per
// event with an "event" discriminator field; the HTTP layer frames it as
// line-delimited JSON or SSE. Events for one thread are strictly ordered;
// a bounded per-subscriber buffer sheds token events first under
// back-pressure and never sheds tool lifecycle, interrupt, or error
// events.
package stream

import (
	"encoding/json"
	"time"

	"github.com/olav-network/olav/pkg/olaverr"
	"github.com/olav-network/olav/pkg/session"
)

// Kind discriminates event payloads.
type Kind string

const (
	KindToken     Kind = "token"
	KindThinking  Kind = "thinking"
	KindToolStart Kind = "tool_start"
	KindToolEnd   Kind = "tool_end"
	KindInterrupt Kind = "interrupt"
	KindError     Kind = "error"
	KindDone      Kind = "done"
)

// ThinkingStep labels a reasoning-trace event.
type ThinkingStep string

const (
	StepHypothesis   ThinkingStep = "hypothesis"
	StepVerification ThinkingStep = "verification"
	StepConclusion   ThinkingStep = "conclusion"
	StepReasoning    ThinkingStep = "reasoning"
)

// FinalStatus closes a stream.
type FinalStatus string

const (
	StatusCompleted   FinalStatus = "completed"
	StatusInterrupted FinalStatus = "interrupted"
	StatusFailed      FinalStatus = "failed"
	StatusCancelled   FinalStatus = "cancelled"
)

// Event is one element of the stream. Only the fields belonging to the
// event's Kind are populated; everything else is omitted on the wire.
type Event struct {
	Kind     Kind   `json:"event"`
	ThreadID string `json:"thread_id,omitempty"`
	// Seq is the per-thread sequence number, letting a client that
	// re-attaches detect where it joined.
	Seq int64 `json:"seq,omitempty"`

	// token / thinking
	Content string       `json:"content,omitempty"`
	Step    ThinkingStep `json:"step,omitempty"`

	// tool_start / tool_end
	CallID      string         `json:"call_id,omitempty"`
	Name        string         `json:"name,omitempty"`
	DisplayName string         `json:"display_name,omitempty"`
	Arguments   map[string]any `json:"arguments,omitempty"`
	Success     *bool          `json:"success,omitempty"`
	DurationMS  int64          `json:"duration_ms,omitempty"`
	Summary     string         `json:"summary,omitempty"`

	// interrupt
	Interrupt *session.InterruptRequest `json:"interrupt,omitempty"`

	// error
	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
	Recoverable *bool  `json:"recoverable,omitempty"`

	// done
	FinalStatus FinalStatus `json:"final_status,omitempty"`
	Truncated   bool        `json:"truncated,omitempty"`
}

// Critical reports whether the event must never be shed under
// back-pressure.
func (e Event) Critical() bool {
	switch e.Kind {
	case KindToolStart, KindToolEnd, KindInterrupt, KindError, KindDone:
		return true
	default:
		return false
	}
}

// Encode renders the event as a single JSON line.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Token builds an incremental model-output event.
func Token(content string) Event {
	return Event{Kind: KindToken, Content: content}
}

// Thinking builds a reasoning-trace event.
func Thinking(step ThinkingStep, content string) Event {
	return Event{Kind: KindThinking, Step: step, Content: content}
}

// ToolStart marks the beginning of a tool invocation.
func ToolStart(callID, name, displayName string, args map[string]any) Event {
	return Event{Kind: KindToolStart, CallID: callID, Name: name, DisplayName: displayName, Arguments: args}
}

// ToolEnd marks the end of a tool invocation.
func ToolEnd(callID string, success bool, duration time.Duration, summary string) Event {
	return Event{Kind: KindToolEnd, CallID: callID, Success: &success, DurationMS: duration.Milliseconds(), Summary: summary}
}

// Interrupted asks the client for a human decision; the stream pauses
// after this event.
func Interrupted(req session.InterruptRequest) Event {
	return Event{Kind: KindInterrupt, ThreadID: req.ThreadID, CallID: req.CallID, Interrupt: &req}
}

// Errored converts err into an error event carrying its documented kind
// as the stable code.
func Errored(err error, recoverable bool) Event {
	return Event{
		Kind:        KindError,
		Code:        string(olaverr.KindOf(err)),
		Message:     err.Error(),
		Recoverable: &recoverable,
	}
}

// Done terminates the stream. Truncated is stamped per subscriber by the
// broker, not by callers.
func Done(status FinalStatus) Event {
	return Event{Kind: KindDone, FinalStatus: status}
}
