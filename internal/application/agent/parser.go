package agent

import (
	"strings"

	"github.com/sibylhq/sibyl/internal/domain/models"
)

// ParseState is one state of the token-stream parser.
type ParseState string

const (
	StateIdle        ParseState = "IDLE"
	StateThought     ParseState = "THOUGHT"
	StateAction      ParseState = "ACTION"
	StateObservation ParseState = "OBSERVATION"
	StateAnswer      ParseState = "ANSWER"
)

// trigger maps a label literal in the model output to the state it opens.
type trigger struct {
	literal string
	state   ParseState
}

// "Final Answer:" is listed before its embedded "Answer:" so that when
// both match, the earlier start index wins and the "Final " prefix is
// consumed with the trigger instead of leaking into the previous segment.
var triggers = []trigger{
	{"Final Answer:", StateAnswer},
	{"Thought:", StateThought},
	{"Action:", StateAction},
	{"Observation:", StateObservation},
	{"Answer:", StateAnswer},
}

const maxTriggerLen = len("Final Answer:")

// findTrigger locates the earliest trigger literal in buf.
func findTrigger(buf string) (start, end int, next ParseState, ok bool) {
	start = -1
	for _, t := range triggers {
		i := strings.Index(buf, t.literal)
		if i < 0 {
			continue
		}
		if start < 0 || i < start {
			start, end, next, ok = i, i+len(t.literal), t.state, true
		}
	}
	return
}

// holdbackLen returns how many trailing bytes of buf could still grow
// into a trigger literal and must not be flushed yet. Trigger literals
// are ASCII, so the held suffix never splits a UTF-8 rune.
func holdbackLen(buf string) int {
	max := len(buf)
	if max > maxTriggerLen-1 {
		max = maxTriggerLen - 1
	}
	for h := max; h > 0; h-- {
		suffix := buf[len(buf)-h:]
		for _, t := range triggers {
			if len(t.literal) > h && strings.HasPrefix(t.literal, suffix) {
				return h
			}
		}
	}
	return 0
}

// StreamParser is a finite state machine over the concatenated LLM tokens
// of one agent run. Label literals open a new segment; text between labels
// belongs to the segment the machine is in. Thought text streams out as
// thought events and answer text as answer_chunk events; action and
// observation text is captured for the loop but never emitted here, since
// the loop reports those itself with exact values. ANSWER is terminal:
// once reached, every further token is answer content no matter what
// labels it contains.
type StreamParser struct {
	sink func(models.StreamEvent)

	state    ParseState
	buf      string
	seg      strings.Builder
	trimLead bool

	thoughts        []string
	actions         []string
	lastObservation string

	answer        strings.Builder
	answerEmitted bool
}

func NewStreamParser(sink func(models.StreamEvent)) *StreamParser {
	if sink == nil {
		sink = func(models.StreamEvent) {}
	}
	return &StreamParser{sink: sink, state: StateIdle}
}

// State returns the current machine state.
func (p *StreamParser) State() ParseState {
	return p.state
}

// Feed consumes one streamed token. Tokens may split label literals at
// any byte; detection works on the accumulated buffer.
func (p *StreamParser) Feed(token string) {
	if token == "" {
		return
	}
	if p.state == StateAnswer {
		p.emitAnswer(token)
		return
	}
	p.buf += token
	for {
		start, end, next, ok := findTrigger(p.buf)
		if !ok {
			break
		}
		p.flushSegment(p.buf[:start])
		p.closeSegment()
		p.state = next
		p.buf = p.buf[end:]
		p.trimLead = true
		if p.state == StateAnswer {
			rest := p.buf
			p.buf = ""
			if rest != "" {
				p.emitAnswer(rest)
			}
			return
		}
	}
	hold := holdbackLen(p.buf)
	if flushable := p.buf[:len(p.buf)-hold]; flushable != "" {
		p.buf = p.buf[len(p.buf)-hold:]
		p.flushSegment(flushable)
	}
}

// EndRound flushes any held text and closes the open segment after one
// LLM round completes. The state is kept so the next round continues the
// same transcript.
func (p *StreamParser) EndRound() {
	if p.state == StateAnswer {
		return
	}
	if p.buf != "" {
		text := p.buf
		p.buf = ""
		p.flushSegment(text)
	}
	p.closeSegment()
}

// ResumeThought moves the machine into THOUGHT, mirroring a scratchpad
// that ends with a dangling "Thought:" label the model will complete.
func (p *StreamParser) ResumeThought() {
	p.EndRound()
	p.state = StateThought
	p.trimLead = true
}

// NoteObservation records the observation the loop injected, so a final
// answer that merely repeats it can be recognized.
func (p *StreamParser) NoteObservation(text string) {
	if t := strings.TrimSpace(text); t != "" {
		p.lastObservation = t
	}
}

// Thoughts returns every completed thought segment so far.
func (p *StreamParser) Thoughts() []string {
	return p.thoughts
}

// Actions returns every completed action segment so far, raw. A segment
// covers everything between "Action:" and the next label, including any
// "Action Input:" line.
func (p *StreamParser) Actions() []string {
	return p.actions
}

// FinalAnswer returns the accumulated answer text.
func (p *StreamParser) FinalAnswer() string {
	return strings.TrimSpace(p.answer.String())
}

// SawAnswer reports whether the stream reached answer mode.
func (p *StreamParser) SawAnswer() bool {
	return p.state == StateAnswer
}

// AnswerEmitted reports whether any answer_chunk event went out.
func (p *StreamParser) AnswerEmitted() bool {
	return p.answerEmitted
}

// GetRemainingAnswer extracts answer content that was recognized but not
// flushed when the stream ended, such as an answer label the holdback was
// still sitting on. Empty once answer mode was reached normally.
func (p *StreamParser) GetRemainingAnswer() string {
	if p.state == StateAnswer {
		return ""
	}
	for _, lit := range []string{"Final Answer:", "Answer:"} {
		if i := strings.Index(p.buf, lit); i >= 0 {
			return strings.TrimSpace(p.buf[i+len(lit):])
		}
	}
	return ""
}

// ShouldSkipDuplicateAnswer reports whether the final answer is a verbatim
// repeat of the last observation, which the client has already seen.
func (p *StreamParser) ShouldSkipDuplicateAnswer(final string) bool {
	f := strings.TrimSpace(final)
	return f != "" && f == p.lastObservation
}

// flushSegment appends text to the open segment, emitting it when the
// state streams to the client. Leading whitespace directly after a label
// is dropped, even when it arrives split over several tokens.
func (p *StreamParser) flushSegment(text string) {
	if p.trimLead {
		text = strings.TrimLeft(text, " \t\r\n")
		if text == "" {
			return
		}
		p.trimLead = false
	}
	if text == "" {
		return
	}
	p.seg.WriteString(text)
	if p.state == StateThought && strings.TrimSpace(text) != "" {
		p.sink(models.ThoughtEvent(text))
	}
}

// closeSegment records the finished segment under the current state.
func (p *StreamParser) closeSegment() {
	text := p.seg.String()
	p.seg.Reset()
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}
	switch p.state {
	case StateThought:
		p.thoughts = append(p.thoughts, trimmed)
	case StateAction:
		p.actions = append(p.actions, trimmed)
	case StateObservation:
		p.lastObservation = trimmed
	}
}

// emitAnswer streams answer content. Pure newline tokens are accumulated
// but not emitted.
func (p *StreamParser) emitAnswer(token string) {
	if p.trimLead {
		token = strings.TrimLeft(token, " \t\r\n")
		if token == "" {
			return
		}
		p.trimLead = false
	}
	p.answer.WriteString(token)
	if strings.Trim(token, "\r\n") == "" {
		return
	}
	p.answerEmitted = true
	p.sink(models.AnswerChunkEvent(token))
}
