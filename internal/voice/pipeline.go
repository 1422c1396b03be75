package voice

import "context"

// Sink receives the ordered client-visible output of one conversational
// turn. Implementations must not block for long; the pipeline's ordering
// guarantee makes every sink call part of the critical path.
type Sink interface {
	TextDelta(text string)
	Audio(pcm []byte)
	ProviderError(msg string)
}

type synthResult struct {
	audio []byte
	err   error
}

// Pipeline turns a stream of generated text fragments into an ordered
// audio stream. Text deltas are forwarded the moment their fragment
// arrives; synthesis units are cut at sentence boundaries and synthesized
// with at most one unit in flight, so audio reaches the client in
// generation order without ever holding up the text path.
type Pipeline struct {
	synth   Synthesizer
	voiceID string
	rate    float64
}

func NewPipeline(synth Synthesizer, voiceID string, rate float64) *Pipeline {
	if rate <= 0 {
		rate = 1.0
	}
	return &Pipeline{synth: synth, voiceID: voiceID, rate: rate}
}

// Run consumes fragments until the channel closes or ctx is cancelled.
// Intake never waits on synthesis: every fragment's delta is forwarded
// and its cut units queued the moment it arrives, while a separate select
// arm drains the single in-flight synthesis and schedules the next queued
// unit. Cancellation is cooperative, and an in-flight synthesis result
// arriving after cancellation is discarded.
func (p *Pipeline) Run(ctx context.Context, fragments <-chan string, sink Sink) error {
	var seg segmenter
	var queue []string           // units cut but not yet handed to the synthesizer
	var pending chan synthResult // at most one unit in flight

	open := true
	for open || pending != nil || len(queue) > 0 {
		if pending == nil && len(queue) > 0 {
			pending = p.spawn(ctx, queue[0])
			queue = queue[1:]
		}

		in := fragments
		if !open {
			in = nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case frag, ok := <-in:
			if !ok {
				open = false
				if unit := seg.flush(); unit != "" {
					queue = append(queue, unit)
				}
				continue
			}
			if frag == "" {
				continue
			}
			sink.TextDelta(frag)
			queue = append(queue, seg.push(frag)...)
		case r := <-pending:
			pending = nil
			if err := ctx.Err(); err != nil {
				return err
			}
			p.emit(r, sink)
		}
	}
	return nil
}

func (p *Pipeline) spawn(ctx context.Context, unit string) chan synthResult {
	ch := make(chan synthResult, 1)
	go func() {
		clean := sanitizeSpeechText(unit)
		if clean == "" {
			ch <- synthResult{}
			return
		}
		audio, err := p.synth.Synthesize(ctx, clean, p.voiceID, p.rate)
		ch <- synthResult{audio: audio, err: err}
	}()
	return ch
}

// emit delivers one finished unit. A failed unit is reported and skipped;
// its text already reached the client, and later units are unaffected.
func (p *Pipeline) emit(r synthResult, sink Sink) {
	if r.err != nil {
		sink.ProviderError("synthesis failed: " + r.err.Error())
		return
	}
	if len(r.audio) > 0 {
		sink.Audio(r.audio)
	}
}
