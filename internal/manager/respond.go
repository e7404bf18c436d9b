package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"assistd/internal/prompt"
	"assistd/internal/runtime"
)

// Respond answers one user message with the extracted model reply.
func (m *Manager) Respond(ctx context.Context, message string, gc runtime.GenerationConfig) (string, error) {
	res, err := m.Complete(ctx, message, gc)
	if err != nil {
		return "", err
	}
	return res.Response, nil
}

// Complete runs one generation and returns every intermediate artifact.
//
// The generation itself runs detached from ctx. If ctx ends first, Complete
// returns ctx.Err() at once while the generation finishes in the background;
// its result is dropped and only then is the in-flight slot released.
func (m *Manager) Complete(ctx context.Context, message string, gc runtime.GenerationConfig) (Result, error) {
	h, err := m.readyHandle()
	if err != nil {
		return Result{}, err
	}
	queued := time.Now()
	release, err := m.beginGeneration(ctx)
	if err != nil {
		if IsTooBusy(err) {
			m.metrics.observeOutcome("too_busy")
		}
		return Result{}, err
	}
	m.metrics.observeQueueWait(time.Since(queued))

	id := uuid.NewString()
	log := m.log.With().Str("generation_id", id).Logger()
	gctx := context.WithoutCancel(ctx)
	cancel := func() {}
	if m.cfg.GenerationTimeout > 0 {
		gctx, cancel = context.WithTimeout(gctx, m.cfg.GenerationTimeout)
	}

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		var out outcome
		defer func() {
			if p := recover(); p != nil {
				out = outcome{err: &GenerationError{Stage: "generate", Err: fmt.Errorf("panic: %v", p)}}
			}
			out.res.ID = id
			cancel()
			release()
			done <- out
		}()
		out.res, out.err = m.generate(gctx, h, message, gc)
	}()

	select {
	case out := <-done:
		m.finish(out.res, out.err, log)
		return out.res, out.err
	case <-ctx.Done():
		log.Warn().Err(ctx.Err()).Msg("caller gone; generation continues and its result will be dropped")
		go func() {
			out := <-done
			m.finish(out.res, out.err, log)
		}()
		return Result{}, ctx.Err()
	}
}

func (m *Manager) generate(ctx context.Context, h runtime.Handle, message string, gc runtime.GenerationConfig) (Result, error) {
	start := time.Now()
	res := Result{Prompt: prompt.Template(message)}
	if err := gc.Validate(); err != nil {
		return res, &GenerationError{Stage: "validate", Err: err}
	}
	in, err := h.Encode(ctx, res.Prompt)
	if err != nil {
		return res, &GenerationError{Stage: "encode", Err: err}
	}
	out, err := h.Generate(ctx, in, gc)
	if err != nil {
		return res, &GenerationError{Stage: "generate", Err: err}
	}
	res.Decoded, err = h.Decode(ctx, out, true)
	if err != nil {
		return res, &GenerationError{Stage: "decode", Err: err}
	}
	res.Response = prompt.Extract(res.Decoded)
	res.PromptTokens = len(in)
	res.NewTokens = len(out) - len(in)
	res.Duration = time.Since(start)
	return res, nil
}

func (m *Manager) finish(res Result, err error, log zerolog.Logger) {
	m.generations.Add(1)
	if err != nil {
		m.metrics.observeOutcome("error")
		m.publisher.Publish(Event{Name: "generation_failed", ModelID: m.cfg.ModelID, Fields: map[string]any{"id": res.ID, "error": err.Error()}})
		log.Error().Err(err).Msg("generation failed")
		return
	}
	m.metrics.observeOutcome("success")
	m.metrics.observeDuration(res.Duration)
	m.publisher.Publish(Event{Name: "generation_done", ModelID: m.cfg.ModelID, Fields: map[string]any{
		"id":            res.ID,
		"prompt_tokens": res.PromptTokens,
		"new_tokens":    res.NewTokens,
		"ms":            res.Duration.Milliseconds(),
	}})
	log.Debug().Int("prompt_tokens", res.PromptTokens).Int("new_tokens", res.NewTokens).Dur("took", res.Duration).Msg("generation done")
}
