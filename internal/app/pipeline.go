package app

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/signavatar/internal/capture"
	"github.com/ayusman/signavatar/internal/pipeline"
	"github.com/ayusman/signavatar/internal/store"
)

var errSourceDone = errors.New("capture source exhausted")

// runPipeline reads frames at the configured rate and feeds them to the
// stream while a second goroutine consumes the results.
//
// Pipeline logic:
// 1. Skip ticks while capture is disabled
// 2. Run holistic detection on each frame
// 3. Submit the landmarks; a frame still waiting for inference is replaced
// 4. Drive the avatar pose from each decision
func (a *App) runPipeline(ctx context.Context, rec *store.Session) error {
	a.mu.RLock()
	stream := a.stream
	a.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return stream.Run(ctx) })
	g.Go(func() error {
		for ev := range stream.Events() {
			a.handle(ev, rec)
		}
		return nil
	})
	g.Go(func() error { return a.captureFrames(ctx, stream) })

	return g.Wait()
}

func (a *App) captureFrames(ctx context.Context, stream *pipeline.Stream) error {
	ticker := time.NewTicker(time.Second / time.Duration(a.config.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if !a.IsEnabled() {
			continue
		}

		frame, err := a.config.Camera.ReadFrame()
		if err != nil {
			if capture.IsEndOfStream(err) {
				return errSourceDone
			}
			a.log.WithError(err).Warn("Error reading frame")
			continue
		}

		h, err := a.config.Detector.Detect(frame)
		frame.Close()
		if err != nil {
			a.log.WithError(err).Warn("Error detecting landmarks")
			continue
		}

		stream.Submit(pipeline.Input{Holistic: h})
	}
}

func (a *App) handle(ev pipeline.Event, rec *store.Session) {
	if ev.Err != nil {
		log := a.log.WithError(ev.Err).WithField("seq", ev.Result.Seq)
		switch {
		case errors.Is(ev.Err, context.Canceled), errors.Is(ev.Err, pipeline.ErrClosed):
		case errors.Is(ev.Err, pipeline.ErrMalformedFrame):
			log.Debug("Malformed frame")
		case errors.Is(ev.Err, pipeline.ErrShapeMismatch):
			log.Error("Model output does not match labels")
		default:
			log.Warn("Classification failed")
		}
		return
	}

	res := ev.Result
	if res.Outcome != pipeline.OutcomeDecided {
		return
	}

	a.mu.Lock()
	update, changed := a.driver.Observe(res)
	if changed {
		a.last = update
	}
	a.mu.Unlock()
	if rec != nil {
		rec.LastLabel = res.Decision.Label
	}
	if !changed {
		return
	}

	a.log.WithFields(logrus.Fields{
		"sign":       update.Label,
		"confidence": update.Confidence,
		"seq":        update.Seq,
	}).Info("Sign recognized")
	if a.config.OnUpdate != nil {
		a.config.OnUpdate(update)
	}
}
