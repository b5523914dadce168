package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/signavatar/internal/classifier"
	"github.com/ayusman/signavatar/internal/detector"
)

var testLabels = []string{"thumbs_up", "peace_sign", "deaf", "girl", "hard of hearing",
	"hearing", "help", "how", "know", "me", "meet"}

func testConfig() Config {
	logger, _ := logtest.NewNullLogger()
	return Config{
		Window:        20,
		Features:      300,
		KeypointWidth: 4,
		Labels:        testLabels,
		Threshold:     0.3,
		Logger:        logger,
	}
}

// meetOutput is [0.1]*10 + [0.35].
func meetOutput() []float32 {
	out := make([]float32, 11)
	for i := range out {
		out[i] = 0.1
	}
	out[10] = 0.35
	return out
}

func newTestPipeline(t *testing.T, rt *classifier.MockRuntime) *Pipeline {
	t.Helper()
	cfg := testConfig()
	p, err := New(cfg)
	require.NoError(t, err)

	m, err := classifier.Open(rt, classifier.Descriptor{}, cfg.Shape(), classifier.LoadOptions{Logger: cfg.Logger})
	require.NoError(t, err)
	require.NoError(t, p.AttachModel(m))

	t.Cleanup(func() {
		p.Close()
		m.Close()
	})
	return p
}

func zeros(n int) []float64 {
	return make([]float64, n)
}

func feed(t *testing.T, p *Pipeline, n int) []Result {
	t.Helper()
	results := make([]Result, 0, n)
	for i := 0; i < n; i++ {
		res, err := p.ProcessFrame(context.Background(), zeros(300))
		require.NoError(t, err)
		results = append(results, res)
	}
	return results
}

func TestPipeline_EndToEnd(t *testing.T) {
	rt := classifier.NewMockRuntime(meetOutput())
	p := newTestPipeline(t, rt)

	for i, res := range feed(t, p, 19) {
		assert.Equal(t, OutcomePending, res.Outcome, "frame %d", i+1)
		_, ok := res.Label()
		assert.False(t, ok)
	}
	assert.Zero(t, rt.Calls(), "classifier must not run before the window is full")

	res, err := p.ProcessFrame(context.Background(), zeros(300))

	require.NoError(t, err)
	require.Equal(t, 1, rt.Calls())
	assert.Equal(t, []int{1, 20, 300}, rt.Shapes()[0])
	assert.Equal(t, OutcomeDecided, res.Outcome)
	label, ok := res.Label()
	assert.True(t, ok)
	assert.Equal(t, testLabels[10], label)
	assert.InDelta(t, 0.35, res.Decision.Confidence, 1e-6)
	assert.Equal(t, uint64(20), res.Seq)
}

func TestPipeline_SlidingWindowIsNotClearedOnDecision(t *testing.T) {
	rt := classifier.NewMockRuntime(meetOutput())
	p := newTestPipeline(t, rt)

	feed(t, p, 20)
	require.Equal(t, 20, p.Buffered())

	res := feed(t, p, 1)[0]

	assert.Equal(t, OutcomeDecided, res.Outcome)
	assert.Equal(t, 2, rt.Calls())
	assert.Equal(t, 20, p.Buffered())
}

func TestPipeline_UndecidedIsNotAnError(t *testing.T) {
	out := make([]float32, 11)
	for i := range out {
		out[i] = 1.0 / 11
	}
	p := newTestPipeline(t, classifier.NewMockRuntime(out))

	res := feed(t, p, 20)[19]

	assert.Equal(t, OutcomeUndecided, res.Outcome)
	assert.False(t, res.Decision.OK)
	assert.Len(t, res.Probabilities, 11)
	assert.Equal(t, uint64(1), p.Stats().Undecided)
}

func TestPipeline_MalformedFrameLeavesWindowUnchanged(t *testing.T) {
	rt := classifier.NewMockRuntime(meetOutput())
	p := newTestPipeline(t, rt)
	feed(t, p, 5)
	before := p.Window()

	res, err := p.ProcessFrame(context.Background(), zeros(299))

	require.ErrorIs(t, err, ErrMalformedFrame)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, 5, p.Buffered())
	assert.Equal(t, before, p.Window())
	assert.Equal(t, uint64(1), p.Stats().Malformed)

	// A full window followed by a malformed frame does not classify.
	feed(t, p, 15)
	calls := rt.Calls()
	_, err = p.ProcessFrame(context.Background(), zeros(299))
	require.ErrorIs(t, err, ErrMalformedFrame)
	assert.Equal(t, calls, rt.Calls())
}

func TestPipeline_InferenceFailurePreservesWindow(t *testing.T) {
	rt := classifier.NewMockRuntime(meetOutput())
	p := newTestPipeline(t, rt)
	feed(t, p, 19)

	rt.SetError(errors.New("gpu reset"))
	res, err := p.ProcessFrame(context.Background(), zeros(300))

	require.ErrorIs(t, err, ErrInference)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, 20, p.Buffered())

	rt.SetError(nil)
	res = feed(t, p, 1)[0]
	assert.Equal(t, OutcomeDecided, res.Outcome)
	assert.Equal(t, uint64(1), p.Stats().Failures)
}

func TestPipeline_OverlappingCallIsDropped(t *testing.T) {
	rt := classifier.NewMockRuntime(meetOutput())
	p := newTestPipeline(t, rt)
	feed(t, p, 19)

	release := rt.Hold()
	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := p.ProcessFrame(context.Background(), zeros(300))
		done <- outcome{res, err}
	}()
	require.Eventually(t, func() bool { return rt.Calls() == 1 }, time.Second, time.Millisecond)

	dropped, err := p.ProcessFrame(context.Background(), zeros(300))

	require.NoError(t, err)
	assert.Equal(t, OutcomeDropped, dropped.Outcome)
	assert.Equal(t, 20, p.Buffered())

	release()
	first := <-done
	require.NoError(t, first.err)
	assert.Equal(t, OutcomeDecided, first.res.Outcome)
	assert.Equal(t, 1, rt.Calls())
	assert.Equal(t, uint64(1), p.Stats().Dropped)
}

func TestPipeline_ResetDuringInferenceDiscardsResult(t *testing.T) {
	rt := classifier.NewMockRuntime(meetOutput())
	p := newTestPipeline(t, rt)
	feed(t, p, 19)

	release := rt.Hold()
	done := make(chan Result, 1)
	go func() {
		res, _ := p.ProcessFrame(context.Background(), zeros(300))
		done <- res
	}()
	require.Eventually(t, func() bool { return rt.Calls() == 1 }, time.Second, time.Millisecond)

	p.Reset()
	release()

	res := <-done
	assert.Equal(t, OutcomeStale, res.Outcome)
	_, ok := res.Label()
	assert.False(t, ok)
	assert.Zero(t, p.Buffered())
	assert.Equal(t, uint64(1), p.Stats().Stale)
}

func TestPipeline_ResetRequiresRefill(t *testing.T) {
	rt := classifier.NewMockRuntime(meetOutput())
	p := newTestPipeline(t, rt)
	feed(t, p, 20)

	p.Reset()
	results := feed(t, p, 19)

	assert.Equal(t, OutcomePending, results[18].Outcome)
	assert.Equal(t, 1, rt.Calls())
}

func TestPipeline_AcceptsKeypointsAndHolistic(t *testing.T) {
	rt := classifier.NewMockRuntime(meetOutput())
	p := newTestPipeline(t, rt)
	ctx := context.Background()

	res, err := p.Process(ctx, Input{Holistic: detector.RightHandRaised(0)})
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, res.Outcome)

	res, err = p.Process(ctx, Input{Keypoints: make([]detector.Keypoint, detector.NumKeypoints)})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Buffered)

	_, err = p.Process(ctx, Input{Keypoints: make([]detector.Keypoint, 21)})
	require.ErrorIs(t, err, ErrMalformedFrame)

	_, err = p.Process(ctx, Input{})
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestPipeline_WithoutModel(t *testing.T) {
	p, err := New(testConfig())
	require.NoError(t, err)
	defer p.Close()

	assert.False(t, p.Ready())
	_, err = p.ProcessFrame(context.Background(), zeros(300))
	require.ErrorIs(t, err, ErrModelNotLoaded)
	assert.Zero(t, p.Buffered())
}

func TestPipeline_LoadModel(t *testing.T) {
	t.Run("missing description", func(t *testing.T) {
		p, err := New(testConfig())
		require.NoError(t, err)
		defer p.Close()

		err = p.LoadModel(filepath.Join(t.TempDir(), "model.json"))

		require.ErrorIs(t, err, ErrModelLoad)
		assert.False(t, p.Ready())
	})

	t.Run("declared shape mismatch", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "model.json")
		body := `{"format":"onnx","weights":"model.onnx","inputShape":[1,20,63],"outputShape":[11]}`
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		p, err := New(testConfig())
		require.NoError(t, err)
		defer p.Close()

		err = p.LoadModel(path)

		require.ErrorIs(t, err, ErrModelLoad)
		require.ErrorIs(t, err, ErrShapeMismatch)
	})
}

func TestPipeline_AttachModelShapeMismatch(t *testing.T) {
	cfg := testConfig()
	p, err := New(cfg)
	require.NoError(t, err)
	defer p.Close()

	m, err := classifier.Open(classifier.NewMockRuntime(nil), classifier.Descriptor{},
		classifier.Shape{Window: 30, Features: 300, Classes: 11}, classifier.LoadOptions{Logger: cfg.Logger})
	require.NoError(t, err)
	defer m.Close()

	err = p.AttachModel(m)
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestPipeline_SharedModelSurvivesClose(t *testing.T) {
	cfg := testConfig()
	rt := classifier.NewMockRuntime(meetOutput())
	m, err := classifier.Open(rt, classifier.Descriptor{}, cfg.Shape(), classifier.LoadOptions{Logger: cfg.Logger})
	require.NoError(t, err)
	defer m.Close()

	a, err := New(cfg)
	require.NoError(t, err)
	b, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.AttachModel(m))
	require.NoError(t, b.AttachModel(m))

	feed(t, a, 3)
	assert.Zero(t, b.Buffered(), "pipelines must not share windows")

	require.NoError(t, a.Close())
	assert.False(t, rt.Closed())
	_, err = a.ProcessFrame(context.Background(), zeros(300))
	require.ErrorIs(t, err, ErrClosed)

	feed(t, b, 20)
	assert.Equal(t, 1, rt.Calls())
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero window", func(c *Config) { c.Window = 0 }},
		{"zero features", func(c *Config) { c.Features = 0 }},
		{"no labels", func(c *Config) { c.Labels = nil }},
		{"threshold of one", func(c *Config) { c.Threshold = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "decision", OutcomeDecided.String())
	assert.Equal(t, "none", OutcomeUndecided.String())
	assert.Equal(t, "outcome(42)", Outcome(42).String())

	text, err := OutcomeDropped.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "dropped", string(text))
}
