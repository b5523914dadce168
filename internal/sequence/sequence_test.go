package sequence

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/signavatar/internal/detector"
)

func frameOf(v float32, n int) Frame {
	f := make(Frame, n)
	for i := range f {
		f[i] = v
	}
	return f
}

func TestNormalizer_Normalize(t *testing.T) {
	n := NewNormalizer(300, 4)

	t.Run("exact length returns F values in order", func(t *testing.T) {
		raw := make([]float64, 300)
		for i := range raw {
			raw[i] = float64(i) / 10
		}

		frame, err := n.Normalize(raw)

		require.NoError(t, err)
		require.Len(t, frame, 300)
		for i := range raw {
			assert.InDelta(t, raw[i], float64(frame[i]), 1e-6)
		}
	})

	tests := []struct {
		name string
		raw  []float64
	}{
		{"short", make([]float64, 299)},
		{"long", make([]float64, 301)},
		{"empty", nil},
		{"nan", append(make([]float64, 299), math.NaN())},
		{"inf", append(make([]float64, 299), math.Inf(-1))},
		{"1e39", append(make([]float64, 299), 1e39)},
		{"-1e39", append([]float64{-1e39}, make([]float64, 299)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name+" is malformed", func(t *testing.T) {
			frame, err := n.Normalize(tt.raw)

			require.ErrorIs(t, err, ErrMalformedFrame)
			assert.Nil(t, frame)
		})
	}
}

func TestNormalizer_NormalizeKeypoints(t *testing.T) {
	t.Run("width 3 takes x, y, z", func(t *testing.T) {
		n := NewNormalizer(63, 3)
		kps := make([]detector.Keypoint, 21)
		kps[0] = detector.Keypoint{X: 1, Y: 2, Z: 3, Visibility: 9}
		kps[1] = detector.Keypoint{X: 4, Y: 5, Z: 6}

		frame, err := n.NormalizeKeypoints(kps)

		require.NoError(t, err)
		require.Len(t, frame, 63)
		assert.Equal(t, Frame{1, 2, 3, 4, 5, 6}, frame[:6])
	})

	t.Run("wrong keypoint count is malformed", func(t *testing.T) {
		n := NewNormalizer(63, 3)

		_, err := n.NormalizeKeypoints(make([]detector.Keypoint, 20))

		require.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("invalid width falls back to four", func(t *testing.T) {
		n := NewNormalizer(8, 7)

		frame, err := n.NormalizeKeypoints(make([]detector.Keypoint, 2))

		require.NoError(t, err)
		assert.Len(t, frame, 8)
	})
}

func TestNormalizer_NormalizeHolistic(t *testing.T) {
	n := NewNormalizer(detector.FeatureLength, 4)

	frame, err := n.NormalizeHolistic(detector.RightHandRaised(0))
	require.NoError(t, err)
	assert.Len(t, frame, detector.FeatureLength)

	_, err = n.NormalizeHolistic(nil)
	require.ErrorIs(t, err, ErrMalformedFrame)

	_, err = n.NormalizeHolistic(&detector.Holistic{Pose: make([]detector.Keypoint, 5)})
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestBuffer_NeverExceedsCapacity(t *testing.T) {
	b := NewBuffer(20)

	for i := 0; i < 57; i++ {
		b.Append(frameOf(float32(i), 3))
		require.LessOrEqual(t, b.Len(), 20)
		require.LessOrEqual(t, len(b.Snapshot()), 20)
	}
	assert.True(t, b.Full())
	assert.Equal(t, 20, b.Cap())
}

func TestBuffer_FIFO(t *testing.T) {
	const w = 5
	b := NewBuffer(w)

	for i := 0; i <= w; i++ {
		b.Append(frameOf(float32(i), 2))
	}

	snap := b.Snapshot()
	require.Len(t, snap, w)
	for i, f := range snap {
		assert.Equal(t, float32(i+1), f[0], "position %d", i)
	}
}

func TestBuffer_FullOnlyAtCapacity(t *testing.T) {
	b := NewBuffer(3)

	assert.False(t, b.Full())
	b.Append(frameOf(1, 1))
	b.Append(frameOf(2, 1))
	assert.False(t, b.Full())
	b.Append(frameOf(3, 1))
	assert.True(t, b.Full())
}

func TestBuffer_SnapshotIsIdempotent(t *testing.T) {
	b := NewBuffer(4)
	for i := 0; i < 6; i++ {
		b.Append(frameOf(float32(i), 2))
	}

	first := b.Snapshot()
	second := b.Snapshot()

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("snapshots differ (-first +second):\n%s", diff)
	}
	assert.Equal(t, 4, b.Len())
}

func TestBuffer_SnapshotIsIndependentOfLaterAppends(t *testing.T) {
	b := NewBuffer(2)
	b.Append(frameOf(1, 1))
	b.Append(frameOf(2, 1))

	snap := b.Snapshot()
	b.Append(frameOf(3, 1))

	assert.Equal(t, []Frame{{1}, {2}}, snap)
	assert.Equal(t, []Frame{{2}, {3}}, b.Snapshot())
}

func TestBuffer_Version(t *testing.T) {
	b := NewBuffer(2)
	assert.Zero(t, b.Version())

	b.Append(frameOf(1, 1))
	b.Append(frameOf(2, 1))
	b.Append(frameOf(3, 1))
	assert.Equal(t, uint64(3), b.Version())

	b.Snapshot()
	assert.Equal(t, uint64(3), b.Version())

	b.Reset()
	assert.Equal(t, uint64(4), b.Version())
}

func TestBuffer_Reset(t *testing.T) {
	b := NewBuffer(3)
	for i := 0; i < 3; i++ {
		b.Append(frameOf(float32(i), 1))
	}

	b.Reset()

	assert.Zero(t, b.Len())
	assert.False(t, b.Full())
	assert.Empty(t, b.Snapshot())

	b.Append(frameOf(9, 1))
	assert.Equal(t, []Frame{{9}}, b.Snapshot())
}

func TestNewBuffer_MinimumCapacity(t *testing.T) {
	assert.Equal(t, 1, NewBuffer(0).Cap())
}
