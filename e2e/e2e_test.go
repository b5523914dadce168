package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/signavatar/internal/app"
	"github.com/ayusman/signavatar/internal/capture"
	"github.com/ayusman/signavatar/internal/classifier"
	"github.com/ayusman/signavatar/internal/detector"
	"github.com/ayusman/signavatar/internal/pipeline"
	"github.com/ayusman/signavatar/internal/pose"
	"github.com/ayusman/signavatar/internal/server"
	"github.com/ayusman/signavatar/internal/server/api"
	"github.com/ayusman/signavatar/internal/store"
)

var labels = []string{"thumbs_up", "peace_sign", "deaf", "girl", "hard of hearing",
	"hearing", "help", "how", "know", "me", "meet"}

// meetOutput is [0.1]*10 + [0.35].
func meetOutput() []float32 {
	out := make([]float32, len(labels))
	for i := range out {
		out[i] = 0.1
	}
	out[10] = 0.35
	return out
}

func TestE2E_CompleteWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	logger, _ := logtest.NewNullLogger()
	tmpDir := t.TempDir()

	s, err := store.New(filepath.Join(tmpDir, "data.db"))
	require.NoError(t, err)
	defer s.Close()

	pc := pipeline.Config{Window: 20, Features: 300, KeypointWidth: 4, Labels: labels, Threshold: 0.3}
	rt := classifier.NewMockRuntime(meetOutput())
	model, err := classifier.Open(rt, classifier.Descriptor{Format: "onnx"}, pc.Shape(), classifier.LoadOptions{Logger: logger})
	require.NoError(t, err)
	defer model.Close()

	poses := pose.NewTable(labels)
	require.NoError(t, poses.Load(s.Poses(), logger))

	srv := server.New(server.Config{
		Store:    s,
		Model:    model,
		Pipeline: pc,
		Poses:    poses,
		Logger:   logger,
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()
	client := ts.Client()

	wave := pose.Pose{Bones: map[string]pose.Rotation{"RightForeArm": {Z: 0.8}}, Duration: 0.25}

	t.Run("BindPose", func(t *testing.T) {
		body, err := json.Marshal(wave)
		require.NoError(t, err)
		req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/poses/"+url.PathEscape("meet"), strings.NewReader(string(body)))
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var entry api.PoseEntry
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&entry))
		assert.True(t, entry.Overridden)
		assert.Equal(t, 10, entry.Index)

		stored, err := s.Poses().Get("meet")
		require.NoError(t, err)
		decoded, err := pose.Decode(stored.Pose)
		require.NoError(t, err)
		assert.Equal(t, wave, decoded)
	})

	t.Run("StreamFrames", func(t *testing.T) {
		wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/frames"
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		resp.Body.Close()
		defer conn.Close()

		read := func() server.OutboundMessage {
			t.Helper()
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			var msg server.OutboundMessage
			require.NoError(t, conn.ReadJSON(&msg))
			return msg
		}

		ready := read()
		require.Equal(t, "ready", ready.Type)
		require.True(t, ready.Ready)
		assert.Equal(t, labels, ready.Labels)

		for i := 1; i <= 20; i++ {
			h := detector.RightHandRaised(float64(i) * 0.001)
			require.NoError(t, conn.WriteJSON(map[string]any{"type": "frame", "holistic": h}))
			msg := read()
			if i < 20 {
				require.Equal(t, "pending", msg.Type, "frame %d", i)
				continue
			}
			require.Equal(t, "decision", msg.Type)
			assert.Equal(t, "meet", msg.Label)
			assert.InDelta(t, 0.35, msg.Confidence, 1e-6)
			assert.True(t, msg.Changed)
			require.NotNil(t, msg.Pose)
			assert.Equal(t, wave, *msg.Pose)
		}
		assert.Equal(t, 1, rt.Calls())

		status := srv.Status()
		assert.EqualValues(t, 1, status.Sessions.Active)
		require.NotNil(t, status.Model.Info)
		assert.EqualValues(t, 1, status.Model.Info.Inferences)

		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})

	t.Run("SessionRecorded", func(t *testing.T) {
		require.Eventually(t, func() bool {
			sessions, err := s.Sessions().List(0)
			return err == nil && len(sessions) == 1 && sessions[0].EndedAt != nil
		}, 5*time.Second, 10*time.Millisecond)

		resp, err := client.Get(ts.URL + "/api/sessions")
		require.NoError(t, err)
		defer resp.Body.Close()
		var listed struct {
			Sessions []store.Session `json:"sessions"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
		require.Len(t, listed.Sessions, 1)
		assert.Equal(t, uint64(20), listed.Sessions[0].Frames)
		assert.Equal(t, uint64(1), listed.Sessions[0].Decisions)
		assert.Equal(t, "meet", listed.Sessions[0].LastLabel)
	})

	t.Run("LocalCaptureSharesModel", func(t *testing.T) {
		det := detector.NewMockDetector()
		det.SetFrames(detector.RightHandRaised(0))

		updates := make(chan pose.Update, 8)
		a, err := app.New(app.Config{
			Camera:   capture.NewBlankCamera(0),
			Detector: det,
			Model:    model,
			Pipeline: pc,
			Poses:    poses,
			Store:    s,
			FPS:      200,
			Logger:   logger,
			OnUpdate: func(u pose.Update) {
				select {
				case updates <- u:
				default:
				}
			},
		})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- a.Run(ctx) }()

		select {
		case u := <-updates:
			assert.Equal(t, "meet", u.Label)
			assert.Equal(t, wave, u.Pose)
		case <-time.After(5 * time.Second):
			t.Fatal("no sign recognized from local capture")
		}

		cancel()
		require.NoError(t, <-done)
		assert.False(t, rt.Closed(), "the shared model must stay open")

		sessions, err := s.Sessions().List(0)
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, "camera", sessions[0].Source)
	})
}
