package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/signavatar/internal/classifier"
	"github.com/ayusman/signavatar/internal/detector"
	"github.com/ayusman/signavatar/internal/pipeline"
	"github.com/ayusman/signavatar/internal/pose"
	"github.com/ayusman/signavatar/internal/store"
)

const (
	writeWait      = 5 * time.Second
	maxMessageSize = 1 << 20
	replyBuffer    = 8
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// Error codes sent to clients in "error" messages.
const (
	CodeMalformedFrame   = "malformed_frame"
	CodeModelUnavailable = "model_unavailable"
	CodeInferenceFailed  = "inference_failed"
	CodeShapeMismatch    = "shape_mismatch"
	CodeInvalidMessage   = "invalid_message"
	CodeInternal         = "internal"
)

// InboundMessage is a client message on /api/frames.
type InboundMessage struct {
	Type      string              `json:"type"`
	Values    []float64           `json:"values,omitempty"`
	Keypoints []detector.Keypoint `json:"keypoints,omitempty"`
	Holistic  *detector.Holistic  `json:"holistic,omitempty"`
}

// OutboundMessage is a server message on /api/frames.
type OutboundMessage struct {
	Type          string     `json:"type"`
	Session       string     `json:"session,omitempty"`
	Labels        []string   `json:"labels,omitempty"`
	Window        int        `json:"window,omitempty"`
	Features      int        `json:"features,omitempty"`
	Ready         bool       `json:"ready,omitempty"`
	Label         string     `json:"label,omitempty"`
	Confidence    float64    `json:"confidence,omitempty"`
	Probabilities []float64  `json:"probabilities,omitempty"`
	Pose          *pose.Pose `json:"pose,omitempty"`
	Changed       bool       `json:"changed,omitempty"`
	Seq           uint64     `json:"seq,omitempty"`
	Buffered      int        `json:"buffered,omitempty"`
	Error         string     `json:"error,omitempty"`
	Message       string     `json:"message,omitempty"`
}

// FramesHandler runs one pipeline session per WebSocket connection. All
// sessions share the loaded model.
type FramesHandler struct {
	model  *classifier.Model
	cfg    pipeline.Config
	poses  *pose.Table
	store  *store.Store
	log    logrus.FieldLogger
	active atomic.Int64
	total  atomic.Uint64
}

// NewFramesHandler creates a FramesHandler. model may be nil, in which case
// frames are answered with model_unavailable errors. s may be nil.
func NewFramesHandler(model *classifier.Model, cfg pipeline.Config, poses *pose.Table, s *store.Store, log logrus.FieldLogger) *FramesHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &FramesHandler{model: model, cfg: cfg, poses: poses, store: s, log: log}
}

// Active returns the number of open sessions.
func (h *FramesHandler) Active() int64 {
	return h.active.Load()
}

// Total returns the number of sessions served.
func (h *FramesHandler) Total() uint64 {
	return h.total.Load()
}

// ServeHTTP upgrades the request and runs the session until the client
// disconnects or the request context is done.
func (h *FramesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	h.active.Add(1)
	h.total.Add(1)
	defer h.active.Add(-1)

	sess, err := h.newSession(conn, r.RemoteAddr)
	if err != nil {
		h.log.WithError(err).Error("Failed to start session")
		conn.WriteJSON(OutboundMessage{Type: "error", Error: CodeInternal, Message: err.Error()})
		return
	}
	defer sess.close()

	if err := sess.run(r.Context()); err != nil && !isClosedErr(err) {
		sess.log.WithError(err).Warn("Session ended with error")
	}
}

type session struct {
	id     string
	conn   *websocket.Conn
	p      *pipeline.Pipeline
	stream *pipeline.Stream
	driver *pose.Driver
	poses  *pose.Table
	store  *store.Store
	rec    *store.Session
	log    logrus.FieldLogger

	replies chan OutboundMessage
}

func (h *FramesHandler) newSession(conn *websocket.Conn, remote string) (*session, error) {
	id := uuid.New().String()
	log := h.log.WithFields(logrus.Fields{"session": id, "remote": remote})

	cfg := h.cfg
	cfg.Logger = log
	p, err := pipeline.New(cfg)
	if err != nil {
		return nil, err
	}
	if h.model != nil {
		if err := p.AttachModel(h.model); err != nil {
			p.Close()
			return nil, err
		}
	}

	s := &session{
		id:      id,
		conn:    conn,
		p:       p,
		stream:  pipeline.NewStream(p, 1),
		driver:  pose.NewDriver(h.poses),
		poses:   h.poses,
		store:   h.store,
		log:     log,
		replies: make(chan OutboundMessage, replyBuffer),
	}

	if h.store != nil {
		s.rec = &store.Session{ID: id, Source: "ws"}
		if err := h.store.Sessions().Create(s.rec); err != nil {
			log.WithError(err).Warn("Failed to record session start")
			s.rec = nil
		}
	}

	log.WithField("model", p.Ready()).Info("Session started")
	return s, nil
}

func (s *session) run(ctx context.Context) error {
	s.conn.SetReadLimit(maxMessageSize)
	s.reply(OutboundMessage{
		Type:     "ready",
		Session:  s.id,
		Labels:   s.p.Labels(),
		Window:   s.p.Config().Window,
		Features: s.p.Config().Features,
		Ready:    s.p.Ready(),
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		// Unblocks the reader.
		s.conn.Close()
		return nil
	})
	g.Go(func() error { return s.stream.Run(ctx) })
	g.Go(func() error { return s.write(ctx) })
	g.Go(func() error { return s.read(ctx) })

	return g.Wait()
}

func (s *session) read(ctx context.Context) error {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.reply(OutboundMessage{Type: "error", Error: CodeInvalidMessage, Message: "invalid JSON"})
			continue
		}

		switch msg.Type {
		case "frame":
			if !s.p.Ready() {
				s.reply(OutboundMessage{Type: "error", Error: CodeModelUnavailable, Message: "model not loaded"})
				continue
			}
			in := pipeline.Input{Values: msg.Values, Keypoints: msg.Keypoints, Holistic: msg.Holistic}
			if in.Values == nil && in.Keypoints == nil && in.Holistic == nil {
				s.reply(OutboundMessage{Type: "error", Error: CodeMalformedFrame, Message: "frame has no values"})
				continue
			}
			s.stream.Submit(in)
		case "reset":
			s.stream.Reset()
			rest := s.driver.Reset()
			s.reply(OutboundMessage{Type: "reset", Pose: &rest.Pose})
		default:
			s.reply(OutboundMessage{Type: "error", Error: CodeInvalidMessage, Message: "unknown message type " + msg.Type})
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// reply queues a control message. It drops the message if the client is
// not keeping up.
func (s *session) reply(msg OutboundMessage) {
	select {
	case s.replies <- msg:
	default:
		s.log.WithField("type", msg.Type).Debug("Dropping reply to slow client")
	}
}

func (s *session) write(ctx context.Context) error {
	events := s.stream.Events()
	for {
		var msg OutboundMessage
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg = <-s.replies:
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			var send bool
			msg, send = s.message(ev)
			if !send {
				continue
			}
		}

		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteJSON(msg); err != nil {
			return err
		}
	}
}

// message converts a pipeline event to a client message. Dropped and stale
// frames are not reported.
func (s *session) message(ev pipeline.Event) (OutboundMessage, bool) {
	if ev.Err != nil {
		var code string
		switch {
		case errors.Is(ev.Err, pipeline.ErrMalformedFrame):
			code = CodeMalformedFrame
		case errors.Is(ev.Err, pipeline.ErrModelNotLoaded):
			code = CodeModelUnavailable
		case errors.Is(ev.Err, pipeline.ErrShapeMismatch):
			code = CodeShapeMismatch
		case errors.Is(ev.Err, pipeline.ErrInference):
			code = CodeInferenceFailed
		case errors.Is(ev.Err, context.Canceled), errors.Is(ev.Err, pipeline.ErrClosed):
			return OutboundMessage{}, false
		default:
			code = CodeInternal
		}
		return OutboundMessage{Type: "error", Error: code, Message: ev.Err.Error(), Seq: ev.Result.Seq}, true
	}

	res := ev.Result
	switch res.Outcome {
	case pipeline.OutcomePending:
		return OutboundMessage{Type: "pending", Seq: res.Seq, Buffered: res.Buffered, Window: s.p.Config().Window}, true
	case pipeline.OutcomeDecided:
		update, changed := s.driver.Observe(res)
		p := update.Pose
		if !changed {
			p = s.poses.Lookup(res.Decision.Label)
		}
		if s.rec != nil {
			s.rec.LastLabel = res.Decision.Label
		}
		return OutboundMessage{
			Type:          "decision",
			Label:         res.Decision.Label,
			Confidence:    res.Decision.Confidence,
			Probabilities: res.Probabilities,
			Pose:          &p,
			Changed:       changed,
			Seq:           res.Seq,
		}, true
	case pipeline.OutcomeUndecided:
		return OutboundMessage{
			Type:          "none",
			Confidence:    res.Decision.Confidence,
			Probabilities: res.Probabilities,
			Seq:           res.Seq,
		}, true
	default:
		return OutboundMessage{}, false
	}
}

func (s *session) close() {
	stats := s.p.Stats()
	if err := s.p.Close(); err != nil {
		s.log.WithError(err).Warn("Failed to close pipeline")
	}

	if s.rec != nil {
		s.rec.Frames = stats.Frames
		s.rec.Decisions = stats.Decisions
		s.rec.Undecided = stats.Undecided
		s.rec.Dropped = stats.Dropped + s.stream.Replaced()
		s.rec.Stale = stats.Stale
		s.rec.Malformed = stats.Malformed
		s.rec.Failures = stats.Failures
		if err := s.store.Sessions().Finish(s.rec); err != nil {
			s.log.WithError(err).Warn("Failed to record session stats")
		}
	}

	s.log.WithFields(logrus.Fields{
		"frames":    stats.Frames,
		"decisions": stats.Decisions,
		"malformed": stats.Malformed,
		"failures":  stats.Failures,
	}).Info("Session ended")
}

func isClosedErr(err error) bool {
	return errors.Is(err, context.Canceled) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
		errors.Is(err, net.ErrClosed)
}
