// Package httpapi exposes the dictation manager over HTTP: live
// session view and stop, transcript and audio retrieval, playback
// control, the archived-session index, and a one-shot transcription
// upload against the configured batch engines.
package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/voxwrite/dictated/internal/archive"
	"github.com/voxwrite/dictated/internal/dictation"
	"github.com/voxwrite/dictated/internal/engine"
	"github.com/voxwrite/dictated/internal/recording"
)

// stopTimeout bounds a stop request, which waits for the session to
// settle and can include a full batch transcription pass.
const stopTimeout = 2 * time.Minute

// Options wires the API's collaborators. Manager is required; the
// others switch their endpoints off when nil.
type Options struct {
	Manager   *dictation.Manager
	Player    *recording.Player
	Archive   *archive.Store
	Engines   *engine.Registry
	Fallbacks []string
	// TranscribeTimeout bounds one /v1/transcribe upload across all
	// tiers it tries.
	TranscribeTimeout time.Duration
	// Metrics, when set, is served at /metrics.
	Metrics http.Handler
	Logger  *slog.Logger
}

type Server struct {
	app  *fiber.App
	opts Options
	log  *slog.Logger
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TranscribeTimeout <= 0 {
		opts.TranscribeTimeout = time.Minute
	}
	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:               "dictated",
			DisableStartupMessage: true,
		}),
		opts: opts,
		log:  opts.Logger.With("component", "httpapi"),
	}
	s.routes()
	return s
}

// App returns the underlying fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error { return s.app.Listen(addr) }

func (s *Server) Shutdown() error { return s.app.Shutdown() }

func (s *Server) routes() {
	s.app.Get("/healthz", s.handleHealth)
	s.app.Get("/v1/status", s.handleStatus)
	s.app.Get("/v1/session", s.handleSession)
	s.app.Post("/v1/session/stop", s.handleStop)
	s.app.Post("/v1/streaming/enable", s.handleEnableStreaming)
	s.app.Get("/v1/transcript", s.handleTranscript)
	s.app.Put("/v1/transcript", s.handleEditTranscript)
	s.app.Get("/v1/audio", s.handleAudio)
	s.app.Get("/v1/playback", s.handlePlaybackState)
	s.app.Post("/v1/playback/play", s.playbackAction((*recording.Player).Play))
	s.app.Post("/v1/playback/pause", s.playbackAction((*recording.Player).Pause))
	s.app.Post("/v1/playback/toggle", s.playbackAction((*recording.Player).Toggle))
	s.app.Post("/v1/playback/stop", s.playbackAction((*recording.Player).Stop))
	s.app.Get("/v1/sessions", s.handleSessions)
	s.app.Get("/v1/sessions/:id", s.handleSessionByID)
	s.app.Post("/v1/transcribe", s.handleTranscribe)

	if s.opts.Metrics != nil {
		h := fasthttpadaptor.NewFastHTTPHandler(s.opts.Metrics)
		s.app.Get("/metrics", func(c *fiber.Ctx) error {
			h(c.Context())
			return nil
		})
	}
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	m := s.opts.Manager
	resp := fiber.Map{
		"status":           m.Status(),
		"streamingEnabled": m.StreamingEnabled(),
		"stats":            m.Stats(),
	}
	if s.opts.Engines != nil {
		resp["engines"] = s.opts.Engines.Names()
	}
	if s.opts.Player != nil {
		resp["playback"] = s.opts.Player.State().String()
	}
	return c.JSON(resp)
}

// handleSession reports the session in flight, falling back to the
// most recently settled one. The snapshot's view field carries the
// provisional transcript while the session is live.
func (s *Server) handleSession(c *fiber.Ctx) error {
	if sess, ok := s.opts.Manager.Current(); ok {
		return c.JSON(fiber.Map{"active": true, "session": sess.Snapshot()})
	}
	if sess, ok := s.opts.Manager.Last(); ok {
		return c.JSON(fiber.Map{"active": false, "session": sess.Snapshot()})
	}
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no session"})
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), stopTimeout)
	defer cancel()

	sess, err := s.opts.Manager.Stop(ctx)
	if errors.Is(err, dictation.ErrNoActiveSession) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(sess.Snapshot())
}

func (s *Server) handleEnableStreaming(c *fiber.Ctx) error {
	s.opts.Manager.EnableStreaming()
	return c.JSON(fiber.Map{"streamingEnabled": s.opts.Manager.StreamingEnabled()})
}

func (s *Server) handleTranscript(c *fiber.Ctx) error {
	sess, ok := s.opts.Manager.Last()
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no completed session"})
	}
	c.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
	return c.SendString(sess.Transcript())
}

// handleEditTranscript replaces the active session's buffer with
// manually edited text. Later dictation appends after the edit.
func (s *Server) handleEditTranscript(c *fiber.Ctx) error {
	var body struct {
		Text string `json:"text"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := s.opts.Manager.SetTranscript(body.Text); err != nil {
		if errors.Is(err, dictation.ErrNoActiveSession) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	view := body.Text
	if sess, ok := s.opts.Manager.Current(); ok {
		view = sess.View()
	}
	return c.JSON(fiber.Map{"view": view})
}

// handleAudio serves the last completed recording as a WAV download.
func (s *Server) handleAudio(c *fiber.Ctx) error {
	p := s.opts.Player
	if p == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "playback not configured"})
	}
	asset := p.Asset()
	if asset == nil || asset.Empty() {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": recording.ErrNoAsset.Error()})
	}

	f, err := os.CreateTemp("", "dictated-download-*.wav")
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	if err := p.Download(path); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	name := "dictation.wav"
	if sess, ok := s.opts.Manager.Last(); ok {
		name = "dictation-" + sess.ID() + ".wav"
	}
	c.Set(fiber.HeaderContentType, "audio/wav")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Send(data)
}

func (s *Server) handlePlaybackState(c *fiber.Ctx) error {
	p := s.opts.Player
	if p == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "playback not configured"})
	}
	asset := p.Asset()
	return c.JSON(fiber.Map{
		"state":    p.State().String(),
		"hasAsset": asset != nil && !asset.Empty(),
	})
}

// playbackAction wraps one player operation as a handler. The reported
// state is whatever the sink has confirmed so far, not the request.
func (s *Server) playbackAction(action func(*recording.Player) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p := s.opts.Player
		if p == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "playback not configured"})
		}
		if err := action(p); err != nil {
			if errors.Is(err, recording.ErrNoAsset) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"state": p.State().String()})
	}
}

func (s *Server) handleSessions(c *fiber.Ctx) error {
	if s.opts.Archive == nil || !s.opts.Archive.Enabled() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "archive disabled"})
	}
	records, err := s.opts.Archive.ListSessions(c.UserContext(), c.QueryInt("limit", 50))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if records == nil {
		records = []archive.Record{}
	}
	return c.JSON(fiber.Map{"sessions": records})
}

func (s *Server) handleSessionByID(c *fiber.Ctx) error {
	if s.opts.Archive == nil || !s.opts.Archive.Enabled() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "archive disabled"})
	}
	rec, err := s.opts.Archive.GetSession(c.UserContext(), c.Params("id"))
	if errors.Is(err, archive.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown session"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(rec)
}

type transcribeResponse struct {
	Text     string `json:"text"`
	AudioURL string `json:"audioUrl,omitempty"`
	Engine   string `json:"engine"`
}

// handleTranscribe runs a one-shot batch transcription of an uploaded
// WAV file. With an explicit engine form value only that engine is
// tried; otherwise the configured fallback order applies.
func (s *Server) handleTranscribe(c *fiber.Ctx) error {
	if s.opts.Engines == nil || len(s.opts.Fallbacks) == 0 {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "no engines configured"})
	}

	fh, err := c.FormFile("audio")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing audio file"})
	}
	f, err := fh.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	aud, err := engine.DecodeWAV(bytes.NewReader(data))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	tiers := s.opts.Fallbacks
	if name := c.FormValue("engine"); name != "" {
		if !s.opts.Engines.Has(name) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": fmt.Sprintf("unknown engine %q", name)})
		}
		tiers = []string{name}
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), s.opts.TranscribeTimeout)
	defer cancel()

	var failures []string
	for _, name := range tiers {
		b, err := s.opts.Engines.Get(name)
		if err != nil {
			failures = append(failures, err.Error())
			continue
		}
		res, err := b.Transcribe(ctx, aud)
		if err != nil {
			s.log.Warn("transcribe tier failed", "engine", name, "error", err)
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		return c.JSON(transcribeResponse{
			Text:     strings.TrimSpace(res.Text),
			AudioURL: res.AudioURL,
			Engine:   name,
		})
	}
	return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
		"error": "transcription failed: " + strings.Join(failures, "; "),
	})
}
