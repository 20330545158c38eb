package main

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"dev.acmcsuf.com/ledfxd"
	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"gopkg.in/typ.v4/sync2"
)

// sessionsHandler serves simulator sessions. A session is an SSE stream of
// strip frames, plus at most one websocket that sends commands to the shared
// state under the session's token.
type sessionsHandler struct {
	strip      *memStrip
	state      *ledfxd.State
	serverOpts ledfxd.ServerOpts
	logger     *slog.Logger

	sessions sync2.Map[string, *sessionInstance]
}

func (m *sessionsHandler) handleNewSession(w http.ResponseWriter, r *http.Request) {
	wflush, ok := w.(writeFlusher)
	if !ok {
		http.Error(w, "server does not support flushing", http.StatusInternalServerError)
		return
	}

	session := &sessionInstance{
		frame: make(chan struct{}, 1),
		rctx:  r.Context(),
	}

	token := m.addSession(session)
	defer m.sessions.Delete(token)

	m.logger.Info(
		"new session created",
		"token", token)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	init := controllerEventToSSE(ControllerInit{
		NumPixels:    m.strip.Len(),
		MaskIndices:  m.state.MaskIndices(),
		SessionToken: token,
	})
	writeSSE(wflush, init)

	// Start with the current frame rather than a blank strip.
	session.queueFrame()

frameLoop:
	for {
		select {
		case <-r.Context().Done():
			break frameLoop
		case <-session.frame:
			frame := controllerEventToSSE(ControllerFrame{
				LEDColors: m.strip.Frame(),
			})
			writeSSE(wflush, frame)

			m.logger.Debug(
				"session frame sent",
				"token", token)
		}
	}

	m.logger.Info(
		"session has been closed",
		"token", token)
}

func (m *sessionsHandler) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	session, ok := m.sessions.Load(token)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	opts := m.serverOpts
	opts.Logger = m.logger.With("token", token)

	ledSession, err := ledfxd.SessionUpgrade(w, r, opts)
	if err != nil {
		m.logger.Warn(
			"failed to upgrade session websocket",
			"token", token,
			"error", err)
		return
	}

	m.logger.Info(
		"session has been connected to a new websocket",
		"token", token)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()

		select {
		case <-ctx.Done():
		case <-session.rctx.Done():
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()

		if err := ledSession.Start(ctx); err != nil {
			m.logger.Warn(
				"session ended with error",
				"token", token,
				"error", err)
		}
	}()

	wg.Wait()

	m.logger.Info(
		"session has been disconnected from websocket",
		"token", token)
}

// broadcastFrame wakes up every session to send the latest frame.
func (m *sessionsHandler) broadcastFrame() {
	m.sessions.Range(func(_ string, s *sessionInstance) bool {
		s.queueFrame()
		return true
	})
}

func (m *sessionsHandler) addSession(s *sessionInstance) string {
	for {
		uuid, err := uuid.NewV7()
		if err != nil {
			panic(err)
		}

		token := uuid.String()
		if _, collided := m.sessions.LoadOrStore(token, s); !collided {
			return token
		}
	}
}

type sessionInstance struct {
	frame chan struct{}
	rctx  context.Context
}

// queueFrame coalesces frames that a slow session has not sent yet.
func (s *sessionInstance) queueFrame() {
	select {
	case s.frame <- struct{}{}:
	default:
	}
}
