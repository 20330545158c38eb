package ledfxd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gobwas/ws"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/typ.v4/sync2"
)

// Remote command names, carried in the "cmd" field of a client message.
const (
	CommandButton = "button"
	CommandData   = "data"
	CommandPower  = "power"
	CommandStatus = "status"
)

// ServerOpts are options for a server.
type ServerOpts struct {
	// Commands handles the commands received from clients.
	Commands *Commands
	// Reports is the report hub whose reports are forwarded to clients. It
	// may be nil.
	Reports *Reports
	// Logger is the logger to use for the server.
	Logger *slog.Logger
	// HTTPUpgrader is the HTTP-to-Websocket upgrader to use for the server.
	HTTPUpgrader ws.HTTPUpgrader
}

// Server handles all HTTP requests for the server.
type Server struct {
	opts        ServerOpts
	connections sync2.Map[*Session, sessionControl]
}

type sessionControl struct {
	cancel context.CancelCauseFunc
}

// NewServer creates a new server.
func NewServer(opts ServerOpts) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		opts: opts,
	}
}

// KickAllConnections kicks all connections from the server.
// Optionally, a reason can be provided.
func (s *Server) KickAllConnections(reason string) {
	var err error
	if reason != "" {
		err = fmt.Errorf("kicked: %s", reason)
	} else {
		err = fmt.Errorf("kicked")
	}

	s.connections.Range(func(s *Session, ctrl sessionControl) bool {
		ctrl.cancel(err)
		return true
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session, err := SessionUpgrade(w, r, s.opts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancelCause(r.Context())
	defer cancel(nil)

	s.connections.Store(session, sessionControl{cancel: cancel})
	defer s.connections.Delete(session)

	if err := session.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		session.logger.Warn(
			"session ended with error",
			"error", err)
	}
}

// Session is a websocket session. It implements handling of messages from a
// single client.
type Session struct {
	ws     *websocketServer
	logger *slog.Logger
	opts   ServerOpts
}

// SessionUpgrade upgrades an HTTP request to a websocket session.
func SessionUpgrade(w http.ResponseWriter, r *http.Request, opts ServerOpts) (*Session, error) {
	wsconn, _, _, err := opts.HTTPUpgrader.Upgrade(r, w)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade HTTP: %w", err)
	}

	logger := opts.Logger.With("addr", wsconn.RemoteAddr())

	return &Session{
		ws:     newWebsocketServer(wsconn, logger),
		logger: logger,
		opts:   opts,
	}, nil
}

// Start starts the server.
func (s *Session) Start(ctx context.Context) error {
	errg, ctx := errgroup.WithContext(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Subscribe before reading any command so that no report of ours is
	// missed.
	if s.opts.Reports != nil {
		reports, unsubscribe := s.opts.Reports.Subscribe(sendBuffer)
		defer unsubscribe()

		errg.Go(func() error {
			s.forwardReports(ctx, reports)
			return nil
		})
	}

	errg.Go(func() error {
		// The client hanging up ends the whole session.
		defer cancel()
		return s.ws.Start(ctx)
	})

	errg.Go(func() error {
		// Treat main loop errors as fatal and kill the connection,
		// but don't return it because it's not the caller's fault.
		if err := s.mainLoop(ctx); err != nil {
			return s.ws.SendError(ctx, err)
		}
		return nil
	})

	return errg.Wait()
}

func (s *Session) forwardReports(ctx context.Context, reports <-chan *structpb.Struct) {
	for {
		select {
		case <-ctx.Done():
			return
		case doc := <-reports:
			if !s.ws.TrySend(doc) {
				s.logger.DebugContext(ctx,
					"dropping report for slow client")
			}
		}
	}
}

func (s *Session) mainLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case msg := <-s.ws.Messages:
			if err := s.handle(ctx, msg); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

func (s *Session) handle(ctx context.Context, msg *structpb.Struct) error {
	fields := msg.GetFields()
	cmds := s.opts.Commands

	switch cmd := fields["cmd"].GetStringValue(); cmd {
	case CommandButton:
		state := fields["state"].GetStringValue()
		switch widget := fields["widget"].GetStringValue(); widget {
		case WidgetPrimary:
			return cmds.OnButtonPrimary(ctx, state)
		case WidgetSecondary:
			cmds.OnButtonSecondary(ctx, state)
		default:
			s.logger.DebugContext(ctx,
				"dropping command for unknown widget",
				"widget", widget)
		}

	case CommandData:
		return cmds.OnRemoteData(ctx, []byte(fields["data"].GetStringValue()))

	case CommandPower:
		return cmds.OnRemotePowerCommand(ctx, fields["state"].GetStringValue())

	case CommandStatus:
		return s.ws.Send(ctx, cmds.Snapshot())

	default:
		s.logger.DebugContext(ctx,
			"dropping unknown command",
			"cmd", cmd)
	}

	return nil
}
