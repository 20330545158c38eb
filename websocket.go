package ledfxd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// errorField is the field of a server message carrying an error. The
	// connection is closed once such a message is delivered.
	errorField = "error"
	// sendBuffer is how many messages may be queued for a client.
	sendBuffer = 16
	// pingInterval is how often an idle client is pinged.
	pingInterval = 30 * time.Second
	// closeGrace is how long a client gets to hang up after an error.
	closeGrace = 2 * time.Second
)

// websocketServer exchanges google.protobuf.Struct messages with a single
// client. Binary frames carry the protobuf encoding and text frames carry the
// JSON encoding. Replies use the encoding of the last frame received.
type websocketServer struct {
	// Messages is a channel of messages received from the client.
	Messages chan *structpb.Struct
	// Sending is a channel of messages to send to the client.
	Sending chan *structpb.Struct

	wsconn io.ReadWriteCloser
	logger *slog.Logger
	text   atomic.Bool
}

func newWebsocketServer(wsconn io.ReadWriteCloser, logger *slog.Logger) *websocketServer {
	return &websocketServer{
		Messages: make(chan *structpb.Struct),
		Sending:  make(chan *structpb.Struct, sendBuffer),

		wsconn: wsconn,
		logger: logger,
	}
}

// Send sends a message to the client.
func (s *websocketServer) Send(ctx context.Context, msg *structpb.Struct) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.Sending <- msg:
		return nil
	}
}

// SendError sends an error message to the client, after which the
// connection is closed.
func (s *websocketServer) SendError(ctx context.Context, err error) error {
	return s.Send(ctx, &structpb.Struct{
		Fields: map[string]*structpb.Value{
			errorField: structpb.NewStringValue(err.Error()),
		},
	})
}

// TrySend queues a message for the client without blocking. It reports
// whether the message was queued.
func (s *websocketServer) TrySend(msg *structpb.Struct) bool {
	select {
	case s.Sending <- msg:
		return true
	default:
		return false
	}
}

// Start exchanges messages until the client hangs up, an error is delivered
// or ctx is canceled.
func (s *websocketServer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errg, ctx := errgroup.WithContext(ctx)

	errg.Go(func() error {
		<-ctx.Done()

		s.logger.DebugContext(ctx,
			"closing websocket",
			"error", ctx.Err().Error())

		if err := s.wsconn.Close(); err != nil {
			s.logger.WarnContext(ctx,
				"failed to close websocket",
				"error", err.Error())

			return fmt.Errorf("failed to close websocket: %w", err)
		}

		return nil
	})

	errg.Go(func() error {
		defer cancel()
		return s.readLoop(ctx)
	})

	errg.Go(func() error {
		delivered, err := s.writeLoop(ctx)
		if err != nil || !delivered {
			return err
		}

		// An error was delivered. Let the client hang up on its own, or
		// force the connection closed once the grace period is over.
		timer := time.NewTimer(closeGrace)
		defer timer.Stop()

		select {
		case <-timer.C:
			cancel()
		case <-ctx.Done():
		}
		return nil
	})

	return errg.Wait()
}

func (s *websocketServer) readLoop(ctx context.Context) error {
	var buf bytes.Buffer
	buf.Grow(1024)

	for {
		op, err := wsReadData(&buf, s.wsconn, ws.StateServerSide, ws.OpBinary|ws.OpText)
		if err != nil {
			var closedErr wsutil.ClosedError
			if errors.As(err, &closedErr) {
				s.logger.DebugContext(ctx,
					"received close frame from client")

				return nil
			}

			if ctx.Err() != nil {
				return ctx.Err()
			}

			return fmt.Errorf("failed to read from websocket: %w", err)
		}

		msg := &structpb.Struct{}
		if op == ws.OpText {
			s.text.Store(true)
			err = protojson.Unmarshal(buf.Bytes(), msg)
		} else {
			s.text.Store(false)
			err = proto.Unmarshal(buf.Bytes(), msg)
		}
		if err != nil {
			s.logger.DebugContext(ctx,
				"dropping malformed message",
				"text", op == ws.OpText,
				"error", err.Error())
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case s.Messages <- msg:
		}
	}
}

// writeLoop writes queued messages and pings until ctx is canceled or an
// error message has been delivered, in which case delivered is true.
func (s *websocketServer) writeLoop(ctx context.Context) (delivered bool, err error) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	buf := make([]byte, 0, 1024)

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()

		case <-ping.C:
			if err := wsutil.WriteServerMessage(s.wsconn, ws.OpPing, nil); err != nil {
				return false, fmt.Errorf("failed to ping client: %w", err)
			}

		case msg := <-s.Sending:
			op := ws.OpBinary
			if s.text.Load() {
				op = ws.OpText
				buf, err = protojson.MarshalOptions{}.MarshalAppend(buf[:0], msg)
			} else {
				buf, err = proto.MarshalOptions{}.MarshalAppend(buf[:0], msg)
			}
			if err != nil {
				return false, fmt.Errorf("failed to marshal message: %w", err)
			}

			s.logger.DebugContext(ctx,
				"sending message to client",
				"message", msg.String())

			if err := wsutil.WriteServerMessage(s.wsconn, op, buf); err != nil {
				return false, fmt.Errorf("failed to write to websocket: %w", err)
			}

			if _, isError := msg.GetFields()[errorField]; isError {
				s.writeClose(ctx, "error delivered to client")
				return true, nil
			}
		}
	}
}

func (s *websocketServer) writeClose(ctx context.Context, reason string) {
	s.logger.DebugContext(ctx,
		"sending close frame to client",
		"reason", reason)

	body := ws.NewCloseFrameBody(ws.StatusNormalClosure, reason)
	if err := ws.WriteFrame(s.wsconn, ws.NewCloseFrame(body)); err != nil {
		s.logger.WarnContext(ctx,
			"failed to write close frame",
			"error", err.Error())
	}
}

// wsReadData reads the next data frame whose opcode is in want into dst,
// handling control frames and skipping other data frames along the way.
func wsReadData(dst *bytes.Buffer, src io.ReadWriter, s ws.State, want ws.OpCode) (ws.OpCode, error) {
	controlHandler := wsutil.ControlFrameHandler(src, s)
	rd := wsutil.Reader{
		Source:         src,
		State:          s,
		OnIntermediate: controlHandler,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return 0, err
		}
		if hdr.OpCode.IsControl() {
			if err := controlHandler(hdr, &rd); err != nil {
				return 0, err
			}
			continue
		}
		if hdr.OpCode&want == 0 {
			if err := rd.Discard(); err != nil {
				return 0, err
			}
			continue
		}

		dst.Reset()
		_, err = io.Copy(dst, &rd)
		return hdr.OpCode, err
	}
}
