package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"dev.acmcsuf.com/christmas/lib/xcolor"
)

// ControllerEvent describes an SSE event sent to the simulator frontend.
type ControllerEvent interface {
	Type() ControllerEventType
}

// ControllerEventType is a type of message sent to the frontend.
type ControllerEventType string

const (
	ControllerEventTypeInit  ControllerEventType = "init"
	ControllerEventTypeFrame ControllerEventType = "frame"
)

// ControllerInit is the first event of a session. The frontend uses the
// session token to open its websocket.
type ControllerInit struct {
	NumPixels    int    `json:"num_pixels"`
	MaskIndices  []int  `json:"mask_indices"`
	SessionToken string `json:"session_token"`
}

func (ControllerInit) Type() ControllerEventType {
	return ControllerEventTypeInit
}

// ControllerFrame carries the colors of a refreshed frame.
type ControllerFrame struct {
	LEDColors []xcolor.RGB `json:"led_colors"`
}

func (ControllerFrame) Type() ControllerEventType {
	return ControllerEventTypeFrame
}

type sseEvent struct {
	Type string
	Data any
}

type writeFlusher interface {
	io.Writer
	http.Flusher
}

func writeSSE(w writeFlusher, ev sseEvent) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.Data)
	w.Flush()
}

func controllerEventToSSE(event ControllerEvent) sseEvent {
	b, err := json.Marshal(event)
	if err != nil {
		panic(err)
	}
	return sseEvent{
		Type: string(event.Type()),
		Data: b,
	}
}
