package main

import (
	"context"
	"fmt"
	"strconv"

	"dev.acmcsuf.com/ledfxd"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"libdb.so/hrt"
)

type adminHandler struct {
	*chi.Mux
	server *ledfxd.Server
	state  *ledfxd.State
	cmds   *ledfxd.Commands
}

func newAdminHandler(server *ledfxd.Server, state *ledfxd.State, cmds *ledfxd.Commands) *adminHandler {
	h := &adminHandler{
		Mux:    chi.NewRouter(),
		server: server,
		state:  state,
		cmds:   cmds,
	}

	h.Handle("/metrics", promhttp.Handler())

	h.Group(func(r chi.Router) {
		r.Use(hrt.Use(hrt.Opts{
			Encoder: hrt.CombinedEncoder{
				Encoder: hrt.JSONEncoder,
				Decoder: hrt.URLDecoder,
			},
			ErrorWriter: hrt.TextErrorWriter,
		}))

		r.Get("/status", hrt.Wrap(h.status))
		r.Post("/effect", hrt.Wrap(h.requestEffect))
		r.Post("/stop", hrt.Wrap(h.stopEffect))
		r.Patch("/profile", hrt.Wrap(h.patchProfile))
		r.Post("/mask", hrt.Wrap(h.setMask))
		r.Post("/kick-all", hrt.Wrap(h.kickAll))
	})

	return h
}

type statusRequest struct{}

func (h *adminHandler) status(ctx context.Context, req statusRequest) (map[string]any, error) {
	return h.cmds.Snapshot().AsMap(), nil
}

type requestEffectRequest struct {
	Kind  string `query:"kind"`
	Force string `query:"force"`
}

func (h *adminHandler) requestEffect(ctx context.Context, req requestEffectRequest) (hrt.None, error) {
	kind, err := ledfxd.ParseEffectKind(req.Kind)
	if err != nil {
		return hrt.Empty, err
	}

	force := true
	if req.Force != "" {
		force, err = strconv.ParseBool(req.Force)
		if err != nil {
			return hrt.Empty, fmt.Errorf("invalid force %q: %w", req.Force, err)
		}
	}

	return hrt.Empty, h.state.RequestEffect(ctx, kind, force)
}

type stopEffectRequest struct{}

func (h *adminHandler) stopEffect(ctx context.Context, req stopEffectRequest) (hrt.None, error) {
	h.state.StopEffect()
	return hrt.Empty, nil
}

type patchProfileRequest struct {
	Color      string `query:"color"`
	Brightness string `query:"brightness"`
}

func (h *adminHandler) patchProfile(ctx context.Context, req patchProfileRequest) (hrt.None, error) {
	profile := h.state.ColorProfile()

	if req.Color != "" {
		color, err := ledfxd.ParseNamedColor(req.Color)
		if err != nil {
			return hrt.Empty, err
		}
		profile.Color = color
	}

	if req.Brightness != "" {
		brightness, err := strconv.Atoi(req.Brightness)
		if err != nil {
			return hrt.Empty, fmt.Errorf("invalid brightness %q: %w", req.Brightness, err)
		}
		profile.Brightness = brightness
	}

	h.state.SetColorProfile(profile)
	return hrt.Empty, nil
}

type setMaskRequest struct {
	Enabled string `query:"enabled"`
}

func (h *adminHandler) setMask(ctx context.Context, req setMaskRequest) (hrt.None, error) {
	enabled, err := strconv.ParseBool(req.Enabled)
	if err != nil {
		return hrt.Empty, fmt.Errorf("invalid enabled %q: %w", req.Enabled, err)
	}

	h.state.SetMask(enabled)
	return hrt.Empty, nil
}

type kickAllRequest struct {
	Reason string `query:"reason"`
}

func (h *adminHandler) kickAll(ctx context.Context, req kickAllRequest) (hrt.None, error) {
	h.server.KickAllConnections(req.Reason)
	return hrt.Empty, nil
}
