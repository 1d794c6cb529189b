package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"vivarium/internal/app/lab"
	"vivarium/internal/app/ports"
	"vivarium/internal/app/replay"
	"vivarium/internal/app/tick"
	"vivarium/internal/app/worldview"
	"vivarium/internal/domain/agent"
	"vivarium/internal/domain/event"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

const defaultEventLimit = 50

// Handler is the operator control surface. Everything here reads
// engine state or nudges the scheduler; agents themselves never call
// it, they live inside the tick loop.
type Handler struct {
	Scheduler *tick.Scheduler
	Runner    *tick.Runner
	Lab       *lab.Controller
	Agents    ports.AgentRepository
	Events    ports.EventLog
	ReplayUC  replay.UseCase
	View      *worldview.Cache
	KPI       kpiSnapshotProvider

	// ResetBrain is assigned to founders when a reset request does not
	// name one.
	ResetBrain agent.Brain
}

func (h Handler) RegisterRoutes(s *server.Hertz) {
	s.Use(corsMiddleware())

	ops := s.Group("/ops")
	ops.GET("/health", h.health)
	ops.GET("/status", h.status)
	ops.GET("/agents", h.agents)
	ops.GET("/agents/:id", h.agentByID)
	ops.GET("/events", h.events)
	ops.GET("/kpi", h.kpi)
	ops.GET("/replay", h.replay)
	ops.GET("/replay/digest", h.replayDigest)

	ops.POST("/pause", h.pause)
	ops.POST("/resume", h.resume)
	ops.POST("/tick", h.step)
	ops.POST("/reset", h.reset)
	ops.PUT("/interval", h.interval)

	ops.POST("/experiments", h.createExperiment)
	ops.POST("/experiment", h.attachExperiment)
	ops.DELETE("/experiment", h.detachExperiment)
}

type resetRequest struct {
	Seed     int64  `json:"seed"`
	Founders int    `json:"founders"`
	Brain    string `json:"brain,omitempty"`
}

type intervalRequest struct {
	IntervalMs int64 `json:"interval_ms"`
}

type createExperimentRequest struct {
	Name     string            `json:"name"`
	Variants []lab.VariantSpec `json:"variants"`
}

type attachExperimentRequest struct {
	ExperimentID   string `json:"experiment_id"`
	SnapshotStride int64  `json:"snapshot_stride,omitempty"`
}

func (h Handler) health(_ context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, map[string]any{
		"status": "ok",
		"tick":   h.Scheduler.CurrentTick(),
		"paused": h.Scheduler.IsPaused(),
	})
}

func (h Handler) status(_ context.Context, ctx *app.RequestContext) {
	if h.View == nil {
		writeErrorBody(ctx, consts.StatusNotFound, "not_configured", "world view not configured")
		return
	}
	ctx.JSON(consts.StatusOK, h.View.Current())
}

func (h Handler) agents(c context.Context, ctx *app.RequestContext) {
	var (
		list []agent.Agent
		err  error
	)
	if string(ctx.Query("alive")) == "true" {
		list, err = h.Agents.ListAlive(c)
	} else {
		list, err = h.Agents.ListAll(c)
	}
	if err != nil {
		writeError(ctx, err)
		return
	}
	if list == nil {
		list = []agent.Agent{}
	}
	ctx.JSON(consts.StatusOK, map[string]any{"agents": list, "count": len(list)})
}

func (h Handler) agentByID(c context.Context, ctx *app.RequestContext) {
	id := string(ctx.Param("id"))
	if id == "" {
		writeErrorBody(ctx, consts.StatusBadRequest, "bad_request", "agent id is required")
		return
	}
	ag, err := h.Agents.Get(c, id)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, ag)
}

// events serves filtered history slices. Filters are exclusive and
// checked in order: agent_id, tick, type, then the recent window.
func (h Handler) events(c context.Context, ctx *app.RequestContext) {
	limit, _ := strconv.Atoi(string(ctx.Query("limit")))
	if limit <= 0 {
		limit = defaultEventLimit
	}

	var (
		list []event.Event
		err  error
	)
	switch {
	case len(ctx.Query("agent_id")) > 0:
		list, err = h.Events.ListByAgent(c, string(ctx.Query("agent_id")), limit)
	case len(ctx.Query("tick")) > 0:
		var t int64
		t, err = strconv.ParseInt(string(ctx.Query("tick")), 10, 64)
		if err != nil {
			writeErrorBody(ctx, consts.StatusBadRequest, "bad_request", "tick must be an integer")
			return
		}
		list, err = h.Events.ListByTick(c, t)
	case len(ctx.Query("type")) > 0:
		list, err = h.Events.ListByType(c, string(ctx.Query("type")), limit)
	default:
		list, err = h.Events.ListRecent(c, limit)
	}
	if err != nil {
		writeError(ctx, err)
		return
	}
	if list == nil {
		list = []event.Event{}
	}
	ctx.JSON(consts.StatusOK, map[string]any{"events": list, "count": len(list)})
}

func (h Handler) replay(c context.Context, ctx *app.RequestContext) {
	limit, _ := strconv.Atoi(string(ctx.Query("limit")))
	fromTick, _ := strconv.ParseInt(string(ctx.Query("from_tick")), 10, 64)
	toTick, _ := strconv.ParseInt(string(ctx.Query("to_tick")), 10, 64)
	resp, err := h.ReplayUC.Execute(c, replay.Request{
		AgentID:  string(ctx.Query("agent_id")),
		FromTick: fromTick,
		ToTick:   toTick,
		Limit:    limit,
	})
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, resp)
}

func (h Handler) replayDigest(c context.Context, ctx *app.RequestContext) {
	fromTick, _ := strconv.ParseInt(string(ctx.Query("from_tick")), 10, 64)
	toTick, _ := strconv.ParseInt(string(ctx.Query("to_tick")), 10, 64)
	resp, err := h.ReplayUC.DigestRange(c, fromTick, toTick)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, resp)
}

func (h Handler) pause(_ context.Context, ctx *app.RequestContext) {
	h.Scheduler.Pause()
	ctx.JSON(consts.StatusOK, map[string]any{
		"paused": true,
		"tick":   h.Scheduler.CurrentTick(),
	})
}

func (h Handler) resume(_ context.Context, ctx *app.RequestContext) {
	h.Scheduler.Resume()
	ctx.JSON(consts.StatusOK, map[string]any{
		"paused": false,
		"tick":   h.Scheduler.CurrentTick(),
	})
}

// step advances the world exactly one tick, paused or not. Manual
// stepping is the debugging workflow: pause the clock, step, inspect.
func (h Handler) step(c context.Context, ctx *app.RequestContext) {
	res, err := h.Scheduler.Step(c)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, res)
}

func (h Handler) reset(c context.Context, ctx *app.RequestContext) {
	var body resetRequest
	if err := decodeJSON(ctx, &body); err != nil {
		writeErrorBody(ctx, consts.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	brain, err := h.founderBrain(body.Brain)
	if err != nil {
		writeErrorBody(ctx, consts.StatusBadRequest, "unknown_brain", err.Error())
		return
	}

	founders, err := h.Scheduler.ResetWorld(c, body.Seed, body.Founders, brain)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ids := make([]string, 0, len(founders))
	for _, f := range founders {
		ids = append(ids, f.ID)
	}
	ctx.JSON(consts.StatusOK, map[string]any{
		"seed":      body.Seed,
		"founders":  len(founders),
		"agent_ids": ids,
	})
}

func (h Handler) interval(_ context.Context, ctx *app.RequestContext) {
	if h.Runner == nil {
		writeErrorBody(ctx, consts.StatusNotFound, "not_configured", "tick runner not configured")
		return
	}
	var body intervalRequest
	if err := decodeJSON(ctx, &body); err != nil {
		writeErrorBody(ctx, consts.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	if err := h.Runner.SetTickInterval(time.Duration(body.IntervalMs) * time.Millisecond); err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]any{"interval_ms": body.IntervalMs})
}

func (h Handler) createExperiment(c context.Context, ctx *app.RequestContext) {
	var body createExperimentRequest
	if err := decodeJSON(ctx, &body); err != nil {
		writeErrorBody(ctx, consts.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	exp, variants, err := h.Lab.CreateExperiment(c, body.Name, body.Variants)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusCreated, map[string]any{
		"experiment": exp,
		"variants":   variants,
	})
}

func (h Handler) attachExperiment(c context.Context, ctx *app.RequestContext) {
	var body attachExperimentRequest
	if err := decodeJSON(ctx, &body); err != nil {
		writeErrorBody(ctx, consts.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	if body.ExperimentID == "" {
		writeErrorBody(ctx, consts.StatusBadRequest, "bad_request", "experiment_id is required")
		return
	}
	cc, err := h.Scheduler.AttachExperiment(c, body.ExperimentID, body.SnapshotStride)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, cc)
}

func (h Handler) detachExperiment(_ context.Context, ctx *app.RequestContext) {
	h.Scheduler.DetachExperiment()
	ctx.JSON(consts.StatusOK, map[string]any{"detached": true})
}

type kpiSnapshotProvider interface {
	SnapshotAny() any
}

func (h Handler) kpi(_ context.Context, ctx *app.RequestContext) {
	if h.KPI == nil {
		writeErrorBody(ctx, consts.StatusNotFound, "not_configured", "kpi provider not configured")
		return
	}
	ctx.JSON(consts.StatusOK, h.KPI.SnapshotAny())
}

func (h Handler) founderBrain(name string) (agent.Brain, error) {
	if name == "" {
		if h.ResetBrain != "" {
			return h.ResetBrain, nil
		}
		return agent.BrainScripted, nil
	}
	switch b := agent.Brain(name); b {
	case agent.BrainLLM, agent.BrainHeuristic, agent.BrainScripted:
		return b, nil
	default:
		return "", fmt.Errorf("unknown brain %q", name)
	}
}

func decodeJSON(ctx *app.RequestContext, out any) error {
	body := ctx.Request.Body()
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

func writeError(ctx *app.RequestContext, err error) {
	switch {
	case errors.Is(err, lab.ErrInvalidRequest),
		errors.Is(err, replay.ErrInvalidRequest):
		writeErrorBody(ctx, consts.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, tick.ErrInvalidInterval):
		writeErrorBody(ctx, consts.StatusBadRequest, "invalid_interval", err.Error())
	case errors.Is(err, tick.ErrNotPaused):
		writeErrorBody(ctx, consts.StatusConflict, "world_not_paused", err.Error())
	case errors.Is(err, ports.ErrNotFound):
		writeErrorBody(ctx, consts.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ports.ErrConflict):
		writeErrorBody(ctx, consts.StatusConflict, "conflict", err.Error())
	default:
		writeErrorBody(ctx, consts.StatusInternalServerError, "internal_error", "internal error")
	}
}

func writeErrorBody(ctx *app.RequestContext, status int, code, message string) {
	ctx.JSON(status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
