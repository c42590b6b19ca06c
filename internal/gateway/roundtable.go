package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/flemzord/roundtable/internal/roundtable"
	"github.com/flemzord/roundtable/internal/security"
	"github.com/flemzord/roundtable/internal/store"
)

// roundtableRequest is the body of POST /v1/roundtable and the first
// message of a WebSocket session.
type roundtableRequest struct {
	Prompt   string              `json:"prompt"`
	Backends []string            `json:"backends"`
	Settings roundtable.Settings `json:"settings"`
	Strategy *strategyOverride   `json:"strategy,omitempty"`

	// Project, when set, injects the project's context into the system
	// prompt.
	Project string `json:"project,omitempty"`

	// Stream switches the HTTP response to text/event-stream progress.
	Stream bool `json:"stream"`
}

// strategyOverride holds the strategy fields a request may change.
type strategyOverride struct {
	Timeout             string   `json:"timeout,omitempty"`
	MaxConcurrency      *int     `json:"max_concurrency,omitempty"`
	Priority            []string `json:"priority,omitempty"`
	CostOptimization    *bool    `json:"cost_optimization,omitempty"`
	Fallback            *bool    `json:"fallback,omitempty"`
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty"`
	CancelInFlight      *bool    `json:"cancel_in_flight,omitempty"`
}

func (o *strategyOverride) apply(s roundtable.Strategy) (roundtable.Strategy, error) {
	if o == nil {
		return s, nil
	}
	if o.Timeout != "" {
		d, err := time.ParseDuration(o.Timeout)
		if err != nil || d <= 0 {
			return s, fmt.Errorf("strategy.timeout %q must be a positive duration", o.Timeout)
		}
		s.Timeout = d
	}
	if o.MaxConcurrency != nil {
		s.MaxConcurrency = *o.MaxConcurrency
	}
	if o.Priority != nil {
		s.Priority = o.Priority
	}
	if o.CostOptimization != nil {
		s.CostOptimization = *o.CostOptimization
	}
	if o.Fallback != nil {
		s.Fallback = *o.Fallback
	}
	if o.SimilarityThreshold != nil {
		if t := *o.SimilarityThreshold; t < 0 || t > 1 {
			return s, fmt.Errorf("strategy.similarity_threshold %v must be within [0, 1]", t)
		}
		s.SimilarityThreshold = *o.SimilarityThreshold
	}
	if o.CancelInFlight != nil {
		s.CancelInFlight = *o.CancelInFlight
	}
	return s, nil
}

// contextInfo reports the project context injected into a roundtable.
type contextInfo struct {
	Project string   `json:"project"`
	Items   []string `json:"items"`
	Dropped int      `json:"dropped"`
	Tokens  int      `json:"tokens"`
}

// executionResponse is an Execution plus its responses in rank order.
type executionResponse struct {
	*roundtable.Execution
	Ranked  []*roundtable.Response `json:"ranked"`
	Context *contextInfo           `json:"context,omitempty"`
}

// errBadRequest marks request errors detected before execution.
var errBadRequest = errors.New("bad request")

// prepare resolves defaults, strategy overrides and project context.
func (g *Gateway) prepare(ctx context.Context, body roundtableRequest) (roundtable.Request, roundtable.Strategy, *contextInfo, error) {
	req := roundtable.Request{
		Prompt:   body.Prompt,
		Backends: body.Backends,
		Settings: body.Settings,
	}
	if len(req.Backends) == 0 {
		req.Backends = g.deps.DefaultBackends
	}

	strategy, err := body.Strategy.apply(g.deps.Strategy)
	if err != nil {
		return req, strategy, nil, fmt.Errorf("%w: %w", errBadRequest, err)
	}

	if body.Project == "" {
		return req, strategy, nil, nil
	}
	if err := store.ValidateProject(body.Project); err != nil {
		return req, strategy, nil, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	snap, err := g.deps.Store.Snapshot(ctx, body.Project)
	if err != nil {
		return req, strategy, nil, err
	}
	asm := g.assembler.Assemble(snap.Items, req.Prompt, req.Settings.SystemPrompt)
	req.Settings.SystemPrompt = asm.SystemPrompt

	info := &contextInfo{
		Project: body.Project,
		Items:   make([]string, 0, len(asm.Items)),
		Dropped: asm.Dropped,
		Tokens:  asm.Budget.Used,
	}
	for _, it := range asm.Items {
		info.Items = append(info.Items, it.ID)
	}
	return req, strategy, info, nil
}

// requestStatus maps a pre-execution error to an HTTP status.
func requestStatus(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, roundtable.ErrEmptyPrompt),
		errors.Is(err, roundtable.ErrNoBackends),
		errors.Is(err, roundtable.ErrDuplicateBackend),
		errors.Is(err, roundtable.ErrUnknownBackend):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func newExecutionResponse(exec *roundtable.Execution, info *contextInfo) executionResponse {
	return executionResponse{Execution: exec, Ranked: exec.Ranked(), Context: info}
}

// handleRoundtable serves POST /v1/roundtable.
func (g *Gateway) handleRoundtable() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !g.allow(w, r, security.BucketRoundtable) {
			return
		}
		var body roundtableRequest
		if !g.decodeBody(w, r, &body) {
			return
		}

		req, strategy, info, err := g.prepare(r.Context(), body)
		if err != nil {
			writeError(w, requestStatus(err), err)
			return
		}

		if body.Stream {
			g.streamRoundtable(w, r, req, strategy, info)
			return
		}

		exec, err := g.deps.Executor.Execute(r.Context(), req, strategy, nil)
		if err != nil {
			writeError(w, requestStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, newExecutionResponse(exec, info))
	}
}

// streamRoundtable writes progress as server-sent events. Headers are
// sent with the first event so contract errors still get a JSON status.
func (g *Gateway) streamRoundtable(w http.ResponseWriter, r *http.Request, req roundtable.Request, strategy roundtable.Strategy, info *contextInfo) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	started := false
	send := func(event string, v any) {
		if !started {
			started = true
			h := w.Header()
			h.Set("Content-Type", "text/event-stream")
			h.Set("Cache-Control", "no-cache")
			h.Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
		}
		data, err := json.Marshal(v)
		if err != nil {
			g.logger.Error("sse encode failed", "event", event, "error", err)
			return
		}
		_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		flusher.Flush()
	}

	// Progress callbacks are serialized by the executor and the final
	// event is written after Execute returns, so writes never overlap.
	exec, err := g.deps.Executor.Execute(r.Context(), req, strategy, func(ev roundtable.ProgressEvent) {
		send(string(ev.Type), ev)
	})
	if err != nil {
		if !started {
			writeError(w, requestStatus(err), err)
			return
		}
		send("error", map[string]string{"error": err.Error()})
		return
	}
	send("done", newExecutionResponse(exec, info))
}

// wsMessage is one server-to-client WebSocket frame.
type wsMessage struct {
	Type      string                    `json:"type"`
	Event     *roundtable.ProgressEvent `json:"event,omitempty"`
	Execution *executionResponse        `json:"execution,omitempty"`
	Error     string                    `json:"error,omitempty"`
}

// handleRoundtableWS serves GET /v1/roundtable/ws. The client sends one
// roundtable request; the server answers with every progress event, a
// final "done" message, and closes the connection.
func (g *Gateway) handleRoundtableWS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !g.allow(w, r, security.BucketRoundtable) {
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			g.logger.Warn("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()
		conn.SetReadLimit(g.config.MaxBodyBytes)

		ctx := r.Context()
		var body roundtableRequest
		if err := wsjson.Read(ctx, conn, &body); err != nil {
			_ = conn.Close(websocket.StatusUnsupportedData, "invalid roundtable request")
			return
		}
		// No further client messages are expected; ctx ends if the peer goes away.
		ctx = conn.CloseRead(ctx)

		req, strategy, info, err := g.prepare(ctx, body)
		if err == nil {
			var exec *roundtable.Execution
			exec, err = g.deps.Executor.Execute(ctx, req, strategy, func(ev roundtable.ProgressEvent) {
				if werr := wsjson.Write(ctx, conn, wsMessage{Type: string(ev.Type), Event: &ev}); werr != nil {
					g.logger.Debug("websocket write failed", "error", werr)
				}
			})
			if err == nil {
				resp := newExecutionResponse(exec, info)
				if werr := wsjson.Write(ctx, conn, wsMessage{Type: "done", Execution: &resp}); werr != nil {
					g.logger.Debug("websocket write failed", "error", werr)
					return
				}
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}

		_ = wsjson.Write(ctx, conn, wsMessage{Type: "error", Error: err.Error()})
		_ = conn.Close(websocket.StatusPolicyViolation, "roundtable rejected")
	}
}
