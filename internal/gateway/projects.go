package gateway

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/roundtable/internal/ctxengine"
	"github.com/flemzord/roundtable/internal/security"
	"github.com/flemzord/roundtable/internal/store"
)

// itemsResponse is the JSON response for GET /v1/projects/{project}/items.
type itemsResponse struct {
	store.Snapshot
	Budget ctxengine.Budget `json:"budget"`
}

// totalResponse reports a project's running total after a mutation.
type totalResponse struct {
	Project string `json:"project"`
	Total   int    `json:"total"`
}

// putResponse is the response for PUT /v1/projects/{project}/items/{id}.
// Optimized is set when the write crossed the hard ceiling and the
// project was optimized as a result.
type putResponse struct {
	totalResponse
	Budget     ctxengine.Budget `json:"budget"`
	OverBudget bool             `json:"over_budget"`
	Optimized  bool             `json:"optimized,omitempty"`
}

// optimizeRequest is the body of POST /v1/projects/{project}/optimize.
type optimizeRequest struct {
	// Target defaults to the ideal threshold.
	Target     *int     `json:"target,omitempty"`
	Strategies []string `json:"strategies,omitempty"`
	DryRun     bool     `json:"dry_run"`
}

// truncateRequest is the body of POST /v1/projects/{project}/truncate.
type truncateRequest struct {
	// MaxTokens defaults to the hard ceiling.
	MaxTokens *int `json:"max_tokens,omitempty"`
	DryRun    bool `json:"dry_run"`
}

// projectParam extracts and validates the {project} URL parameter.
func projectParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	project := chi.URLParam(r, "project")
	if err := store.ValidateProject(project); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return "", false
	}
	return project, true
}

// storeStatus maps a store error to an HTTP status.
func storeStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidProject), errors.Is(err, ctxengine.ErrInvalidItem):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (g *Gateway) handleListProjects() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := g.deps.Store.Projects(r.Context())
		if err != nil {
			writeError(w, storeStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string][]string{"projects": projects})
	}
}

func (g *Gateway) handleListItems() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := projectParam(w, r)
		if !ok {
			return
		}
		snap, err := g.deps.Store.Snapshot(r.Context(), project)
		if err != nil {
			writeError(w, storeStatus(err), err)
			return
		}
		if snap.Items == nil {
			snap.Items = []ctxengine.Item{}
		}
		writeJSON(w, http.StatusOK, itemsResponse{Snapshot: snap, Budget: g.deps.Engine.Budget(snap.Items)})
	}
}

// handlePutItem stores the body item under the path id. A zero token
// count is measured from the content. A write that takes the project over
// the hard ceiling runs the optimizer before responding.
func (g *Gateway) handlePutItem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := projectParam(w, r)
		if !ok {
			return
		}
		var item ctxengine.Item
		if !g.decodeBody(w, r, &item) {
			return
		}
		item.ID = chi.URLParam(r, "id")
		if item.Tokens == 0 {
			item.Measure()
		}

		total, err := g.deps.Store.Put(r.Context(), project, item)
		if err != nil {
			writeError(w, storeStatus(err), err)
			return
		}
		g.deps.Audit.Log(security.AuditEvent{
			Type:       security.EventItemPut,
			Project:    project,
			ItemID:     item.ID,
			RemoteAddr: r.RemoteAddr,
			Metadata:   map[string]string{"tokens": strconv.Itoa(item.Tokens)},
		})

		resp := putResponse{totalResponse: totalResponse{Project: project, Total: total}}
		resp.Budget = g.budget(total)
		if resp.Budget.Exceeded() && g.deps.Optimizer != nil {
			if after, ok := g.enforce(r, project); ok {
				resp.Optimized = after < total
				resp.Total = after
				resp.Budget = g.budget(after)
			}
		}
		resp.OverBudget = resp.Budget.Exceeded()
		g.observeTotal(project, resp.Total)
		writeJSON(w, http.StatusOK, resp)
	}
}

// enforce optimizes a project that went over its hard ceiling and returns
// the new total. Failures are logged; the write itself stands.
func (g *Gateway) enforce(r *http.Request, project string) (int, bool) {
	if err := g.deps.Optimizer.Optimize(r.Context(), project); err != nil {
		g.logger.Warn("over-budget optimization failed", "project", project, "error", err)
		return 0, false
	}
	snap, err := g.deps.Store.Snapshot(r.Context(), project)
	if err != nil {
		g.logger.Warn("reading optimized project failed", "project", project, "error", err)
		return 0, false
	}
	g.logger.Info("project over budget, optimized", "project", project, "total", snap.Total)
	return snap.Total, true
}

func (g *Gateway) budget(total int) ctxengine.Budget {
	cfg := g.deps.Engine.Config()
	return ctxengine.Budget{Max: cfg.MaxTokens, Ideal: cfg.IdealTokens, Used: total}
}

func (g *Gateway) handleDeleteItem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := projectParam(w, r)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")
		total, err := g.deps.Store.Delete(r.Context(), project, id)
		if err != nil {
			writeError(w, storeStatus(err), err)
			return
		}
		g.deps.Audit.Log(security.AuditEvent{
			Type:       security.EventItemDelete,
			Project:    project,
			ItemID:     id,
			RemoteAddr: r.RemoteAddr,
		})
		g.observeTotal(project, total)
		writeJSON(w, http.StatusOK, totalResponse{Project: project, Total: total})
	}
}

// handleAnalyze returns the strategies Optimize would consider.
func (g *Gateway) handleAnalyze() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := projectParam(w, r)
		if !ok {
			return
		}
		snap, err := g.deps.Store.Snapshot(r.Context(), project)
		if err != nil {
			writeError(w, storeStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"budget":     g.deps.Engine.Budget(snap.Items),
			"strategies": g.deps.Engine.Analyze(g.deps.Engine.ScoreUnscored(snap.Items)),
		})
	}
}

func (g *Gateway) handleOptimize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := projectParam(w, r)
		if !ok {
			return
		}
		if !g.allow(w, r, security.BucketOptimize) {
			return
		}
		var body optimizeRequest
		if !g.decodeOptionalBody(w, r, &body) {
			return
		}

		snap, err := g.deps.Store.Snapshot(r.Context(), project)
		if err != nil {
			writeError(w, storeStatus(err), err)
			return
		}
		target := g.deps.Engine.Config().IdealTokens
		if body.Target != nil {
			target = *body.Target
		}

		res, err := g.deps.Engine.OptimizeScored(r.Context(), snap.Items, target, body.Strategies...)
		switch {
		case errors.Is(err, ctxengine.ErrNegativeTarget), errors.Is(err, ctxengine.ErrUnknownStrategy):
			writeError(w, http.StatusBadRequest, err)
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if res.Items == nil {
			res.Items = []ctxengine.Item{}
		}
		if g.deps.Metrics != nil {
			g.deps.Metrics.ObserveOptimize(project, res)
		}

		if !body.DryRun && len(res.Applied) > 0 {
			if err := g.deps.Store.ReplaceIf(r.Context(), project, res.Items, snap.Revision); err != nil {
				writeError(w, storeStatus(err), err)
				return
			}
			g.observeTotal(project, res.AfterTokens)
		}
		g.deps.Audit.Log(security.AuditEvent{
			Type:       security.EventOptimize,
			Project:    project,
			RemoteAddr: r.RemoteAddr,
			Detail:     res.Summary,
			Metadata: map[string]string{
				"before":  strconv.Itoa(res.BeforeTokens),
				"after":   strconv.Itoa(res.AfterTokens),
				"dry_run": strconv.FormatBool(body.DryRun),
			},
		})
		writeJSON(w, http.StatusOK, res)
	}
}

func (g *Gateway) handleTruncate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := projectParam(w, r)
		if !ok {
			return
		}
		if !g.allow(w, r, security.BucketOptimize) {
			return
		}
		var body truncateRequest
		if !g.decodeOptionalBody(w, r, &body) {
			return
		}
		limit := g.deps.Engine.Config().MaxTokens
		if body.MaxTokens != nil {
			limit = *body.MaxTokens
		}
		if limit < 0 {
			writeError(w, http.StatusBadRequest, ctxengine.ErrNegativeTarget)
			return
		}

		snap, err := g.deps.Store.Snapshot(r.Context(), project)
		if err != nil {
			writeError(w, storeStatus(err), err)
			return
		}
		res := g.deps.Engine.Truncate(snap.Items, limit)
		if res.Items == nil {
			res.Items = []ctxengine.Item{}
		}
		changed := len(res.Dropped) > 0 || len(res.Compressed) > 0
		if !body.DryRun && changed {
			if err := g.deps.Store.ReplaceIf(r.Context(), project, res.Items, snap.Revision); err != nil {
				writeError(w, storeStatus(err), err)
				return
			}
			g.observeTotal(project, res.Tokens)
		}
		g.deps.Audit.Log(security.AuditEvent{
			Type:       security.EventTruncate,
			Project:    project,
			RemoteAddr: r.RemoteAddr,
			Metadata: map[string]string{
				"dropped": strconv.Itoa(len(res.Dropped)),
				"tokens":  strconv.Itoa(res.Tokens),
				"dry_run": strconv.FormatBool(body.DryRun),
			},
		})
		writeJSON(w, http.StatusOK, res)
	}
}

func (g *Gateway) observeTotal(project string, total int) {
	if g.deps.Metrics != nil {
		g.deps.Metrics.SetProjectTokens(project, total)
	}
}
