package frontend

import (
	"net/http"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/olympus-org/olympus/internal/logger"
	"github.com/olympus-org/olympus/internal/logger/tag"
	"github.com/olympus-org/olympus/internal/store"
)

func (a *API) llmUsage(w http.ResponseWriter, r *http.Request) {
	spend, err := a.llm.SpendToday(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, spend)
}

func (a *API) listFacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, codeInvalidArgument, "limit must be a positive integer")
			return
		}
		limit = n
	}

	facts, err := a.store.RecentFacts(r.Context(), q.Get("kind"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if facts == nil {
		facts = []store.Fact{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"facts": facts})
}

type addFactRequest struct {
	Kind string         `json:"kind"`
	Data map[string]any `json:"data"`
}

func (a *API) addFact(w http.ResponseWriter, r *http.Request) {
	var body addFactRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Kind == "" {
		writeError(w, http.StatusBadRequest, codeInvalidArgument, "kind is required")
		return
	}

	fact, err := a.store.AddFact(r.Context(), body.Kind, body.Data)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, fact)
}

type healthHost struct {
	CPU    float64 `json:"cpu"`
	Memory float64 `json:"memory"`
}

type healthResponse struct {
	Status  string     `json:"status"`
	Version string     `json:"version"`
	Uptime  int64      `json:"uptime"`
	Host    healthHost `json:"host"`
}

// health reports liveness plus a coarse host snapshot. Host stats are best
// effort; a probe failure never fails the endpoint.
func (a *API) health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := healthResponse{
		Status:  "ok",
		Version: a.version,
		Uptime:  int64(time.Since(a.startedAt).Seconds()),
	}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		logger.Warn(ctx, "Failed to read CPU usage", tag.Error(err))
	} else if len(percents) > 0 {
		resp.Host.CPU = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		logger.Warn(ctx, "Failed to read memory usage", tag.Error(err))
	} else {
		resp.Host.Memory = vm.UsedPercent
	}

	writeJSON(w, http.StatusOK, resp)
}
