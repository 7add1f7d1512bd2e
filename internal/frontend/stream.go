package frontend

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/olympus-org/olympus/internal/logger"
	"github.com/olympus-org/olympus/internal/logger/tag"
)

// streamPollInterval paces the transcript tail. Events are pulled from the
// store, so the stream sees appends from any goroutine.
const streamPollInterval = 250 * time.Millisecond

// streamEvents upgrades to a websocket and tails the plan transcript. The
// `after` query parameter replays from a sequence cursor; the stream closes
// once the plan is terminal and the backlog is drained.
func (a *API) streamEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	planID := chi.URLParam(r, "planID")

	// Resolve errors before the upgrade so they surface as plain HTTP.
	if _, err := a.store.GetPlan(ctx, planID); err != nil {
		writeDomainError(w, err)
		return
	}

	cursor := int64(0)
	if raw := r.URL.Query().Get("after"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, codeInvalidArgument, "after must be a non-negative integer")
			return
		}
		cursor = n
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	// Write-only stream: CloseRead hands back a context that dies when the
	// client goes away.
	ctx = conn.CloseRead(ctx)

	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	for {
		plan, err := a.store.GetPlan(ctx, planID)
		if err != nil {
			logger.Warn(ctx, "Event stream lost plan", tag.PlanID(planID), tag.Error(err))
			conn.Close(websocket.StatusInternalError, "plan read failed")
			return
		}
		terminal := plan.State.IsTerminal()

		events, err := a.store.EventsAfter(ctx, planID, cursor)
		if err != nil {
			logger.Warn(ctx, "Event stream read failed", tag.PlanID(planID), tag.Error(err))
			conn.Close(websocket.StatusInternalError, "event read failed")
			return
		}
		for _, ev := range events {
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
			cursor = ev.Seq
		}

		// State was read before the events, so a terminal state with an
		// empty batch means everything has been delivered.
		if terminal && len(events) == 0 {
			conn.Close(websocket.StatusNormalClosure, "plan finished")
			return
		}

		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "client closed")
			return
		case <-ticker.C:
		}
	}
}
