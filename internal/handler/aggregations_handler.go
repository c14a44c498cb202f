package handler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/soldi-app/soldi-ledger-go/internal/service"
)

// ============================================================
// Aggregations — the sole dashboard read path
// ============================================================

func getAggregationsHandler(svc *service.AggregationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/aggregations")
		defer span.End()

		now := time.Now().UTC()
		start, err := parseDay(r, "start", now.AddDate(0, -1, 0))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		end, err := parseDay(r, "end", now)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		var categoryID *string
		if v := r.URL.Query().Get("category"); v != "" {
			categoryID = &v
		}

		rows, err := svc.GetRange(ctx, OwnerIDFromContext(ctx), start, end, categoryID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

func rebuildAggregationsHandler(svc *service.AggregationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/aggregations/rebuild")
		defer span.End()

		if err := svc.RebuildForOwner(ctx, OwnerIDFromContext(ctx)); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
