package api

import (
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/campus-mobility/parkwatch/internal/geo"
	"github.com/campus-mobility/parkwatch/internal/ingest"
	"github.com/campus-mobility/parkwatch/internal/model"
	"github.com/campus-mobility/parkwatch/internal/registry"
	"github.com/campus-mobility/parkwatch/internal/store"
)

// writeError maps a service error to an HTTP status. Unrecognized errors
// become opaque 500s so internals never leak to clients.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, status, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Error: eris.Cause(err).Error()})
}

func statusFor(err error) int {
	switch {
	case eris.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case eris.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	case eris.Is(err, model.ErrNegativeOccupancy):
		return http.StatusConflict
	case eris.Is(err, store.ErrDuplicateName):
		return http.StatusConflict
	case eris.Is(err, model.ErrInvalidCategory):
		return http.StatusUnprocessableEntity
	case eris.Is(err, registry.ErrInvalidName),
		eris.Is(err, registry.ErrInvalidCapacity),
		eris.Is(err, geo.ErrOutOfRange),
		eris.Is(err, ingest.ErrInvalidPlate),
		eris.Is(err, ingest.ErrInvalidCamera),
		eris.Is(err, ingest.ErrInvalidStateCode),
		eris.Is(err, ingest.ErrInvalidLocation),
		eris.Is(err, ingest.ErrInvalidAttributes):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
