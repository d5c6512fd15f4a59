package planapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/linnemanlabs/aware/internal/sensor"
)

const (
	maxReadingsBody = 1 << 20
	maxReadings     = 1000
)

type readingsRequest struct {
	Readings []sensor.Reading `json:"readings"`
}

func (a *API) handleIngestReadings(w http.ResponseWriter, r *http.Request) {
	if a.recorder == nil {
		writeError(w, http.StatusNotImplemented, "sensor source does not accept readings")
		return
	}

	var req readingsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxReadingsBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := validateReadings(req.Readings, time.Now().UTC()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := a.recorder.Record(r.Context(), req.Readings...)
	switch {
	case errors.Is(err, sensor.ErrRecordingUnsupported):
		writeError(w, http.StatusNotImplemented, "sensor source does not accept readings")
		return
	case err != nil:
		a.logger.Error(r.Context(), err, "failed to record readings", "count", len(req.Readings))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	a.logger.Info(r.Context(), "readings recorded", "count", len(req.Readings))
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(req.Readings)})
}

// validateReadings checks required fields and stamps missing observation times.
func validateReadings(readings []sensor.Reading, now time.Time) error {
	if len(readings) == 0 {
		return errors.New("no readings")
	}
	if len(readings) > maxReadings {
		return fmt.Errorf("too many readings (max %d)", maxReadings)
	}
	for i := range readings {
		rd := &readings[i]
		if rd.AssetID == "" || rd.Type == "" {
			return fmt.Errorf("reading %d: asset_id and sensor_type are required", i)
		}
		if rd.AssetKind != sensor.AssetNode && rd.AssetKind != sensor.AssetEdge {
			return fmt.Errorf("reading %d: asset_kind must be node or edge", i)
		}
		if rd.ObservedAt.IsZero() {
			rd.ObservedAt = now
		}
	}
	return nil
}
