package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/campus-mobility/parkwatch/internal/geo"
)

// LPRRead is a single license-plate-recognition observation. It is a
// forensic record: written once, never updated. Any association with a
// facility is inferred from location proximity, not stored.
type LPRRead struct {
	ID                uuid.UUID       `json:"id"`
	CameraName        string          `json:"camera_name"`
	ConfidenceScore   *int            `json:"confidence_score,omitempty"`
	ContextImage      *uuid.UUID      `json:"context_image,omitempty"`
	OverviewImage     *uuid.UUID      `json:"overview_image,omitempty"`
	PlateImage        *uuid.UUID      `json:"plate_image,omitempty"`
	PatrollerID       *uuid.UUID      `json:"patroller_id,omitempty"`
	PatrollerUserID   *uuid.UUID      `json:"patroller_user_id,omitempty"`
	PatrollerUserName *string         `json:"patroller_user_name,omitempty"`
	Plate             string          `json:"plate"`
	State             *string         `json:"state,omitempty"`
	UserName          *string         `json:"user_name,omitempty"`
	VehicleID         *uuid.UUID      `json:"vehicle_id,omitempty"`
	Location          geo.Point       `json:"location"`
	Attributes        json.RawMessage `json:"attributes,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	ReadAt            time.Time       `json:"read_at"`
}
