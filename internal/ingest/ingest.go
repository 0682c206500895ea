// Package ingest validates and persists license-plate-recognition reads.
// Reads are immutable once accepted; validation runs in full before any
// write, so a rejected read leaves no partial record behind.
package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/campus-mobility/parkwatch/internal/geo"
	"github.com/campus-mobility/parkwatch/internal/model"
	"github.com/campus-mobility/parkwatch/internal/store"
)

var (
	ErrInvalidPlate      = eris.New("ingest: plate must not be empty")
	ErrInvalidCamera     = eris.New("ingest: camera name must not be empty")
	ErrInvalidStateCode  = eris.New("ingest: state must be a 2-character jurisdiction code")
	ErrInvalidLocation   = eris.New("ingest: location out of bounds")
	ErrInvalidAttributes = eris.New("ingest: attributes must be a JSON object")
)

// ReadInput is one camera observation submitted for ingestion.
type ReadInput struct {
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
	ReadAt            time.Time       `json:"read_at,omitempty"`
}

// Service validates and persists LPR reads.
type Service struct {
	store store.Store
}

// New creates an ingest Service.
func New(st store.Store) *Service {
	return &Service{store: st}
}

// Ingest validates the input, assigns identity and timestamps, and appends
// the read. Accepted reads are retrievable by exact match on plate, camera
// name, and state.
func (s *Service) Ingest(ctx context.Context, in ReadInput) (*model.LPRRead, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	readAt := in.ReadAt
	if readAt.IsZero() {
		readAt = now
	}
	createdAt := now
	// created_at never trails read_at; a backdated observation keeps both
	// self-consistent.
	if createdAt.After(readAt) {
		createdAt = readAt
	}

	r := &model.LPRRead{
		ID:                store.NewRecordID(),
		CameraName:        in.CameraName,
		ConfidenceScore:   in.ConfidenceScore,
		ContextImage:      in.ContextImage,
		OverviewImage:     in.OverviewImage,
		PlateImage:        in.PlateImage,
		PatrollerID:       in.PatrollerID,
		PatrollerUserID:   in.PatrollerUserID,
		PatrollerUserName: in.PatrollerUserName,
		Plate:             in.Plate,
		State:             in.State,
		UserName:          in.UserName,
		VehicleID:         in.VehicleID,
		Location:          in.Location,
		Attributes:        in.Attributes,
		CreatedAt:         createdAt,
		ReadAt:            readAt,
	}

	if err := s.store.InsertRead(ctx, r); err != nil {
		return nil, err
	}

	zap.L().Debug("ingest: read accepted",
		zap.String("read_id", r.ID.String()),
		zap.String("camera", r.CameraName),
		zap.String("plate", r.Plate),
	)
	return r, nil
}

// Find returns accepted reads matching the filter exactly.
func (s *Service) Find(ctx context.Context, filter store.ReadFilter) ([]model.LPRRead, error) {
	return s.store.FindReads(ctx, filter)
}

func validate(in ReadInput) error {
	if strings.TrimSpace(in.Plate) == "" {
		return ErrInvalidPlate
	}
	if strings.TrimSpace(in.CameraName) == "" {
		return ErrInvalidCamera
	}
	if in.State != nil && utf8.RuneCountInString(*in.State) != 2 {
		return eris.Wrapf(ErrInvalidStateCode, "state %q", *in.State)
	}
	if err := in.Location.Validate(); err != nil {
		return eris.Wrap(ErrInvalidLocation, err.Error())
	}
	if len(in.Attributes) > 0 && !json.Valid(in.Attributes) {
		return ErrInvalidAttributes
	}
	return nil
}
