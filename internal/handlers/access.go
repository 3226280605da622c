package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"github.com/kodianteach/atlas-platform-sub001/internal/models"
	"github.com/kodianteach/atlas-platform-sub001/internal/passes"
	"github.com/kodianteach/atlas-platform-sub001/internal/services"
	appErrors "github.com/kodianteach/atlas-platform-sub001/pkg/errors"
	"github.com/kodianteach/atlas-platform-sub001/pkg/response"
)

// AccessHandler serves the porter facing gate endpoints.
type AccessHandler struct {
	validation *services.AccessValidationService
	events     *services.AccessEventService
	keys       *services.KeyStore
}

// NewAccessHandler constructs an AccessHandler.
func NewAccessHandler(validation *services.AccessValidationService, events *services.AccessEventService, keys *services.KeyStore) (*AccessHandler, error) {
	if validation == nil || events == nil || keys == nil {
		return nil, errors.New("access handler: validation, event and key services are required")
	}
	return &AccessHandler{validation: validation, events: events, keys: keys}, nil
}

type validateRequest struct {
	Token         string `json:"token" validate:"required"`
	Action        string `json:"action" validate:"omitempty,oneof=ENTRY EXIT"`
	DeviceID      string `json:"device_id" validate:"omitempty,max=128"`
	ObservedPlate string `json:"observed_plate" validate:"omitempty,plate"`
}

type vehicleView struct {
	Plate string `json:"plate"`
	Type  string `json:"type,omitempty"`
	Color string `json:"color,omitempty"`
}

type passView struct {
	AuthorizationID string       `json:"authorization_id"`
	UnitCode        string       `json:"unit_code"`
	PersonName      string       `json:"person_name"`
	PersonDocument  string       `json:"person_document"`
	ServiceType     string       `json:"service_type"`
	ValidFrom       time.Time    `json:"valid_from"`
	ValidTo         time.Time    `json:"valid_to"`
	Vehicle         *vehicleView `json:"vehicle,omitempty"`
	KeyID           string       `json:"kid"`
}

type validationView struct {
	ScanResult models.ScanResult   `json:"scan_result"`
	Event      *models.AccessEvent `json:"event"`
	Pass       *passView           `json:"pass,omitempty"`
}

// Validate handles POST /api/access/validate. Rejected passes are a successful call whose
// scan_result says why; only unparsable tokens and tenants without keys are errors.
func (h *AccessHandler) Validate(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req validateRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.validation.Validate(requestContext(c), services.ValidateInput{
		OrganizationID: actor.OrganizationID,
		PorterUserID:   actor.UserID,
		DeviceID:       deviceID(c, req.DeviceID),
		Token:          req.Token,
		Action:         models.AccessAction(req.Action),
		ObservedPlate:  req.ObservedPlate,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, validationView{
		ScanResult: result.ScanResult,
		Event:      result.Event,
		Pass:       newPassView(result.Claims),
	})
}

// Lookup handles GET /api/access/lookup?document=.
func (h *AccessHandler) Lookup(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	auths, err := h.validation.FindByDocument(requestContext(c), actor.OrganizationID, c.Query("document"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, auths)
}

type documentEntryRequest struct {
	AuthorizationID string `json:"authorization_id" validate:"required,max=64"`
	Action          string `json:"action" validate:"omitempty,oneof=ENTRY EXIT"`
	DeviceID        string `json:"device_id" validate:"omitempty,max=128"`
	ObservedPlate   string `json:"observed_plate" validate:"omitempty,plate"`
}

// DocumentEntry handles POST /api/access/document-entries.
func (h *AccessHandler) DocumentEntry(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req documentEntryRequest
	if !bindAndValidate(c, &req) {
		return
	}

	event, err := h.validation.RecordDocumentEntry(requestContext(c), services.DocumentEntryInput{
		OrganizationID:  actor.OrganizationID,
		PorterUserID:    actor.UserID,
		DeviceID:        deviceID(c, req.DeviceID),
		AuthorizationID: req.AuthorizationID,
		Action:          models.AccessAction(req.Action),
		ObservedPlate:   req.ObservedPlate,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, event)
}

type syncEventRequest struct {
	AuthorizationID string          `json:"authorization_id"`
	DeviceID        string          `json:"device_id"`
	Action          string          `json:"action"`
	ScanResult      string          `json:"scan_result"`
	PersonName      string          `json:"person_name"`
	PersonDocument  string          `json:"person_document"`
	VehiclePlate    string          `json:"vehicle_plate"`
	VehicleMatch    *bool           `json:"vehicle_match"`
	Notes           string          `json:"notes"`
	Metadata        json.RawMessage `json:"metadata"`
	ScannedAt       time.Time       `json:"scanned_at"`
}

type syncEventsRequest struct {
	DeviceID string             `json:"device_id" validate:"omitempty,max=128"`
	Events   []syncEventRequest `json:"events" validate:"max=1000"`
}

// SyncEvents handles POST /api/access/events/sync, the upload of scans a gate device
// validated while offline.
func (h *AccessHandler) SyncEvents(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req syncEventsRequest
	if !bindAndValidate(c, &req) {
		return
	}

	events := make([]models.AccessEvent, len(req.Events))
	for i, in := range req.Events {
		event := models.AccessEvent{
			DeviceID:       strings.TrimSpace(in.DeviceID),
			Action:         models.AccessAction(strings.ToUpper(strings.TrimSpace(in.Action))),
			ScanResult:     models.ScanResult(strings.ToUpper(strings.TrimSpace(in.ScanResult))),
			PersonName:     in.PersonName,
			PersonDocument: in.PersonDocument,
			VehiclePlate:   in.VehiclePlate,
			VehicleMatch:   in.VehicleMatch,
			Notes:          in.Notes,
			ScannedAt:      in.ScannedAt.UTC(),
		}
		if id := strings.TrimSpace(in.AuthorizationID); id != "" {
			event.AuthorizationID = &id
		}
		if len(in.Metadata) > 0 && string(in.Metadata) != "null" {
			event.Metadata = datatypes.JSON(in.Metadata)
		}
		events[i] = event
	}

	stored, err := h.events.AppendBatch(requestContext(c), services.BatchInput{
		OrganizationID: actor.OrganizationID,
		PorterUserID:   actor.UserID,
		DeviceID:       deviceID(c, req.DeviceID),
		Events:         events,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	if stored == nil {
		stored = []models.AccessEvent{}
	}

	response.Success(c, http.StatusCreated, gin.H{"synced": len(stored), "events": stored})
}

// ListEvents handles GET /api/access/events.
func (h *AccessHandler) ListEvents(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	page, perPage := pageParams(c)
	since, ok := parseTimeQuery(c, "since")
	if !ok {
		response.Error(c, appErrors.NewBadRequest("since must be an RFC 3339 timestamp"))
		return
	}
	until, ok := parseTimeQuery(c, "until")
	if !ok {
		response.Error(c, appErrors.NewBadRequest("until must be an RFC 3339 timestamp"))
		return
	}
	scanResult := models.ScanResult(strings.ToUpper(strings.TrimSpace(c.Query("scan_result"))))
	if scanResult != "" && !scanResult.Valid() {
		response.Error(c, appErrors.NewBadRequest("scan_result is not a known result"))
		return
	}

	events, total, err := h.events.List(requestContext(c), actor.OrganizationID, services.EventListOptions{
		Page:            page,
		PerPage:         perPage,
		ScanResult:      scanResult,
		PorterUserID:    c.Query("porter_user_id"),
		DeviceID:        c.Query("device_id"),
		AuthorizationID: c.Query("authorization_id"),
		Since:           since,
		Until:           until,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, events, response.NewMeta(page, perPage, total))
}

type publicKeyView struct {
	KeyID     string     `json:"kid"`
	Algorithm string     `json:"algorithm"`
	PublicKey string     `json:"public_key"`
	Active    bool       `json:"active"`
	RetiredAt *time.Time `json:"retired_at,omitempty"`
}

// Keys handles GET /api/access/keys. Gate devices cache these to verify passes offline;
// retired keys stay listed so passes they signed remain verifiable.
func (h *AccessHandler) Keys(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	keys, err := h.keys.PublicKeys(requestContext(c), actor.OrganizationID)
	if err != nil {
		response.Error(c, err)
		return
	}

	views := make([]publicKeyView, 0, len(keys))
	for _, key := range keys {
		views = append(views, publicKeyView{
			KeyID:     key.KeyID,
			Algorithm: key.Algorithm,
			PublicKey: key.PublicKey,
			Active:    key.IsActive,
			RetiredAt: key.RetiredAt,
		})
	}
	response.Success(c, http.StatusOK, views)
}

func newPassView(claims *passes.Claims) *passView {
	if claims == nil {
		return nil
	}
	view := &passView{
		AuthorizationID: claims.AuthorizationID,
		UnitCode:        claims.UnitCode,
		PersonName:      claims.PersonName,
		PersonDocument:  claims.PersonDocument,
		ServiceType:     claims.ServiceType,
		ValidFrom:       claims.ValidFrom,
		ValidTo:         claims.ValidTo,
		KeyID:           claims.KeyID,
	}
	if claims.Vehicle != nil {
		view.Vehicle = &vehicleView{
			Plate: claims.Vehicle.Plate,
			Type:  claims.Vehicle.Type,
			Color: claims.Vehicle.Color,
		}
	}
	return view
}
