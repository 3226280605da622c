package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kodianteach/atlas-platform-sub001/internal/models"
	"github.com/kodianteach/atlas-platform-sub001/internal/passes"
	"github.com/kodianteach/atlas-platform-sub001/internal/signing"
	"github.com/kodianteach/atlas-platform-sub001/pkg/logger"
	"github.com/kodianteach/atlas-platform-sub001/pkg/metrics"
	"github.com/kodianteach/atlas-platform-sub001/pkg/validator"
)

const (
	notesInvalidSignature   = "invalid signature"
	notesMalformedPayload   = "malformed payload"
	notesNotYetValid        = "not yet valid"
	notesExpired            = "expired"
	notesRevoked            = "revoked"
	notesNotFound           = "authorization not found"
	notesDocumentValidation = "document verification"
)

// AccessValidationService validates scanned passes at the gate and records the outcome
// in the access ledger.
type AccessValidationService struct {
	db     *gorm.DB
	keys   *KeyStore
	events *AccessEventService
	now    Clock
}

// AccessValidationOption customises an AccessValidationService.
type AccessValidationOption func(*AccessValidationService)

func WithValidationClock(clock Clock) AccessValidationOption {
	return func(s *AccessValidationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewAccessValidationService constructs the validation engine.
func NewAccessValidationService(db *gorm.DB, keys *KeyStore, events *AccessEventService, opts ...AccessValidationOption) (*AccessValidationService, error) {
	if db == nil {
		return nil, errors.New("access validation service: db is required")
	}
	if keys == nil || events == nil {
		return nil, errors.New("access validation service: key store and event service are required")
	}
	svc := &AccessValidationService{db: db, keys: keys, events: events, now: systemClock}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// ValidateInput is one scan at a gate.
type ValidateInput struct {
	OrganizationID string
	PorterUserID   string
	DeviceID       string
	Token          string
	Action         models.AccessAction
	ObservedPlate  string
}

// ValidationResult is the recorded outcome. Claims is nil when the payload could not be trusted.
type ValidationResult struct {
	ScanResult models.ScanResult
	Event      *models.AccessEvent
	Claims     *passes.Claims
}

// DocumentEntryInput records a gate entry admitted by identity document instead of a token.
type DocumentEntryInput struct {
	OrganizationID  string
	PorterUserID    string
	DeviceID        string
	AuthorizationID string
	Action          models.AccessAction
	ObservedPlate   string
}

// Validate checks a scanned token and appends exactly one ledger row for it. Checks run
// in order: signature, validity window, revocation. A token that cannot be parsed at all,
// or a tenant without any signing key, is reported as an error and leaves no ledger row.
func (s *AccessValidationService) Validate(ctx context.Context, input ValidateInput) (*ValidationResult, error) {
	ctx = ensureContext(ctx)
	log := logger.WithTenant("access", input.OrganizationID)

	payload, signature, err := passes.Split(strings.TrimSpace(input.Token))
	if err != nil {
		metrics.Validations.WithLabelValues("error").Inc()
		return nil, domainError(ErrKindMalformat, "token is malformed")
	}

	hasKeys, err := s.keys.HasKeys(ctx, input.OrganizationID)
	if err != nil {
		return nil, err
	}
	if !hasKeys {
		metrics.Validations.WithLabelValues("error").Inc()
		return nil, domainError(ErrKindKeyNotFound, "organization has no signing key")
	}

	event := &models.AccessEvent{
		OrganizationID: input.OrganizationID,
		PorterUserID:   input.PorterUserID,
		DeviceID:       strings.TrimSpace(input.DeviceID),
		Action:         input.Action,
		ScannedAt:      s.now().UTC(),
	}
	if event.Action == "" {
		event.Action = models.AccessActionEntry
	}

	claims, notes, err := s.verify(ctx, input.OrganizationID, payload, signature)
	if err != nil {
		return nil, err
	}
	if claims == nil {
		event.ScanResult = models.ScanResultInvalid
		event.Notes = notes
		return s.record(ctx, event, nil)
	}

	event.AuthorizationID = stringPtr(claims.AuthorizationID)
	event.PersonName = claims.PersonName
	event.PersonDocument = claims.PersonDocument
	if claims.Vehicle != nil {
		event.VehiclePlate = claims.Vehicle.Plate
	}
	if observed := validator.NormalizePlate(input.ObservedPlate); observed != "" {
		match := claims.Vehicle != nil && validator.NormalizePlate(claims.Vehicle.Plate) == observed
		event.VehicleMatch = &match
	}

	switch {
	case event.ScannedAt.Before(claims.ValidFrom):
		event.ScanResult = models.ScanResultExpired
		event.Notes = notesNotYetValid
		return s.record(ctx, event, claims)
	case event.ScannedAt.After(claims.ValidTo):
		event.ScanResult = models.ScanResultExpired
		event.Notes = notesExpired
		return s.record(ctx, event, claims)
	}

	var auth models.Authorization
	err = s.db.WithContext(ctx).
		Select("id", "status").
		Where("id = ? AND organization_id = ?", claims.AuthorizationID, input.OrganizationID).
		Take(&auth).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		event.ScanResult = models.ScanResultInvalid
		event.Notes = notesNotFound
	case err != nil:
		return nil, fmt.Errorf("access validation service: load authorization: %w", err)
	case auth.Status == models.AuthorizationStatusRevoked:
		event.ScanResult = models.ScanResultRevoked
		event.Notes = notesRevoked
	default:
		event.ScanResult = models.ScanResultValid
	}

	log.Debug("validated pass",
		zap.String("authorization_id", claims.AuthorizationID),
		zap.String("result", string(event.ScanResult)),
	)
	return s.record(ctx, event, claims)
}

// FindByDocument lists the organization's ACTIVE authorizations for a person document
// that have not yet expired, earliest start first.
func (s *AccessValidationService) FindByDocument(ctx context.Context, organizationID, document string) ([]models.Authorization, error) {
	document = strings.TrimSpace(document)
	if document == "" {
		return nil, domainError(ErrKindInvalidSubject, "document is required")
	}

	var auths []models.Authorization
	err := s.db.WithContext(ensureContext(ctx)).
		Where("organization_id = ? AND person_document = ? AND status = ? AND valid_to >= ?",
			organizationID, document, models.AuthorizationStatusActive, s.now().UTC()).
		Order("valid_from ASC").
		Find(&auths).Error
	if err != nil {
		return nil, fmt.Errorf("access validation service: find by document: %w", err)
	}
	return auths, nil
}

// RecordDocumentEntry appends a VALID ledger row for an authorization verified by document.
func (s *AccessValidationService) RecordDocumentEntry(ctx context.Context, input DocumentEntryInput) (*models.AccessEvent, error) {
	ctx = ensureContext(ctx)
	now := s.now().UTC()

	var auth models.Authorization
	err := s.db.WithContext(ctx).
		Where("id = ? AND organization_id = ?", strings.TrimSpace(input.AuthorizationID), input.OrganizationID).
		Take(&auth).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domainError(ErrKindAuthorizationNotFound, "authorization not found")
	}
	if err != nil {
		return nil, fmt.Errorf("access validation service: load authorization: %w", err)
	}
	if auth.Status != models.AuthorizationStatusActive {
		return nil, domainError(ErrKindNotActive, "authorization is not active")
	}
	if now.After(auth.ValidTo) {
		return nil, domainError(ErrKindAuthorizationExpired, "authorization has expired")
	}

	event := &models.AccessEvent{
		OrganizationID:  input.OrganizationID,
		AuthorizationID: stringPtr(auth.ID),
		PorterUserID:    input.PorterUserID,
		DeviceID:        strings.TrimSpace(input.DeviceID),
		Action:          input.Action,
		ScanResult:      models.ScanResultValid,
		PersonName:      auth.PersonName,
		PersonDocument:  auth.PersonDocument,
		VehiclePlate:    auth.VehiclePlate,
		Notes:           notesDocumentValidation,
		ScannedAt:       now,
	}
	if event.Action == "" {
		event.Action = models.AccessActionEntry
	}
	if observed := validator.NormalizePlate(input.ObservedPlate); observed != "" {
		match := auth.VehiclePlate == observed
		event.VehicleMatch = &match
	}

	if err := s.events.Append(ctx, event); err != nil {
		return nil, err
	}
	metrics.Validations.WithLabelValues(string(event.ScanResult)).Inc()
	return event, nil
}

// verify returns decoded claims when the signature holds, otherwise nil claims and the
// ledger notes explaining the rejection. Only infrastructure failures are returned as errors.
func (s *AccessValidationService) verify(ctx context.Context, organizationID string, payload, signature []byte) (*passes.Claims, string, error) {
	key, err := s.keys.GetVerificationKey(ctx, organizationID, passes.PeekKeyID(payload))
	if err != nil {
		if KindOf(err) == ErrKindUnknownKey {
			return nil, notesInvalidSignature, nil
		}
		return nil, "", err
	}

	if !signing.Verify(payload, signature, key.PublicKey) {
		return nil, notesInvalidSignature, nil
	}

	claims, err := passes.Decode(payload)
	if err != nil {
		return nil, notesMalformedPayload, nil
	}
	if claims.OrganizationID != organizationID || claims.KeyID != key.KeyID {
		return nil, notesInvalidSignature, nil
	}
	return &claims, "", nil
}

func (s *AccessValidationService) record(ctx context.Context, event *models.AccessEvent, claims *passes.Claims) (*ValidationResult, error) {
	if err := s.events.Append(ctx, event); err != nil {
		return nil, err
	}
	metrics.Validations.WithLabelValues(string(event.ScanResult)).Inc()
	return &ValidationResult{ScanResult: event.ScanResult, Event: event, Claims: claims}, nil
}
