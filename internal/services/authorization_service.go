package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kodianteach/atlas-platform-sub001/internal/blobstore"
	"github.com/kodianteach/atlas-platform-sub001/internal/models"
	"github.com/kodianteach/atlas-platform-sub001/internal/notifications"
	"github.com/kodianteach/atlas-platform-sub001/internal/passes"
	"github.com/kodianteach/atlas-platform-sub001/internal/signing"
	"github.com/kodianteach/atlas-platform-sub001/pkg/logger"
	"github.com/kodianteach/atlas-platform-sub001/pkg/metrics"
	"github.com/kodianteach/atlas-platform-sub001/pkg/validator"
)

const (
	defaultClockSkew    = 60 * time.Second
	notificationTimeout = 30 * time.Second
)

// UnitDirectory resolves units. FindByID returns nil without error when the unit does not exist.
type UnitDirectory interface {
	FindByID(ctx context.Context, id string) (*models.Unit, error)
}

// MembershipDirectory resolves a user's primary unit, "" when the user has none.
type MembershipDirectory interface {
	FindPrimaryUnit(ctx context.Context, userID string) (string, error)
}

// AuthorizationService issues, reads and revokes visitor authorizations.
type AuthorizationService struct {
	db          *gorm.DB
	keys        *KeyStore
	units       UnitDirectory
	memberships MembershipDirectory
	documents   blobstore.Store
	notifier    notifications.Notifier
	now         Clock
	clockSkew   time.Duration
}

// AuthorizationOption customises an AuthorizationService.
type AuthorizationOption func(*AuthorizationService)

func WithAuthorizationClock(clock Clock) AuthorizationOption {
	return func(s *AuthorizationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithClockSkew sets how far in the past a validFrom may lie. Negative values are ignored.
func WithClockSkew(skew time.Duration) AuthorizationOption {
	return func(s *AuthorizationService) {
		if skew >= 0 {
			s.clockSkew = skew
		}
	}
}

func WithDocumentStore(store blobstore.Store) AuthorizationOption {
	return func(s *AuthorizationService) {
		s.documents = store
	}
}

func WithNotifier(notifier notifications.Notifier) AuthorizationOption {
	return func(s *AuthorizationService) {
		if notifier != nil {
			s.notifier = notifier
		}
	}
}

// NewAuthorizationService constructs the issuance service.
func NewAuthorizationService(db *gorm.DB, keys *KeyStore, units UnitDirectory, memberships MembershipDirectory, opts ...AuthorizationOption) (*AuthorizationService, error) {
	if db == nil {
		return nil, errors.New("authorization service: db is required")
	}
	if keys == nil {
		return nil, errors.New("authorization service: key store is required")
	}
	if units == nil || memberships == nil {
		return nil, errors.New("authorization service: unit and membership directories are required")
	}

	svc := &AuthorizationService{
		db:          db,
		keys:        keys,
		units:       units,
		memberships: memberships,
		notifier:    notifications.Noop{},
		now:         systemClock,
		clockSkew:   defaultClockSkew,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// IdentityDocument is an uploaded scan of the visitor's identity document.
type IdentityDocument struct {
	Data        []byte
	ContentType string
}

// IssueInput describes the pass a resident asks for. UnitID defaults to the resident's
// primary unit.
type IssueInput struct {
	UnitID           string
	PersonName       string
	PersonDocument   string
	ServiceType      models.ServiceType
	VehiclePlate     string
	VehicleType      string
	VehicleColor     string
	NotifyEmail      string
	ValidFrom        time.Time
	ValidTo          time.Time
	IdentityDocument *IdentityDocument
}

// AuthorizationListOptions filters authorization listings.
type AuthorizationListOptions struct {
	Page            int
	PerPage         int
	UnitID          string
	Status          models.AuthorizationStatus
	CreatedByUserID string
}

// Issue validates the request, signs a pass with the tenant's active key and persists it
// as ACTIVE. The pass is emailed afterwards when a notification address is supplied;
// delivery problems never fail issuance.
func (s *AuthorizationService) Issue(ctx context.Context, actor Actor, input IssueInput) (*models.Authorization, error) {
	ctx = ensureContext(ctx)
	now := s.now().UTC()

	validFrom, validTo, err := s.checkWindow(now, input.ValidFrom, input.ValidTo)
	if err != nil {
		return nil, err
	}

	personName := strings.TrimSpace(input.PersonName)
	personDocument := strings.TrimSpace(input.PersonDocument)
	serviceType := models.ServiceType(strings.ToUpper(strings.TrimSpace(string(input.ServiceType))))
	switch {
	case personName == "":
		return nil, domainError(ErrKindInvalidSubject, "person name is required")
	case personDocument == "":
		return nil, domainError(ErrKindInvalidSubject, "person document is required")
	case !serviceType.Valid():
		return nil, domainError(ErrKindInvalidSubject, fmt.Sprintf("unknown service type %q", input.ServiceType))
	}

	unit, err := s.resolveUnit(ctx, actor, input.UnitID)
	if err != nil {
		return nil, err
	}

	auth := &models.Authorization{
		OrganizationID:  actor.OrganizationID,
		UnitID:          unit.ID,
		PersonName:      personName,
		PersonDocument:  personDocument,
		ServiceType:     serviceType,
		NotifyEmail:     strings.TrimSpace(input.NotifyEmail),
		ValidFrom:       validFrom,
		ValidTo:         validTo,
		Status:          models.AuthorizationStatusActive,
		CreatedByUserID: actor.UserID,
	}
	auth.ID = uuid.NewString()
	if plate := validator.NormalizePlate(input.VehiclePlate); plate != "" {
		auth.VehiclePlate = plate
		auth.VehicleType = strings.TrimSpace(input.VehicleType)
		auth.VehicleColor = strings.TrimSpace(input.VehicleColor)
	}

	if doc := input.IdentityDocument; doc != nil && len(doc.Data) > 0 {
		if s.documents == nil {
			return nil, domainError(ErrKindDocumentStorageFailed, "identity document storage is not configured")
		}
		docKey, err := s.documents.Store(ctx, blobstore.DocumentKey(auth.OrganizationID, auth.ID), doc.Data, doc.ContentType)
		if err != nil {
			logger.WithTenant("authorizations", auth.OrganizationID).Error("failed to store identity document",
				zap.String("authorization_id", auth.ID), zap.Error(err))
			return nil, domainError(ErrKindDocumentStorageFailed, "failed to store identity document").WithInternal(err)
		}
		auth.IdentityDocumentKey = docKey
		auth.IdentityDocumentContentType = doc.ContentType
	}

	key, err := s.keys.GetOrCreateActiveKey(ctx, auth.OrganizationID)
	if err != nil {
		s.discardDocument(ctx, auth)
		return nil, err
	}
	seed, err := s.keys.PrivateKey(key)
	if err != nil {
		s.discardDocument(ctx, auth)
		return nil, err
	}

	claims := passes.Claims{
		AuthorizationID: auth.ID,
		OrganizationID:  auth.OrganizationID,
		UnitCode:        unit.Code,
		PersonName:      auth.PersonName,
		PersonDocument:  auth.PersonDocument,
		ServiceType:     string(auth.ServiceType),
		ValidFrom:       auth.ValidFrom,
		ValidTo:         auth.ValidTo,
		IssuedAt:        now,
		KeyID:           key.KeyID,
	}
	if auth.HasVehicle() {
		claims.Vehicle = &passes.Vehicle{Plate: auth.VehiclePlate, Type: auth.VehicleType, Color: auth.VehicleColor}
	}

	payload, err := passes.Encode(claims)
	if err != nil {
		s.discardDocument(ctx, auth)
		return nil, fmt.Errorf("authorization service: encode claims: %w", err)
	}
	signature, err := signing.Sign(payload, seed)
	if err != nil {
		s.discardDocument(ctx, auth)
		return nil, fmt.Errorf("authorization service: sign: %w", err)
	}
	auth.SignedQR = passes.Assemble(payload, signature)

	if err := s.db.WithContext(ctx).Create(auth).Error; err != nil {
		s.discardDocument(ctx, auth)
		return nil, fmt.Errorf("authorization service: persist: %w", err)
	}

	metrics.AuthorizationsIssued.WithLabelValues(string(auth.ServiceType)).Inc()
	logger.WithTenant("authorizations", auth.OrganizationID).Info("authorization issued",
		zap.String("authorization_id", auth.ID),
		zap.String("unit_id", auth.UnitID),
		zap.String("kid", key.KeyID),
	)
	s.notify(ctx, *auth, unit.Code)
	return auth, nil
}

// discardDocument removes the document of an authorization that failed to persist.
func (s *AuthorizationService) discardDocument(ctx context.Context, auth *models.Authorization) {
	if auth.IdentityDocumentKey == "" || s.documents == nil {
		return
	}
	if err := s.documents.Delete(ctx, auth.IdentityDocumentKey); err != nil {
		logger.WithTenant("authorizations", auth.OrganizationID).Warn("failed to discard identity document",
			zap.String("authorization_id", auth.ID),
			zap.String("key", auth.IdentityDocumentKey),
			zap.Error(err),
		)
	}
}

// Get returns an authorization of the actor's organization.
func (s *AuthorizationService) Get(ctx context.Context, actor Actor, id string) (*models.Authorization, error) {
	var auth models.Authorization
	err := s.db.WithContext(ensureContext(ctx)).
		Where("id = ? AND organization_id = ?", strings.TrimSpace(id), actor.OrganizationID).
		Take(&auth).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domainError(ErrKindAuthorizationNotFound, "authorization not found")
	}
	if err != nil {
		return nil, fmt.Errorf("authorization service: load: %w", err)
	}
	if actor.Role == RoleResident && auth.CreatedByUserID != actor.UserID {
		return nil, domainError(ErrKindAuthorizationNotFound, "authorization not found")
	}
	return &auth, nil
}

// List returns a page of the organization's authorizations, newest first. Residents only
// see the passes they issued.
func (s *AuthorizationService) List(ctx context.Context, actor Actor, opts AuthorizationListOptions) ([]models.Authorization, int64, error) {
	ctx = ensureContext(ctx)
	page, perPage := normalisePage(opts.Page, opts.PerPage)

	query := s.db.WithContext(ctx).Model(&models.Authorization{}).Where("organization_id = ?", actor.OrganizationID)
	createdBy := strings.TrimSpace(opts.CreatedByUserID)
	if actor.Role == RoleResident {
		createdBy = actor.UserID
	}
	if createdBy != "" {
		query = query.Where("created_by_user_id = ?", createdBy)
	}
	if unitID := strings.TrimSpace(opts.UnitID); unitID != "" {
		query = query.Where("unit_id = ?", unitID)
	}
	if opts.Status != "" {
		query = query.Where("status = ?", opts.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("authorization service: count: %w", err)
	}

	var auths []models.Authorization
	err := query.Order("created_at DESC").Offset((page - 1) * perPage).Limit(perPage).Find(&auths).Error
	if err != nil {
		return nil, 0, fmt.Errorf("authorization service: list: %w", err)
	}
	return auths, total, nil
}

// Revoke permanently deactivates an ACTIVE authorization. Only its creator or an
// organization admin may revoke it.
func (s *AuthorizationService) Revoke(ctx context.Context, actor Actor, id string) (*models.Authorization, error) {
	ctx = ensureContext(ctx)

	var auth models.Authorization
	err := s.db.WithContext(ctx).
		Where("id = ? AND organization_id = ?", strings.TrimSpace(id), actor.OrganizationID).
		Take(&auth).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domainError(ErrKindAuthorizationNotFound, "authorization not found")
	}
	if err != nil {
		return nil, fmt.Errorf("authorization service: load: %w", err)
	}

	if auth.CreatedByUserID != actor.UserID && !actor.IsAdmin() {
		return nil, domainError(ErrKindForbidden, "only the issuer or an administrator may revoke this authorization")
	}
	if auth.Status != models.AuthorizationStatusActive {
		return nil, domainError(ErrKindNotActive, "authorization is not active")
	}

	revokedAt := s.now().UTC()
	revokedBy := actor.UserID
	result := s.db.WithContext(ctx).Model(&models.Authorization{}).
		Where("id = ? AND status = ?", auth.ID, models.AuthorizationStatusActive).
		Updates(map[string]any{
			"status":     models.AuthorizationStatusRevoked,
			"revoked_at": revokedAt,
			"revoked_by": revokedBy,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("authorization service: revoke: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, domainError(ErrKindNotActive, "authorization is not active")
	}

	auth.Status = models.AuthorizationStatusRevoked
	auth.RevokedAt = &revokedAt
	auth.RevokedBy = &revokedBy

	metrics.AuthorizationsRevoked.Inc()
	logger.WithTenant("authorizations", auth.OrganizationID).Info("authorization revoked",
		zap.String("authorization_id", auth.ID),
		zap.String("revoked_by", revokedBy),
	)
	return &auth, nil
}

// IdentityDocument returns the stored identity document of an authorization.
func (s *AuthorizationService) IdentityDocument(ctx context.Context, actor Actor, id string) (*IdentityDocument, error) {
	auth, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if auth.IdentityDocumentKey == "" || s.documents == nil {
		return nil, domainError(ErrKindDocumentUnavailable, "no identity document on file")
	}

	data, contentType, err := s.documents.Retrieve(ensureContext(ctx), auth.IdentityDocumentKey)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, domainError(ErrKindDocumentUnavailable, "identity document is no longer available")
	}
	if err != nil {
		return nil, domainError(ErrKindDocumentUnavailable, "identity document could not be retrieved").WithInternal(err)
	}
	if contentType == "" {
		contentType = auth.IdentityDocumentContentType
	}
	return &IdentityDocument{Data: data, ContentType: contentType}, nil
}

// CountActive returns the number of ACTIVE authorizations not yet past their window.
func (s *AuthorizationService) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ensureContext(ctx)).Model(&models.Authorization{}).
		Where("status = ? AND valid_to >= ?", models.AuthorizationStatusActive, s.now().UTC()).
		Count(&count).Error
	return count, err
}

func (s *AuthorizationService) checkWindow(now, from, to time.Time) (time.Time, time.Time, error) {
	if from.IsZero() || to.IsZero() {
		return time.Time{}, time.Time{}, domainError(ErrKindMissingDates, "valid_from and valid_to are required")
	}
	from = from.UTC().Truncate(time.Second)
	to = to.UTC().Truncate(time.Second)
	if !to.After(from) {
		return time.Time{}, time.Time{}, domainError(ErrKindInvalidDateRange, "valid_to must be after valid_from")
	}
	if from.Before(now.Add(-s.clockSkew).Truncate(time.Second)) {
		return time.Time{}, time.Time{}, domainError(ErrKindPastStartDate, "valid_from is in the past")
	}
	return from, to, nil
}

func (s *AuthorizationService) resolveUnit(ctx context.Context, actor Actor, unitID string) (*models.Unit, error) {
	unitID = strings.TrimSpace(unitID)
	if unitID == "" {
		primary, err := s.memberships.FindPrimaryUnit(ctx, actor.UserID)
		if err != nil {
			return nil, fmt.Errorf("authorization service: resolve primary unit: %w", err)
		}
		if primary == "" {
			return nil, domainError(ErrKindUserUnitNotFound, "user has no primary unit")
		}
		unitID = primary
	}

	unit, err := s.units.FindByID(ctx, unitID)
	if err != nil {
		return nil, fmt.Errorf("authorization service: resolve unit: %w", err)
	}
	if unit == nil || unit.OrganizationID != actor.OrganizationID {
		return nil, domainError(ErrKindUnitNotFound, "unit not found")
	}
	return unit, nil
}

func (s *AuthorizationService) notify(ctx context.Context, auth models.Authorization, unitCode string) {
	if auth.NotifyEmail == "" {
		return
	}
	pass := notifications.Pass{Authorization: auth, UnitCode: unitCode, Recipient: auth.NotifyEmail}
	go func() {
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notificationTimeout)
		defer cancel()
		if err := s.notifier.AuthorizationIssued(notifyCtx, pass); err != nil {
			metrics.NotificationFailures.WithLabelValues("email").Inc()
			logger.WithTenant("authorizations", auth.OrganizationID).Warn("failed to deliver pass notification",
				zap.String("authorization_id", auth.ID), zap.Error(err))
		}
	}()
}
