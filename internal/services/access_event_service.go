package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kodianteach/atlas-platform-sub001/internal/ids"
	"github.com/kodianteach/atlas-platform-sub001/internal/models"
	"github.com/kodianteach/atlas-platform-sub001/pkg/logger"
	"github.com/kodianteach/atlas-platform-sub001/pkg/metrics"
)

const syncBatchSize = 100

// AccessEventService appends to and reads from the access ledger. Rows are never updated
// or deleted once written.
type AccessEventService struct {
	db        *gorm.DB
	publisher EventPublisher
	now       Clock
}

// AccessEventOption customises an AccessEventService.
type AccessEventOption func(*AccessEventService)

// WithEventPublisher forwards committed events, e.g. to the realtime gate feed.
func WithEventPublisher(publisher EventPublisher) AccessEventOption {
	return func(s *AccessEventService) {
		if publisher != nil {
			s.publisher = publisher
		}
	}
}

// WithEventClock overrides the clock used for SyncedAt and default ScannedAt values.
func WithEventClock(clock Clock) AccessEventOption {
	return func(s *AccessEventService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewAccessEventService constructs the ledger service.
func NewAccessEventService(db *gorm.DB, opts ...AccessEventOption) (*AccessEventService, error) {
	if db == nil {
		return nil, errors.New("access event service: db is required")
	}
	svc := &AccessEventService{db: db, publisher: noopPublisher{}, now: systemClock}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// BatchInput carries events validated offline by one porter device.
type BatchInput struct {
	OrganizationID string
	PorterUserID   string
	DeviceID       string
	Events         []models.AccessEvent
}

// EventListOptions filters ledger listings.
type EventListOptions struct {
	Page            int
	PerPage         int
	ScanResult      models.ScanResult
	PorterUserID    string
	DeviceID        string
	AuthorizationID string
	Since           *time.Time
	Until           *time.Time
}

// Append records one online validation. ScannedAt defaults to now.
func (s *AccessEventService) Append(ctx context.Context, event *models.AccessEvent) error {
	ctx = ensureContext(ctx)
	if event == nil {
		return domainError(ErrKindInvalidEvent, "event is required")
	}
	if event.ScannedAt.IsZero() {
		event.ScannedAt = s.now()
	}
	if event.Action == "" {
		event.Action = models.AccessActionEntry
	}
	if err := validateEvent(event); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("access event service: append: %w", err)
	}

	s.publisher.PublishAccessEvents(*event)
	return nil
}

// AppendBatch ingests events validated offline. Every event of the batch shares one
// SyncedAt, is marked offline-validated, and is stamped with the caller's tenant and
// porter. ScannedAt is kept as reported by the device. The batch commits atomically.
func (s *AccessEventService) AppendBatch(ctx context.Context, input BatchInput) ([]models.AccessEvent, error) {
	ctx = ensureContext(ctx)
	if len(input.Events) == 0 {
		return nil, nil
	}

	organizationID := strings.TrimSpace(input.OrganizationID)
	porterID := strings.TrimSpace(input.PorterUserID)
	if organizationID == "" || porterID == "" {
		return nil, domainError(ErrKindInvalidEvent, "organization and porter are required")
	}

	syncedAt := s.now()
	events := make([]models.AccessEvent, len(input.Events))
	for i, incoming := range input.Events {
		event := incoming
		event.ID = ""
		event.OrganizationID = organizationID
		event.PorterUserID = porterID
		if strings.TrimSpace(event.DeviceID) == "" {
			event.DeviceID = strings.TrimSpace(input.DeviceID)
		}
		if event.Action == "" {
			event.Action = models.AccessActionEntry
		}
		event.OfflineValidated = true
		event.SyncedAt = &syncedAt
		event.CreatedAt = time.Time{}

		if event.ScannedAt.IsZero() {
			return nil, domainError(ErrKindInvalidEvent, fmt.Sprintf("event %d: scanned_at is required", i))
		}
		if !ids.ValidEventTime(event.ScannedAt) {
			return nil, domainError(ErrKindInvalidEvent, fmt.Sprintf("event %d: scanned_at is out of range", i))
		}
		if err := validateEvent(&event); err != nil {
			return nil, domainError(ErrKindInvalidEvent, fmt.Sprintf("event %d: %s", i, err.Error()))
		}
		events[i] = event
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := detachForeignAuthorizations(tx, organizationID, events); err != nil {
			return err
		}
		return tx.CreateInBatches(&events, syncBatchSize).Error
	})
	if err != nil {
		return nil, fmt.Errorf("access event service: append batch: %w", err)
	}

	metrics.EventsSynced.Add(float64(len(events)))
	logger.WithTenant("access", organizationID).Info("synchronized offline events",
		zap.String("porter_user_id", porterID),
		zap.String("device_id", input.DeviceID),
		zap.Int("count", len(events)),
	)
	s.publisher.PublishAccessEvents(events...)
	return events, nil
}

// List returns a page of ledger rows, most recent scan first, and the total match count.
func (s *AccessEventService) List(ctx context.Context, organizationID string, opts EventListOptions) ([]models.AccessEvent, int64, error) {
	ctx = ensureContext(ctx)
	page, perPage := normalisePage(opts.Page, opts.PerPage)

	query := s.db.WithContext(ctx).Model(&models.AccessEvent{}).Where("organization_id = ?", organizationID)
	if opts.ScanResult != "" {
		query = query.Where("scan_result = ?", opts.ScanResult)
	}
	if porter := strings.TrimSpace(opts.PorterUserID); porter != "" {
		query = query.Where("porter_user_id = ?", porter)
	}
	if device := strings.TrimSpace(opts.DeviceID); device != "" {
		query = query.Where("device_id = ?", device)
	}
	if authID := strings.TrimSpace(opts.AuthorizationID); authID != "" {
		query = query.Where("authorization_id = ?", authID)
	}
	if opts.Since != nil {
		query = query.Where("scanned_at >= ?", opts.Since.UTC())
	}
	if opts.Until != nil {
		query = query.Where("scanned_at <= ?", opts.Until.UTC())
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("access event service: count: %w", err)
	}

	var events []models.AccessEvent
	err := query.
		Order("scanned_at DESC").
		Order("id DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&events).Error
	if err != nil {
		return nil, 0, fmt.Errorf("access event service: list: %w", err)
	}
	return events, total, nil
}

// detachForeignAuthorizations clears authorization ids that do not name an authorization
// of the organization. The scan itself is still recorded, with a note.
func detachForeignAuthorizations(tx *gorm.DB, organizationID string, events []models.AccessEvent) error {
	wanted := make(map[string]struct{})
	for i := range events {
		if id := events[i].AuthorizationID; id != nil {
			trimmed := strings.TrimSpace(*id)
			if trimmed == "" {
				events[i].AuthorizationID = nil
				continue
			}
			events[i].AuthorizationID = &trimmed
			wanted[trimmed] = struct{}{}
		}
	}
	if len(wanted) == 0 {
		return nil
	}

	candidates := make([]string, 0, len(wanted))
	for id := range wanted {
		candidates = append(candidates, id)
	}
	var known []string
	if err := tx.Model(&models.Authorization{}).
		Where("organization_id = ? AND id IN ?", organizationID, candidates).
		Pluck("id", &known).Error; err != nil {
		return fmt.Errorf("access event service: resolve authorizations: %w", err)
	}
	owned := make(map[string]struct{}, len(known))
	for _, id := range known {
		owned[id] = struct{}{}
	}

	for i := range events {
		id := events[i].AuthorizationID
		if id == nil {
			continue
		}
		if _, ok := owned[*id]; ok {
			continue
		}
		events[i].AuthorizationID = nil
		if events[i].Notes == "" {
			events[i].Notes = notesNotFound
		} else {
			events[i].Notes += "; " + notesNotFound
		}
	}
	return nil
}

func validateEvent(event *models.AccessEvent) error {
	switch {
	case strings.TrimSpace(event.OrganizationID) == "":
		return domainError(ErrKindInvalidEvent, "organization is required")
	case strings.TrimSpace(event.PorterUserID) == "":
		return domainError(ErrKindInvalidEvent, "porter is required")
	case !event.Action.Valid():
		return domainError(ErrKindInvalidEvent, fmt.Sprintf("unknown action %q", event.Action))
	case !event.ScanResult.Valid():
		return domainError(ErrKindInvalidEvent, fmt.Sprintf("unknown scan result %q", event.ScanResult))
	}
	return nil
}
