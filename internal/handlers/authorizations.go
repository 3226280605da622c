package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/kodianteach/atlas-platform-sub001/internal/models"
	"github.com/kodianteach/atlas-platform-sub001/internal/services"
	appErrors "github.com/kodianteach/atlas-platform-sub001/pkg/errors"
	"github.com/kodianteach/atlas-platform-sub001/pkg/response"
)

const (
	identityDocumentField    = "identity_document"
	maxIdentityDocumentBytes = 5 << 20
	defaultQRSize            = 256
)

// AuthorizationHandler exposes visitor pass issuance and management.
type AuthorizationHandler struct {
	svc    *services.AuthorizationService
	qrSize int
}

// NewAuthorizationHandler constructs an AuthorizationHandler. qrSize is the PNG edge in
// pixels; non-positive values fall back to 256.
func NewAuthorizationHandler(svc *services.AuthorizationService, qrSize int) (*AuthorizationHandler, error) {
	if svc == nil {
		return nil, errors.New("authorization handler: service is required")
	}
	if qrSize <= 0 {
		qrSize = defaultQRSize
	}
	return &AuthorizationHandler{svc: svc, qrSize: qrSize}, nil
}

type issueAuthorizationRequest struct {
	UnitID         string    `json:"unit_id" form:"unit_id" validate:"omitempty,max=64"`
	PersonName     string    `json:"person_name" form:"person_name" validate:"max=255"`
	PersonDocument string    `json:"person_document" form:"person_document" validate:"max=64"`
	ServiceType    string    `json:"service_type" form:"service_type" validate:"omitempty,max=32"`
	VehiclePlate   string    `json:"vehicle_plate" form:"vehicle_plate" validate:"omitempty,plate"`
	VehicleType    string    `json:"vehicle_type" form:"vehicle_type" validate:"omitempty,max=32"`
	VehicleColor   string    `json:"vehicle_color" form:"vehicle_color" validate:"omitempty,max=32"`
	NotifyEmail    string    `json:"notify_email" form:"notify_email" validate:"omitempty,email"`
	ValidFrom      time.Time `json:"valid_from" form:"valid_from"`
	ValidTo        time.Time `json:"valid_to" form:"valid_to"`
}

// Issue handles POST /api/authorizations. JSON and multipart bodies are accepted; the
// multipart form may carry the visitor's identity document scan.
func (h *AuthorizationHandler) Issue(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req issueAuthorizationRequest
	var document *services.IdentityDocument
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if !bindFormAndValidate(c, &req) {
			return
		}
		var err error
		if document, err = readIdentityDocument(c); err != nil {
			response.Error(c, err)
			return
		}
	} else if !bindAndValidate(c, &req) {
		return
	}

	auth, err := h.svc.Issue(requestContext(c), actor, services.IssueInput{
		UnitID:           req.UnitID,
		PersonName:       req.PersonName,
		PersonDocument:   req.PersonDocument,
		ServiceType:      models.ServiceType(req.ServiceType),
		VehiclePlate:     req.VehiclePlate,
		VehicleType:      req.VehicleType,
		VehicleColor:     req.VehicleColor,
		NotifyEmail:      req.NotifyEmail,
		ValidFrom:        req.ValidFrom,
		ValidTo:          req.ValidTo,
		IdentityDocument: document,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, auth)
}

// List handles GET /api/authorizations.
func (h *AuthorizationHandler) List(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	page, perPage := pageParams(c)
	status := models.AuthorizationStatus(strings.ToUpper(strings.TrimSpace(c.Query("status"))))
	if status != "" && status != models.AuthorizationStatusActive && status != models.AuthorizationStatusRevoked {
		response.Error(c, appErrors.NewBadRequest("status must be one of: ACTIVE, REVOKED"))
		return
	}

	auths, total, err := h.svc.List(requestContext(c), actor, services.AuthorizationListOptions{
		Page:            page,
		PerPage:         perPage,
		UnitID:          c.Query("unit_id"),
		Status:          status,
		CreatedByUserID: c.Query("created_by"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, auths, response.NewMeta(page, perPage, total))
}

// Get handles GET /api/authorizations/:id.
func (h *AuthorizationHandler) Get(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	auth, err := h.svc.Get(requestContext(c), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, auth)
}

// QR handles GET /api/authorizations/:id/qr and renders the signed token as a PNG.
func (h *AuthorizationHandler) QR(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	auth, err := h.svc.Get(requestContext(c), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	png, err := qrcode.Encode(auth.SignedQR, qrcode.Medium, h.qrSize)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", "pass-"+auth.ID+".png"))
	c.Data(http.StatusOK, "image/png", png)
}

// Document handles GET /api/authorizations/:id/document.
func (h *AuthorizationHandler) Document(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	doc, err := h.svc.IdentityDocument(requestContext(c), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("Content-Disposition", "inline")
	c.Data(http.StatusOK, doc.ContentType, doc.Data)
}

// Revoke handles POST /api/authorizations/:id/revoke.
func (h *AuthorizationHandler) Revoke(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	auth, err := h.svc.Revoke(requestContext(c), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, auth)
}

func readIdentityDocument(c *gin.Context) (*services.IdentityDocument, error) {
	header, err := c.FormFile(identityDocumentField)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, appErrors.NewBadRequest("identity document could not be read")
	}
	if header.Size > maxIdentityDocumentBytes {
		return nil, appErrors.NewBadRequest(fmt.Sprintf("identity document must be at most %d bytes", maxIdentityDocumentBytes))
	}

	file, err := header.Open()
	if err != nil {
		return nil, appErrors.NewBadRequest("identity document could not be read")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxIdentityDocumentBytes+1))
	if err != nil {
		return nil, appErrors.NewBadRequest("identity document could not be read")
	}
	if len(data) == 0 {
		return nil, appErrors.NewBadRequest("identity document is empty")
	}
	if len(data) > maxIdentityDocumentBytes {
		return nil, appErrors.NewBadRequest(fmt.Sprintf("identity document must be at most %d bytes", maxIdentityDocumentBytes))
	}

	contentType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return &services.IdentityDocument{Data: data, ContentType: contentType}, nil
}
