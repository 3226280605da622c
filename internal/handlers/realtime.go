package handlers

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/kodianteach/atlas-platform-sub001/internal/auth"
	"github.com/kodianteach/atlas-platform-sub001/internal/realtime"
	"github.com/kodianteach/atlas-platform-sub001/internal/services"
	appErrors "github.com/kodianteach/atlas-platform-sub001/pkg/errors"
	"github.com/kodianteach/atlas-platform-sub001/pkg/response"
)

// RealtimeHandler upgrades porter consoles into the organization's live gate feed.
type RealtimeHandler struct {
	hub *realtime.Hub
	jwt *iauth.JWTService
}

// NewRealtimeHandler constructs a realtime handler.
func NewRealtimeHandler(hub *realtime.Hub, jwt *iauth.JWTService) (*RealtimeHandler, error) {
	if hub == nil || jwt == nil {
		return nil, errors.New("realtime handler: hub and jwt service are required")
	}
	return &RealtimeHandler{hub: hub, jwt: jwt}, nil
}

// Feed handles GET /api/access/feed. Browsers cannot set headers on a WebSocket
// handshake, so the token may also arrive as ?token=.
func (h *RealtimeHandler) Feed(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		authz := c.GetHeader("Authorization")
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			token = strings.TrimSpace(authz[7:])
		}
	}
	if token == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	claims, err := h.jwt.ValidateAccessToken(token)
	if err != nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	role := services.Role(strings.ToUpper(claims.Role))
	if role != services.RolePorter && role != services.RoleAdmin {
		response.Error(c, appErrors.ErrForbidden)
		return
	}

	streams := gatherStreams(c)
	for _, stream := range streams {
		if stream != realtime.StreamAccessEvents && stream != realtime.StreamAccessAlerts {
			response.Error(c, appErrors.NewBadRequest("unknown stream "+stream))
			return
		}
	}

	h.hub.Serve(claims.OrganizationID, claims.UserID, streams, c.Writer, c.Request)
}

func gatherStreams(c *gin.Context) []string {
	var streams []string

	for _, queryStream := range c.QueryArray("stream") {
		if normalized := normalizeStream(queryStream); normalized != "" {
			streams = append(streams, normalized)
		}
	}

	if raw := c.Query("streams"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if normalized := normalizeStream(part); normalized != "" {
				streams = append(streams, normalized)
			}
		}
	}

	return uniqueStreams(streams)
}

func normalizeStream(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func uniqueStreams(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
