package services

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	apperrors "github.com/kodianteach/atlas-platform-sub001/pkg/errors"
)

// ErrorKind is the closed set of machine readable domain error codes. Callers switch on
// the kind; the accompanying message is for display only.
type ErrorKind string

const (
	ErrKindMissingDates          ErrorKind = "MISSING_DATES"
	ErrKindInvalidDateRange      ErrorKind = "INVALID_DATE_RANGE"
	ErrKindPastStartDate         ErrorKind = "PAST_START_DATE"
	ErrKindInvalidSubject        ErrorKind = "INVALID_SUBJECT"
	ErrKindUserUnitNotFound      ErrorKind = "USER_UNIT_NOT_FOUND"
	ErrKindUnitNotFound          ErrorKind = "UNIT_NOT_FOUND"
	ErrKindDocumentStorageFailed ErrorKind = "DOCUMENT_STORAGE_FAILED"
	ErrKindDocumentUnavailable   ErrorKind = "DOCUMENT_UNAVAILABLE"
	ErrKindMalformat             ErrorKind = "MALFORMAT"
	ErrKindKeyNotFound           ErrorKind = "KEY_NOT_FOUND"
	ErrKindUnknownKey            ErrorKind = "UNKNOWN_KEY"
	ErrKindNotActive             ErrorKind = "NOT_ACTIVE"
	ErrKindForbidden             ErrorKind = "FORBIDDEN"
	ErrKindAuthorizationNotFound ErrorKind = "AUTHORIZATION_NOT_FOUND"
	ErrKindAuthorizationExpired  ErrorKind = "AUTHORIZATION_EXPIRED"
	ErrKindInvalidEvent          ErrorKind = "INVALID_EVENT"
)

var kindStatus = map[ErrorKind]int{
	ErrKindMissingDates:          http.StatusBadRequest,
	ErrKindInvalidDateRange:      http.StatusBadRequest,
	ErrKindPastStartDate:         http.StatusBadRequest,
	ErrKindInvalidSubject:        http.StatusBadRequest,
	ErrKindUserUnitNotFound:      http.StatusUnprocessableEntity,
	ErrKindUnitNotFound:          http.StatusNotFound,
	ErrKindDocumentStorageFailed: http.StatusBadGateway,
	ErrKindDocumentUnavailable:   http.StatusNotFound,
	ErrKindMalformat:             http.StatusBadRequest,
	ErrKindKeyNotFound:           http.StatusNotFound,
	ErrKindUnknownKey:            http.StatusNotFound,
	ErrKindNotActive:             http.StatusConflict,
	ErrKindForbidden:             http.StatusForbidden,
	ErrKindAuthorizationNotFound: http.StatusNotFound,
	ErrKindAuthorizationExpired:  http.StatusConflict,
	ErrKindInvalidEvent:          http.StatusBadRequest,
}

// domainError builds the AppError for kind with a display message.
func domainError(kind ErrorKind, message string) *apperrors.AppError {
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return apperrors.New(string(kind), message, status)
}

// KindOf returns the domain kind carried by err, or "" when err is not a domain error.
func KindOf(err error) ErrorKind {
	kind := ErrorKind(apperrors.CodeOf(err))
	if _, ok := kindStatus[kind]; ok {
		return kind
	}
	return ""
}

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique constraint") || strings.Contains(lower, "duplicate")
}
