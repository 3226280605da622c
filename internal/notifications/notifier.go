// Package notifications delivers issued visitor passes to the address supplied at issuance.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/kodianteach/atlas-platform-sub001/internal/models"
	"github.com/kodianteach/atlas-platform-sub001/pkg/mail"
)

const defaultQRSize = 256

// Pass is the data needed to tell a visitor about an issued authorization.
type Pass struct {
	Authorization models.Authorization
	UnitCode      string
	Recipient     string
}

// Notifier sends pass notifications. Implementations may block; callers run them off the request path.
type Notifier interface {
	AuthorizationIssued(ctx context.Context, pass Pass) error
}

// Noop discards every notification.
type Noop struct{}

func (Noop) AuthorizationIssued(context.Context, Pass) error { return nil }

// MailOption customises a MailNotifier.
type MailOption func(*MailNotifier)

// WithQRSize sets the edge length in pixels of the attached QR image.
func WithQRSize(size int) MailOption {
	return func(n *MailNotifier) {
		if size > 0 {
			n.qrSize = size
		}
	}
}

// WithLocation sets the time zone used to render the validity window.
func WithLocation(loc *time.Location) MailOption {
	return func(n *MailNotifier) {
		if loc != nil {
			n.location = loc
		}
	}
}

// MailNotifier emails the signed pass as a QR code attachment.
type MailNotifier struct {
	mailer   mail.Mailer
	qrSize   int
	location *time.Location
}

func NewMailNotifier(mailer mail.Mailer, opts ...MailOption) (*MailNotifier, error) {
	if mailer == nil {
		return nil, errors.New("notifications: mailer is required")
	}
	n := &MailNotifier{mailer: mailer, qrSize: defaultQRSize, location: time.UTC}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// AuthorizationIssued mails the pass. A pass without recipient is skipped.
func (n *MailNotifier) AuthorizationIssued(ctx context.Context, pass Pass) error {
	recipient := strings.TrimSpace(pass.Recipient)
	if recipient == "" {
		return nil
	}

	auth := pass.Authorization
	png, err := qrcode.Encode(auth.SignedQR, qrcode.Medium, n.qrSize)
	if err != nil {
		return fmt.Errorf("notifications: render qr: %w", err)
	}

	msg := mail.Message{
		To:      []string{recipient},
		Subject: fmt.Sprintf("Access pass for %s", auth.PersonName),
		Body:    n.body(pass),
		Attachments: []mail.Attachment{{
			Filename:    "pass-" + auth.ID + ".png",
			ContentType: "image/png",
			Data:        png,
		}},
	}
	if err := n.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("notifications: send pass %s: %w", auth.ID, err)
	}
	return nil
}

func (n *MailNotifier) body(pass Pass) string {
	auth := pass.Authorization
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", auth.PersonName)
	fmt.Fprintf(&b, "You have been granted access")
	if pass.UnitCode != "" {
		fmt.Fprintf(&b, " to unit %s", pass.UnitCode)
	}
	b.WriteString(".\n\n")
	fmt.Fprintf(&b, "Valid from: %s\n", auth.ValidFrom.In(n.location).Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "Valid to:   %s\n", auth.ValidTo.In(n.location).Format("2006-01-02 15:04 MST"))
	if auth.HasVehicle() {
		fmt.Fprintf(&b, "Vehicle:    %s\n", auth.VehiclePlate)
	}
	b.WriteString("\nShow the attached QR code at the gate.\n")
	return b.String()
}
