package notifications

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kodianteach/atlas-platform-sub001/internal/models"
	"github.com/kodianteach/atlas-platform-sub001/pkg/mail"
)

type recordingMailer struct {
	messages []mail.Message
	err      error
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.messages = append(m.messages, msg)
	return m.err
}

func samplePass(recipient string) Pass {
	auth := models.Authorization{
		PersonName:   "Ana Gomez",
		VehiclePlate: "ABC123",
		ValidFrom:    time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC),
		ValidTo:      time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC),
		SignedQR:     "eyJhdXRoSWQiOiJhIn0.c2ln",
	}
	auth.ID = "a-1"
	return Pass{Authorization: auth, UnitCode: "T2-501", Recipient: recipient}
}

func TestMailNotifierSendsQRAttachment(t *testing.T) {
	mailer := &recordingMailer{}
	notifier, err := NewMailNotifier(mailer, WithQRSize(128))
	require.NoError(t, err)

	require.NoError(t, notifier.AuthorizationIssued(context.Background(), samplePass("ana@example.com")))
	require.Len(t, mailer.messages, 1)

	msg := mailer.messages[0]
	require.Equal(t, []string{"ana@example.com"}, msg.To)
	require.Contains(t, msg.Subject, "Ana Gomez")
	require.Contains(t, msg.Body, "T2-501")
	require.Contains(t, msg.Body, "ABC123")
	require.Len(t, msg.Attachments, 1)
	require.Equal(t, "image/png", msg.Attachments[0].ContentType)
	require.True(t, bytes.HasPrefix(msg.Attachments[0].Data, []byte("\x89PNG")))
}

func TestMailNotifierSkipsWithoutRecipient(t *testing.T) {
	mailer := &recordingMailer{}
	notifier, err := NewMailNotifier(mailer)
	require.NoError(t, err)

	require.NoError(t, notifier.AuthorizationIssued(context.Background(), samplePass(" ")))
	require.Empty(t, mailer.messages)
}

func TestMailNotifierWrapsSendErrors(t *testing.T) {
	mailer := &recordingMailer{err: mail.ErrSMTPDisabled}
	notifier, err := NewMailNotifier(mailer)
	require.NoError(t, err)

	err = notifier.AuthorizationIssued(context.Background(), samplePass("ana@example.com"))
	require.True(t, errors.Is(err, mail.ErrSMTPDisabled))
}

func TestNewMailNotifierRequiresMailer(t *testing.T) {
	_, err := NewMailNotifier(nil)
	require.Error(t, err)
}
