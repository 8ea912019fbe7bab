package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/sirupsen/logrus"
	"github.com/studentrooms/booking-backend/internal/config"
	"github.com/studentrooms/booking-backend/internal/models"
	gomail "gopkg.in/gomail.v2"
)

// Notifier sends the best-effort side effects of the booking flow. Failures
// are logged by the implementation and never reach the caller.
type Notifier interface {
	BookingConfirmed(ctx context.Context, event *models.BookingConfirmedEvent)
	PaymentFailed(ctx context.Context, notice PaymentFailureNotice)
	OperatorAlert(ctx context.Context, subject string, err error, fields map[string]interface{})
}

// PaymentFailureNotice describes a denied payment
type PaymentFailureNotice struct {
	GuestEmail    string
	GuestName     string
	RoomID        string
	Semester      models.Semester
	Year          string
	CorrelationID string
	Reason        string
}

// MailSender is satisfied by *gomail.Dialer
type MailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EventPublisher is satisfied by *queue.Publisher
type EventPublisher interface {
	PublishBookingConfirmed(ctx context.Context, event *models.BookingConfirmedEvent) error
}

var (
	confirmationTemplate = template.Must(template.New("confirmation").Parse(`<p>Hi {{.GuestName}},</p>
<p>Your booking for <strong>{{.RoomTitle}}</strong> ({{.Semester}} {{.Year}}) is recorded with status <strong>{{.Status}}</strong>.</p>
<p>Booking reference: {{.CorrelationID}}<br>Cancellation key: <code>{{.CancellationKey}}</code></p>
<p>Keep the cancellation key; it is required to cancel this booking.</p>`))

	failureTemplate = template.Must(template.New("failure").Parse(`<p>Hi {{.Notice.GuestName}},</p>
<p>Your payment for {{.Notice.Semester}} {{.Notice.Year}} could not be completed{{if .Notice.Reason}} ({{.Notice.Reason}}){{end}}.</p>
<p>You can try again here: <a href="{{.RenewalURL}}">{{.RenewalURL}}</a></p>`))
)

// NotificationService sends booking email. Confirmations go through the queue
// when a publisher is configured and are mailed in-process otherwise.
type NotificationService struct {
	mailer     MailSender
	publisher  EventPublisher
	from       string
	operator   string
	renewalURL string
	logger     *logrus.Logger
}

// NewNotificationService creates a new NotificationService. publisher may be nil.
func NewNotificationService(mailer MailSender, publisher EventPublisher, mailCfg config.MailConfig, renewalURL string, logger *logrus.Logger) *NotificationService {
	return &NotificationService{
		mailer:     mailer,
		publisher:  publisher,
		from:       mailCfg.From,
		operator:   mailCfg.OperatorEmail,
		renewalURL: renewalURL,
		logger:     logger,
	}
}

// BookingConfirmed publishes or mails the confirmation
func (s *NotificationService) BookingConfirmed(ctx context.Context, event *models.BookingConfirmedEvent) {
	log := s.logger.WithFields(logrus.Fields{
		"booking_id":     event.BookingID,
		"correlation_id": event.CorrelationID,
	})

	if s.publisher != nil {
		err := s.publisher.PublishBookingConfirmed(ctx, event)
		if err == nil {
			return
		}
		log.WithError(err).Warn("Failed to publish confirmation, mailing directly")
	}

	if err := s.SendConfirmationEmail(ctx, event); err != nil {
		log.WithError(err).Warn("Failed to send confirmation email")
	}
}

// SendConfirmationEmail mails the confirmation. It is also the queue consumer's handler.
func (s *NotificationService) SendConfirmationEmail(_ context.Context, event *models.BookingConfirmedEvent) error {
	var body bytes.Buffer
	if err := confirmationTemplate.Execute(&body, event); err != nil {
		return fmt.Errorf("failed to render confirmation: %w", err)
	}
	subject := fmt.Sprintf("Booking confirmed: %s (%s %s)", event.RoomTitle, event.Semester, event.Year)
	return s.send(event.GuestEmail, subject, body.String())
}

// PaymentFailed mails the guest a renewal link
func (s *NotificationService) PaymentFailed(_ context.Context, notice PaymentFailureNotice) {
	log := s.logger.WithFields(logrus.Fields{
		"correlation_id": notice.CorrelationID,
		"room_id":        notice.RoomID,
	})
	if notice.GuestEmail == "" {
		log.Warn("Payment failed for unknown guest; no notice sent")
		return
	}

	var body bytes.Buffer
	data := struct {
		Notice     PaymentFailureNotice
		RenewalURL string
	}{notice, s.renewalURL}
	if err := failureTemplate.Execute(&body, data); err != nil {
		log.WithError(err).Warn("Failed to render payment failure notice")
		return
	}

	if err := s.send(notice.GuestEmail, "Your booking payment did not go through", body.String()); err != nil {
		log.WithError(err).Warn("Failed to send payment failure notice")
	}
}

// OperatorAlert mails the operator about a webhook handler failure
func (s *NotificationService) OperatorAlert(_ context.Context, subject string, err error, fields map[string]interface{}) {
	if s.operator == "" {
		s.logger.WithError(err).WithFields(fields).Warn("Operator alert skipped: no operator email configured")
		return
	}

	var body bytes.Buffer
	fmt.Fprintf(&body, "%s\n\nerror: %v\n", subject, err)
	for k, v := range fields {
		fmt.Fprintf(&body, "%s: %v\n", k, v)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", s.operator)
	m.SetHeader("Subject", "[booking alert] "+subject)
	m.SetBody("text/plain", body.String())

	if sendErr := s.mailer.DialAndSend(m); sendErr != nil {
		s.logger.WithError(sendErr).WithField("subject", subject).Warn("Failed to send operator alert")
	}
}

func (s *NotificationService) send(to, subject, html string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", html)

	if err := s.mailer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}
