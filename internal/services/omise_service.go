package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
	"github.com/omise/omise-go/schedule"
	"github.com/sirupsen/logrus"
	"github.com/studentrooms/booking-backend/internal/config"
	"github.com/studentrooms/booking-backend/internal/models"
	"github.com/studentrooms/booking-backend/internal/periods"
)

// Omise webhook event keys
const (
	OmiseEventChargeCreate   = "charge.create"
	OmiseEventChargeComplete = "charge.complete"
)

// omiseDepositCharge marks the deposit charge that starts a semester's schedules
const omiseDepositCharge = "deposit"

// OmiseAPI is the subset of the SDK the alternate rail uses
type OmiseAPI interface {
	CreateCharge(op *operations.CreateCharge) (*omise.Charge, error)
	CreateCustomer(op *operations.CreateCustomer) (*omise.Customer, error)
	CreateChargeSchedule(op *operations.CreateChargeSchedule) (*omise.Schedule, error)
	ListCustomerChargeSchedules(customerID string) ([]*omise.Schedule, error)
	RetrieveEvent(eventID string) (*omise.Event, error)
}

type omiseSDK struct {
	client *omise.Client
}

func (o *omiseSDK) CreateCharge(op *operations.CreateCharge) (*omise.Charge, error) {
	ch := &omise.Charge{}
	if err := o.client.Do(ch, op); err != nil {
		return nil, err
	}
	return ch, nil
}

func (o *omiseSDK) CreateCustomer(op *operations.CreateCustomer) (*omise.Customer, error) {
	cust := &omise.Customer{}
	if err := o.client.Do(cust, op); err != nil {
		return nil, err
	}
	return cust, nil
}

func (o *omiseSDK) CreateChargeSchedule(op *operations.CreateChargeSchedule) (*omise.Schedule, error) {
	sched := &omise.Schedule{}
	if err := o.client.Do(sched, op); err != nil {
		return nil, err
	}
	return sched, nil
}

func (o *omiseSDK) ListCustomerChargeSchedules(customerID string) ([]*omise.Schedule, error) {
	list := &omise.ScheduleList{}
	op := &operations.ListCustomerChargeSchedules{CustomerID: customerID}
	op.Limit = 100
	if err := o.client.Do(list, op); err != nil {
		return nil, err
	}
	return list.Data, nil
}

func (o *omiseSDK) RetrieveEvent(eventID string) (*omise.Event, error) {
	ev := &omise.Event{}
	if err := o.client.Do(ev, &operations.RetrieveEvent{EventID: eventID}); err != nil {
		return nil, err
	}
	return ev, nil
}

// NewOmiseAPI builds the SDK client for the configured keys
func NewOmiseAPI(cfg config.OmiseConfig) (OmiseAPI, error) {
	client, err := omise.NewClient(cfg.PublicKey, cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create omise client: %w", err)
	}
	return &omiseSDK{client: client}, nil
}

// OmiseService is the alternate rail. A summer month is one charge against a
// token or source created client-side. A semester saves the card on a
// customer, charges the deposit, and bills the months through monthly charge
// schedules owned by that customer.
type OmiseService struct {
	api        OmiseAPI
	currency   string
	returnURL  string
	reconciler *PaymentReconciliationService
	logger     *logrus.Logger
	now        func() time.Time
}

// NewOmiseService creates a new OmiseService
func NewOmiseService(api OmiseAPI, currency, returnURL string, reconciler *PaymentReconciliationService, logger *logrus.Logger) *OmiseService {
	return &OmiseService{
		api:        api,
		currency:   strings.ToLower(currency),
		returnURL:  returnURL,
		reconciler: reconciler,
		logger:     logger,
		now:        time.Now,
	}
}

// Rail implements PaymentRailAdapter
func (s *OmiseService) Rail() models.PaymentRail {
	return models.RailOmise
}

// OpenSession implements PaymentRailAdapter
func (s *OmiseService) OpenSession(ctx context.Context, intent *PaymentIntent) (*models.PaymentSession, error) {
	if intent.CardToken == "" && intent.SourceID == "" {
		return nil, NewValidationError("cardToken or sourceId is required for the alternate payment method")
	}

	metadata := map[string]interface{}{
		"correlation_id": intent.CorrelationID,
		"room_id":        intent.Room.ID,
		"semester":       string(intent.Semester),
		"year":           intent.Year,
	}

	if !intent.Semester.IsSummerMonth() {
		return s.openSchedule(intent, metadata)
	}

	ch, err := s.api.CreateCharge(&operations.CreateCharge{
		Amount:    toSubunits(intent.Price),
		Currency:  s.currency,
		Card:      intent.CardToken,
		Source:    intent.SourceID,
		ReturnURI: s.returnURL,
		Metadata:  metadata,
	})
	if err != nil {
		return nil, &UpstreamError{Service: "omise", Err: err}
	}

	return &models.PaymentSession{
		CorrelationID: intent.CorrelationID,
		ExternalID:    ch.ID,
		Kind:          models.CorrelationKindCharge,
		Amount:        intent.Price,
		Currency:      s.currency,
		CheckoutURL:   ch.AuthorizeURI,
	}, nil
}

// openSchedule saves the card on a new customer and charges the deposit. The
// monthly schedules are created once the deposit is confirmed.
func (s *OmiseService) openSchedule(intent *PaymentIntent, metadata map[string]interface{}) (*models.PaymentSession, error) {
	if intent.CardToken == "" {
		return nil, NewValidationError("cardToken is required for a semester on the alternate payment method")
	}

	email := ""
	if intent.Guest != nil {
		email = intent.Guest.Email
	}
	cust, err := s.api.CreateCustomer(&operations.CreateCustomer{
		Email:       email,
		Description: fmt.Sprintf("%s - %s %s", intent.Room.Title, intent.Semester, intent.Year),
		Card:        intent.CardToken,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, &UpstreamError{Service: "omise", Err: err}
	}

	deposit := make(map[string]interface{}, len(metadata)+1)
	for k, v := range metadata {
		deposit[k] = v
	}
	deposit["charge"] = omiseDepositCharge

	ch, err := s.api.CreateCharge(&operations.CreateCharge{
		Amount:    toSubunits(intent.Price),
		Currency:  s.currency,
		Customer:  cust.ID,
		ReturnURI: s.returnURL,
		Metadata:  deposit,
	})
	if err != nil {
		return nil, &UpstreamError{Service: "omise", Err: err}
	}

	return &models.PaymentSession{
		CorrelationID: intent.CorrelationID,
		ExternalID:    cust.ID,
		Kind:          models.CorrelationKindCustomer,
		Amount:        intent.Price,
		Currency:      s.currency,
		CheckoutURL:   ch.AuthorizeURI,
	}, nil
}

// ensureSchedules creates one monthly schedule per billing block of the
// semester, charging on the 1st. Blocks that already have a schedule for this
// booking are skipped, and months already past are not scheduled.
func (s *OmiseService) ensureSchedules(ch *omise.Charge, correlationID string) error {
	semester, _ := ch.Metadata["semester"].(string)
	year, _ := ch.Metadata["year"].(string)

	blocks, err := periods.BillingBlocks(models.Semester(semester), year)
	if err != nil {
		return fmt.Errorf("deposit charge %s has no usable period: %w", ch.ID, err)
	}

	existing, err := s.api.ListCustomerChargeSchedules(ch.CustomerID)
	if err != nil {
		return &UpstreamError{Service: "omise", Err: err}
	}
	have := make(map[string]bool, len(existing))
	for _, sched := range existing {
		if sched.Charge != nil {
			have[sched.Charge.Description] = true
		}
	}

	now := s.now().UTC()
	nextMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	log := s.logger.WithFields(logrus.Fields{"correlation_id": correlationID, "customer": ch.CustomerID})

	for _, block := range blocks {
		description := scheduleDescription(correlationID, block)
		if have[description] {
			continue
		}
		start := block.Start
		if start.Before(nextMonth) {
			start = nextMonth
		}
		if start.After(block.End) {
			log.WithField("block", block.Start.Format("2006-01")).Info("Billing block already past; not scheduled")
			continue
		}

		sched, err := s.api.CreateChargeSchedule(&operations.CreateChargeSchedule{
			Every:       1,
			Period:      schedule.PeriodMonth,
			StartDate:   start.Format("2006-01-02"),
			EndDate:     block.End.Format("2006-01-02"),
			DaysOfMonth: schedule.DaysOfMonth{1},
			Customer:    ch.CustomerID,
			Amount:      int(ch.Amount),
			Currency:    ch.Currency,
			Description: description,
		})
		if err != nil {
			return &UpstreamError{Service: "omise", Err: err}
		}
		log.WithField("schedule_id", sched.ID).Info("Charge schedule created")
	}
	return nil
}

func scheduleDescription(correlationID string, block periods.BillingBlock) string {
	return fmt.Sprintf("%s from %s", correlationID, block.Start.Format("2006-01"))
}

type omiseWebhook struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// Authenticate re-fetches the event with the secret key; a delivery whose id
// the API does not know is rejected. Only the re-fetched event is trusted.
func (s *OmiseService) Authenticate(_ context.Context, body []byte, _, _ string) (*VerifiedEvent, error) {
	var hook omiseWebhook
	if err := json.Unmarshal(body, &hook); err != nil || hook.ID == "" {
		return nil, ErrInvalidSignature
	}

	ev, err := s.api.RetrieveEvent(hook.ID)
	if err != nil {
		s.logger.WithError(err).WithField("event_id", hook.ID).Warn("Omise event could not be verified")
		return nil, ErrInvalidSignature
	}
	return &VerifiedEvent{ID: hook.ID, omise: ev}, nil
}

// HandleWebhook authenticates and applies one delivery
func (s *OmiseService) HandleWebhook(ctx context.Context, body []byte) (*WebhookResult, error) {
	ev, err := s.Authenticate(ctx, body, "", "")
	if err != nil {
		return nil, err
	}
	return s.Apply(ctx, ev)
}

// Apply processes an authenticated event. Charges made by a schedule carry no
// metadata and are matched through the customer that owns the schedule.
func (s *OmiseService) Apply(ctx context.Context, verified *VerifiedEvent) (*WebhookResult, error) {
	ev := verified.omise
	if ev == nil {
		return nil, ErrInvalidSignature
	}

	result := &WebhookResult{EventType: ev.Key, EventID: verified.ID, Outcome: models.AuditOutcomeIgnored}
	log := s.logger.WithFields(logrus.Fields{"event": ev.Key, "event_id": verified.ID})

	switch ev.Key {
	case OmiseEventChargeCreate:
		log.Info("Charge created")
		return result, nil
	case OmiseEventChargeComplete:
	default:
		log.Info("Unsupported omise event acknowledged")
		return result, nil
	}

	raw, err := json.Marshal(ev.Data)
	if err != nil {
		return result, fmt.Errorf("failed to re-encode event data: %w", err)
	}
	var ch omise.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return result, fmt.Errorf("failed to decode charge: %w", err)
	}

	correlationID, _ := ch.Metadata["correlation_id"].(string)
	externalID := ch.ID
	if ch.CustomerID != "" {
		externalID = ch.CustomerID
	}
	ref := PaymentRef{Rail: models.RailOmise, CorrelationID: correlationID, ExternalID: externalID}
	result.CorrelationID = correlationID

	if string(ch.Status) != "successful" {
		reason := string(ch.Status)
		if ch.FailureMessage != nil {
			reason = *ch.FailureMessage
		} else if ch.FailureCode != nil {
			reason = *ch.FailureCode
		}
		result.Outcome, err = s.reconciler.RecordFailure(ctx, ref, reason, "")
		return result, err
	}

	booking, err := s.reconciler.BookingFor(ctx, ref)
	if err != nil {
		return result, err
	}
	if booking != nil && result.CorrelationID == "" {
		result.CorrelationID = booking.CorrelationID
	}

	marker, _ := ch.Metadata["charge"].(string)
	switch {
	case marker == omiseDepositCharge:
		if booking == nil || !booking.DepositPaid {
			if err := s.ensureSchedules(&ch, correlationID); err != nil {
				return result, err
			}
		}
		result.Outcome, err = s.reconciler.ConfirmInitialPayment(ctx, ref)

	case booking == nil || booking.Semester.IsSummerMonth() ||
		(booking.PaymentReference != nil && *booking.PaymentReference == ch.ID):
		result.Outcome, err = s.reconciler.ConfirmInitialPayment(ctx, ref)

	default:
		// schedule charges run on the 1st, so the creation month is the one settled
		result.Outcome, err = s.reconciler.RecordInstallment(ctx, ref, ch.Created, 0)
	}
	return result, err
}
