package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/razorpay/razorpay-go"
	rzputils "github.com/razorpay/razorpay-go/utils"
	"github.com/sirupsen/logrus"
	"github.com/studentrooms/booking-backend/internal/config"
	"github.com/studentrooms/booking-backend/internal/models"
	"github.com/studentrooms/booking-backend/internal/periods"
)

// razorpayBillingLag shifts an invoice's billing_start into the month it settles
const razorpayBillingLag = 3 * 24 * time.Hour

const depositItemName = "Security deposit"

// Razorpay webhook event types
const (
	RazorpayEventOrderPaid             = "order.paid"
	RazorpayEventSubscriptionActivated = "subscription.activated"
	RazorpayEventInvoicePaid           = "invoice.paid"
	RazorpayEventPaymentFailed         = "payment.failed"
)

// RazorpayAPI is the subset of the SDK the card rail uses
type RazorpayAPI interface {
	CreatePlan(data map[string]interface{}) (map[string]interface{}, error)
	CreateSubscription(data map[string]interface{}) (map[string]interface{}, error)
	CreateOrder(data map[string]interface{}) (map[string]interface{}, error)
}

type razorpaySDK struct {
	client *razorpay.Client
}

func (r *razorpaySDK) CreatePlan(data map[string]interface{}) (map[string]interface{}, error) {
	return r.client.Plan.Create(data, nil)
}

func (r *razorpaySDK) CreateSubscription(data map[string]interface{}) (map[string]interface{}, error) {
	return r.client.Subscription.Create(data, nil)
}

func (r *razorpaySDK) CreateOrder(data map[string]interface{}) (map[string]interface{}, error) {
	return r.client.Order.Create(data, nil)
}

// NewRazorpayAPI builds the SDK client for the configured credentials
func NewRazorpayAPI(cfg config.RazorpayConfig) RazorpayAPI {
	return &razorpaySDK{client: razorpay.NewClient(cfg.KeyID, cfg.KeySecret)}
}

// RazorpayService is the card rail. Semester periods become a monthly
// subscription with a deposit addon; summer months become a one-shot order.
type RazorpayService struct {
	api           RazorpayAPI
	webhookSecret string
	currency      string
	reconciler    *PaymentReconciliationService
	logger        *logrus.Logger
}

// NewRazorpayService creates a new RazorpayService
func NewRazorpayService(api RazorpayAPI, webhookSecret, currency string, reconciler *PaymentReconciliationService, logger *logrus.Logger) *RazorpayService {
	return &RazorpayService{
		api:           api,
		webhookSecret: webhookSecret,
		currency:      currency,
		reconciler:    reconciler,
		logger:        logger,
	}
}

// Rail implements PaymentRailAdapter
func (s *RazorpayService) Rail() models.PaymentRail {
	return models.RailRazorpay
}

// OpenSession implements PaymentRailAdapter
func (s *RazorpayService) OpenSession(ctx context.Context, intent *PaymentIntent) (*models.PaymentSession, error) {
	notes := map[string]interface{}{
		"correlation_id": intent.CorrelationID,
		"room_id":        intent.Room.ID,
		"semester":       string(intent.Semester),
		"year":           intent.Year,
	}
	amount := toSubunits(intent.Price)

	if intent.Semester.IsSummerMonth() {
		order, err := s.api.CreateOrder(map[string]interface{}{
			"amount":   amount,
			"currency": s.currency,
			"receipt":  receipt(intent.CorrelationID),
			"notes":    notes,
		})
		if err != nil {
			return nil, &UpstreamError{Service: "razorpay", Err: err}
		}
		orderID, _ := order["id"].(string)
		if orderID == "" {
			return nil, &UpstreamError{Service: "razorpay", Err: fmt.Errorf("order response has no id")}
		}
		return &models.PaymentSession{
			CorrelationID: intent.CorrelationID,
			ExternalID:    orderID,
			Kind:          models.CorrelationKindOrder,
			Amount:        intent.Price,
			Currency:      s.currency,
		}, nil
	}

	plan, err := s.api.CreatePlan(map[string]interface{}{
		"period":   "monthly",
		"interval": 1,
		"item": map[string]interface{}{
			"name":     fmt.Sprintf("%s - %s %s", intent.Room.Title, intent.Semester, intent.Year),
			"amount":   amount,
			"currency": s.currency,
		},
		"notes": notes,
	})
	if err != nil {
		return nil, &UpstreamError{Service: "razorpay", Err: err}
	}
	planID, _ := plan["id"].(string)
	if planID == "" {
		return nil, &UpstreamError{Service: "razorpay", Err: fmt.Errorf("plan response has no id")}
	}

	sub, err := s.api.CreateSubscription(map[string]interface{}{
		"plan_id":         planID,
		"total_count":     periods.InstallmentCount(intent.Semester),
		"quantity":        1,
		"customer_notify": 1,
		"addons": []map[string]interface{}{{
			"item": map[string]interface{}{
				"name":     depositItemName,
				"amount":   amount,
				"currency": s.currency,
			},
		}},
		"notes": notes,
	})
	if err != nil {
		return nil, &UpstreamError{Service: "razorpay", Err: err}
	}
	subID, _ := sub["id"].(string)
	if subID == "" {
		return nil, &UpstreamError{Service: "razorpay", Err: fmt.Errorf("subscription response has no id")}
	}
	shortURL, _ := sub["short_url"].(string)

	return &models.PaymentSession{
		CorrelationID: intent.CorrelationID,
		ExternalID:    subID,
		Kind:          models.CorrelationKindSubscription,
		Amount:        intent.Price,
		Currency:      s.currency,
		CheckoutURL:   shortURL,
	}, nil
}

// receipt fits the correlation id into the 40 character receipt field
func receipt(correlationID string) string {
	if len(correlationID) > 40 {
		return correlationID[:40]
	}
	return correlationID
}

// ============================================================================
// WEBHOOK
// ============================================================================

// razorpayNotes accepts the empty array Razorpay sends when no notes are set
type razorpayNotes map[string]string

func (n *razorpayNotes) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || data[0] != '{' {
		*n = razorpayNotes{}
		return nil
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(razorpayNotes, len(raw))
	for k, v := range raw {
		out[k] = fmt.Sprint(v)
	}
	*n = out
	return nil
}

type razorpayEntity struct {
	ID               string             `json:"id"`
	OrderID          string             `json:"order_id"`
	SubscriptionID   string             `json:"subscription_id"`
	Email            string             `json:"email"`
	ErrorDescription string             `json:"error_description"`
	BillingStart     *int64             `json:"billing_start"`
	LineItems        []razorpayLineItem `json:"line_items"`
	Notes            razorpayNotes      `json:"notes"`
}

type razorpayLineItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"` // plan or addon
}

type razorpayWrapped struct {
	Entity razorpayEntity `json:"entity"`
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Order        *razorpayWrapped `json:"order"`
		Subscription *razorpayWrapped `json:"subscription"`
		Invoice      *razorpayWrapped `json:"invoice"`
		Payment      *razorpayWrapped `json:"payment"`
	} `json:"payload"`
}

// Authenticate verifies the X-Razorpay-Signature HMAC over the raw body
func (s *RazorpayService) Authenticate(_ context.Context, body []byte, signature, eventID string) (*VerifiedEvent, error) {
	if signature == "" || !rzputils.VerifyWebhookSignature(string(body), signature, s.webhookSecret) {
		return nil, ErrInvalidSignature
	}
	return &VerifiedEvent{ID: eventID, body: body}, nil
}

// HandleWebhook authenticates and applies one delivery
func (s *RazorpayService) HandleWebhook(ctx context.Context, body []byte, signature, eventID string) (*WebhookResult, error) {
	ev, err := s.Authenticate(ctx, body, signature, eventID)
	if err != nil {
		return nil, err
	}
	return s.Apply(ctx, ev)
}

// Apply parses an authenticated delivery and applies the event
func (s *RazorpayService) Apply(ctx context.Context, verified *VerifiedEvent) (*WebhookResult, error) {
	var hook razorpayWebhook
	if err := json.Unmarshal(verified.body, &hook); err != nil {
		return nil, NewValidationError(fmt.Sprintf("malformed webhook body: %v", err))
	}
	eventID := verified.ID

	result := &WebhookResult{EventType: hook.Event, EventID: eventID, Outcome: models.AuditOutcomeIgnored}
	log := s.logger.WithFields(logrus.Fields{"event": hook.Event, "event_id": eventID})

	var err error
	switch hook.Event {
	case RazorpayEventOrderPaid, RazorpayEventSubscriptionActivated:
		entity := hook.Payload.Order
		if hook.Event == RazorpayEventSubscriptionActivated {
			entity = hook.Payload.Subscription
		}
		if entity == nil {
			log.Warn("Webhook payload has no entity")
			return result, nil
		}
		ref := PaymentRef{Rail: models.RailRazorpay, CorrelationID: entity.Entity.Notes["correlation_id"], ExternalID: entity.Entity.ID}
		result.CorrelationID = ref.CorrelationID
		result.Outcome, err = s.reconciler.ConfirmInitialPayment(ctx, ref)

	case RazorpayEventInvoicePaid:
		if hook.Payload.Invoice == nil {
			log.Warn("Webhook payload has no invoice")
			return result, nil
		}
		result.CorrelationID, result.Outcome, err = s.applyInvoice(ctx, &hook.Payload.Invoice.Entity, log)

	case RazorpayEventPaymentFailed:
		if hook.Payload.Payment == nil {
			log.Warn("Webhook payload has no payment")
			return result, nil
		}
		payment := hook.Payload.Payment.Entity
		ref := PaymentRef{Rail: models.RailRazorpay, CorrelationID: payment.Notes["correlation_id"], ExternalID: payment.OrderID}
		if ref.ExternalID == "" {
			ref.ExternalID = payment.SubscriptionID
		}
		result.CorrelationID = ref.CorrelationID
		result.Outcome, err = s.reconciler.RecordFailure(ctx, ref, payment.ErrorDescription, payment.Email)

	default:
		log.Info("Unsupported razorpay event acknowledged")
	}

	return result, err
}

// applyInvoice records each line item of a paid invoice, the deposit addon
// before the plan. Items without a type are logged and skipped; the rest of
// the invoice is still processed.
func (s *RazorpayService) applyInvoice(ctx context.Context, invoice *razorpayEntity, log *logrus.Entry) (string, models.PaymentAuditOutcome, error) {
	ref := PaymentRef{Rail: models.RailRazorpay, CorrelationID: invoice.Notes["correlation_id"], ExternalID: invoice.SubscriptionID}
	outcome := models.AuditOutcomeIgnored

	items := make([]razorpayLineItem, len(invoice.LineItems))
	copy(items, invoice.LineItems)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Type == "addon" && items[j].Type != "addon"
	})

	for _, item := range items {
		itemLog := log.WithFields(logrus.Fields{"invoice_id": invoice.ID, "line_item": item.ID})

		var itemOutcome models.PaymentAuditOutcome
		var err error
		switch item.Type {
		case "addon":
			itemOutcome, err = s.reconciler.RecordDeposit(ctx, ref)
		case "plan":
			if invoice.BillingStart == nil {
				itemLog.Warn("Plan line item without billing period skipped")
				continue
			}
			start := time.Unix(*invoice.BillingStart, 0)
			itemOutcome, err = s.reconciler.RecordInstallment(ctx, ref, start, razorpayBillingLag)
		default:
			itemLog.WithField("type", item.Type).Warn("Invoice line item missing expected fields skipped")
			continue
		}
		if err != nil {
			return ref.CorrelationID, itemOutcome, err
		}
		if itemOutcome == models.AuditOutcomeProcessed || outcome == models.AuditOutcomeIgnored {
			outcome = itemOutcome
		}
	}

	return ref.CorrelationID, outcome, nil
}
