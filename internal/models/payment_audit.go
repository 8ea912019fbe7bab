package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// JSONB is a generic JSONB column
type JSONB map[string]interface{}

// Value implements driver.Valuer
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("type assertion to []byte or string failed")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, j)
}

// PaymentAuditOutcome records what the reconciliation did with a delivery
type PaymentAuditOutcome string

const (
	AuditOutcomeProcessed   PaymentAuditOutcome = "processed"
	AuditOutcomeIgnored     PaymentAuditOutcome = "ignored"       // unsupported event or unknown correlation
	AuditOutcomeRejected    PaymentAuditOutcome = "rejected"      // signature failed
	AuditOutcomeFailed      PaymentAuditOutcome = "failed"        // handler error, network will retry
	AuditOutcomeOutOfPeriod PaymentAuditOutcome = "out_of_period" // invoice month outside the semester
	AuditOutcomeDeferred    PaymentAuditOutcome = "deferred"      // installment before its deposit, network will retry
)

// PaymentAudit is an immutable record of one webhook delivery
type PaymentAudit struct {
	ID            uuid.UUID           `json:"id" db:"id"`
	Rail          PaymentRail         `json:"rail" db:"rail"`
	EventType     string              `json:"event_type" db:"event_type"`
	EventID       *string             `json:"event_id,omitempty" db:"event_id"`
	CorrelationID *string             `json:"correlation_id,omitempty" db:"correlation_id"`
	Outcome       PaymentAuditOutcome `json:"outcome" db:"outcome"`

	// Raw payload, stored before parsing
	RawBody *string `json:"raw_body,omitempty" db:"raw_body"`

	// Request metadata
	IPAddress  *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent  *string `json:"user_agent,omitempty" db:"user_agent"`
	DeviceInfo JSONB   `json:"device_info,omitempty" db:"device_info"`

	ErrorMessage     *string `json:"error_message,omitempty" db:"error_message"`
	ProcessingTimeMs *int    `json:"processing_time_ms,omitempty" db:"processing_time_ms"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
}

// NewPaymentAudit creates a new audit entry for a delivery on rail
func NewPaymentAudit(rail PaymentRail, eventType string) *PaymentAudit {
	return &PaymentAudit{
		ID:        uuid.New(),
		Rail:      rail,
		EventType: eventType,
		Outcome:   AuditOutcomeProcessed,
		CreatedAt: time.Now(),
	}
}

// SetEventID sets the network's event id
func (pa *PaymentAudit) SetEventID(id string) *PaymentAudit {
	if id != "" {
		pa.EventID = &id
	}
	return pa
}

// SetCorrelationID sets the booking correlation id carried by the event
func (pa *PaymentAudit) SetCorrelationID(id string) *PaymentAudit {
	if id != "" {
		pa.CorrelationID = &id
	}
	return pa
}

// SetOutcome sets the outcome
func (pa *PaymentAudit) SetOutcome(outcome PaymentAuditOutcome) *PaymentAudit {
	pa.Outcome = outcome
	return pa
}

// SetError records a failure
func (pa *PaymentAudit) SetError(err error) *PaymentAudit {
	if err != nil {
		msg := err.Error()
		pa.ErrorMessage = &msg
	}
	return pa
}

// SetRawBody stores the raw body before parsing
func (pa *PaymentAudit) SetRawBody(body string) *PaymentAudit {
	pa.RawBody = &body
	return pa
}

// SetMetadata sets request metadata
func (pa *PaymentAudit) SetMetadata(ip, userAgent string, deviceInfo map[string]interface{}) *PaymentAudit {
	if ip != "" {
		pa.IPAddress = &ip
	}
	if userAgent != "" {
		pa.UserAgent = &userAgent
	}
	if deviceInfo != nil {
		pa.DeviceInfo = JSONB(deviceInfo)
	}
	return pa
}

// SetProcessingTime calculates and sets processing time
func (pa *PaymentAudit) SetProcessingTime(startTime time.Time) *PaymentAudit {
	durationMs := int(time.Since(startTime).Milliseconds())
	pa.ProcessingTimeMs = &durationMs
	now := time.Now()
	pa.ProcessedAt = &now
	return pa
}
