package audit

import (
	"context"
	"time"

	id "rollcall/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events that form the attendance register.
	// They are written in the same unit of work as the record they describe.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers rejected or suspicious redemption attempts.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity that can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// UserID is the user the event is about: the holder for attendance, the
	// issuer for token lifecycle events.
	UserID    id.UserID
	Subject   string
	Action    string
	TokenID   string
	Day       string
	Decision  string
	Reason    string
	RequestID string
	// ActorID is set when someone other than UserID acted, e.g. a teacher
	// marking a student present.
	ActorID string
	IP      string
	Device  string
}

type AuditEvent string

const (
	EventTokenIssued        AuditEvent = "token_issued"
	EventTokenRevoked       AuditEvent = "token_revoked"
	EventTokensExpired      AuditEvent = "tokens_expired"
	EventAttendanceMarked   AuditEvent = "attendance_marked"
	EventManualMark         AuditEvent = "attendance_marked_manually"
	EventRedemptionRejected AuditEvent = "redemption_rejected"
	EventAuthFailed         AuditEvent = "auth_failed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventAttendanceMarked: CategoryCompliance,
	EventManualMark:       CategoryCompliance,
	EventTokenRevoked:     CategoryCompliance,

	EventRedemptionRejected: CategorySecurity,
	EventAuthFailed:         CategorySecurity,

	EventTokenIssued:   CategoryOperations,
	EventTokensExpired: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events. Postgres implementations write to the outbox
// and join the transaction carried in ctx.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// ComplianceEvent is part of the attendance register and must be persisted
// for the surrounding operation to succeed.
type ComplianceEvent struct {
	Timestamp time.Time
	UserID    id.UserID // required
	Subject   string
	Action    string // required
	TokenID   string
	Day       string
	Decision  string
	RequestID string
	ActorID   string
}

func (e ComplianceEvent) Category() EventCategory { return CategoryCompliance }

func (e ComplianceEvent) ToEvent() Event {
	return Event{
		Category:  CategoryCompliance,
		Timestamp: e.Timestamp,
		UserID:    e.UserID,
		Subject:   e.Subject,
		Action:    e.Action,
		TokenID:   e.TokenID,
		Day:       e.Day,
		Decision:  e.Decision,
		RequestID: e.RequestID,
		ActorID:   e.ActorID,
	}
}

// SecurityEvent captures security-relevant actions for SIEM and alerting.
// Events are processed asynchronously with buffering.
type SecurityEvent struct {
	Timestamp time.Time
	UserID    id.UserID
	Subject   string
	Action    string
	TokenID   string
	Reason    string // rejection code, e.g. out_of_range
	IP        string
	Device    string
	RequestID string
	Severity  Severity
}

// Severity levels for security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (e SecurityEvent) Category() EventCategory { return CategorySecurity }

func (e SecurityEvent) ToEvent() Event {
	return Event{
		Category:  CategorySecurity,
		Timestamp: e.Timestamp,
		UserID:    e.UserID,
		Subject:   e.Subject,
		Action:    e.Action,
		TokenID:   e.TokenID,
		Reason:    e.Reason,
		Decision:  string(e.Severity),
		RequestID: e.RequestID,
		IP:        e.IP,
		Device:    e.Device,
	}
}

// OpsEvent captures operational events with minimal overhead.
// Events are fire-and-forget with optional sampling.
type OpsEvent struct {
	Timestamp time.Time
	UserID    id.UserID
	Subject   string
	Action    string
	TokenID   string
	RequestID string
}

func (e OpsEvent) Category() EventCategory { return CategoryOperations }

func (e OpsEvent) ToEvent() Event {
	return Event{
		Category:  CategoryOperations,
		Timestamp: e.Timestamp,
		UserID:    e.UserID,
		Subject:   e.Subject,
		Action:    e.Action,
		TokenID:   e.TokenID,
		RequestID: e.RequestID,
	}
}
