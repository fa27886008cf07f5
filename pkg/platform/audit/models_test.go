package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuditEvent_Category(t *testing.T) {
	assert.Equal(t, CategoryCompliance, EventAttendanceMarked.Category())
	assert.Equal(t, CategoryCompliance, EventManualMark.Category())
	assert.Equal(t, CategorySecurity, EventRedemptionRejected.Category())
	assert.Equal(t, CategoryOperations, EventTokenIssued.Category())
	assert.Equal(t, CategoryOperations, AuditEvent("something_new").Category())
}

func TestSecurityEvent_ToEventCarriesClientMetadata(t *testing.T) {
	e := SecurityEvent{
		Action:   string(EventRedemptionRejected),
		Reason:   "out_of_range",
		IP:       "203.0.113.7",
		Device:   "Safari on iOS",
		Severity: SeverityWarning,
	}.ToEvent()

	assert.Equal(t, CategorySecurity, e.Category)
	assert.Equal(t, "out_of_range", e.Reason)
	assert.Equal(t, "203.0.113.7", e.IP)
	assert.Equal(t, "Safari on iOS", e.Device)
	assert.Equal(t, "warning", e.Decision)
}
