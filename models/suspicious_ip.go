package models

import (
	"fmt"
	"time"
)

type Reason string

const (
	ReasonHighRequestRate      Reason = "high_request_rate"
	ReasonSensitivePathAccess  Reason = "sensitive_path_access"
	ReasonMultipleFailedLogins Reason = "multiple_failed_logins"
	ReasonAdminAccess          Reason = "admin_access"
)

var reasonLabels = map[Reason]string{
	ReasonHighRequestRate:      "High Request Rate",
	ReasonSensitivePathAccess:  "Sensitive Path Access",
	ReasonMultipleFailedLogins: "Multiple Failed Logins",
	ReasonAdminAccess:          "Admin Panel Access",
}

// Label returns the human readable name of the reason.
func (r Reason) Label() string {
	if label, ok := reasonLabels[r]; ok {
		return label
	}
	return string(r)
}

func (r Reason) Valid() bool {
	_, ok := reasonLabels[r]
	return ok
}

// Outranks reports whether a row flagged for r must keep its reason when
// other is detected.
func (r Reason) Outranks(other Reason) bool {
	return r == ReasonHighRequestRate && other != ReasonHighRequestRate
}

// SuspiciousIP is the single classification row kept per flagged IP.
type SuspiciousIP struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	IPAddress    string    `gorm:"size:45;uniqueIndex;not null" json:"ip_address"`
	Reason       Reason    `gorm:"size:50;not null" json:"reason"`
	RequestCount int64     `gorm:"not null;default:0" json:"request_count"`
	FlaggedAt    time.Time `gorm:"not null" json:"flagged_at"`
	UpdatedAt    time.Time `gorm:"not null;index;autoUpdateTime:false" json:"updated_at"`
	IsActive     bool      `gorm:"not null;default:true;index" json:"is_active"`
}

// NewSuspiciousIP builds the row created on the first detection of an IP.
func NewSuspiciousIP(ip string, reason Reason, count int64, now time.Time) SuspiciousIP {
	return SuspiciousIP{
		IPAddress:    ip,
		Reason:       reason,
		RequestCount: count,
		FlaggedAt:    now,
		UpdatedAt:    now,
		IsActive:     true,
	}
}

// Flag applies a new detection to an existing row. A high request rate
// classification keeps its reason and count when a lower ranked detection
// arrives; the row is still reactivated and touched.
func (s *SuspiciousIP) Flag(reason Reason, count int64, now time.Time) {
	if !s.Reason.Outranks(reason) {
		s.Reason = reason
		s.RequestCount = count
	}
	s.IsActive = true
	s.UpdatedAt = now
}

func (s SuspiciousIP) Status() string {
	if s.IsActive {
		return "ACTIVE"
	}
	return "INACTIVE"
}

func (s SuspiciousIP) String() string {
	return fmt.Sprintf("%s - %s", s.IPAddress, s.Reason.Label())
}
