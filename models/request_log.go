package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// RequestLog is one intercepted request. Rows are append-only.
type RequestLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	IPAddress string    `gorm:"size:45;not null;index" json:"ip_address"` // IPv6 can be up to 45 chars
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`
	Path      string    `gorm:"size:500;not null" json:"path"`
	Country   *string   `gorm:"size:100" json:"country,omitempty"`
	City      *string   `gorm:"size:100" json:"city,omitempty"`
}

const (
	MaxIPLength   = 45
	MaxPathLength = 500
)

// NewRequestLog builds a log row. ip and path go through Sanitize so that
// client input cannot make the insert fail.
func NewRequestLog(ip, path string, at time.Time, country, city *string) RequestLog {
	return RequestLog{
		IPAddress: Sanitize(ip, MaxIPLength),
		Timestamp: at,
		Path:      Sanitize(path, MaxPathLength),
		Country:   country,
		City:      city,
	}
}

// Sanitize makes client text storable in a varchar column of max characters:
// invalid UTF-8 becomes U+FFFD, NUL bytes are dropped, and the result is
// clipped to max runes. It is idempotent.
func Sanitize(s string, max int) string {
	s = strings.ReplaceAll(strings.ToValidUTF8(s, "\uFFFD"), "\x00", "")
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

func (l RequestLog) String() string {
	return fmt.Sprintf("%s - %s at %s", l.IPAddress, l.Path, l.Timestamp.Format(time.RFC3339))
}

type BlockedIP struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	IPAddress string `gorm:"size:45;uniqueIndex;not null" json:"ip_address"`
}

func (b BlockedIP) String() string {
	return b.IPAddress
}
