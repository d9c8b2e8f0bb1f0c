package models

import "time"

// DeviceRecord identifies one browser/device seen for a user. At most one
// record exists per (UserID, Fingerprint).
type DeviceRecord struct {
	ID          string
	UserID      string
	Fingerprint string
	IsTrusted   bool
	DisplayName string
	BrowserName string
	OSName      string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	LastIP      string
}

// DeviceSignals are the stable request attributes the fingerprint derives from.
type DeviceSignals struct {
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string
	IPAddress      string
}
