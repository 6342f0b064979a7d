package domain

import "time"

// Device identifies a (customer, fingerprint) pair. FirstSeen is set once at
// creation and never updated; LastSeen moves forward on every observed use.
type Device struct {
	ID          string    `json:"id"`
	CustomerID  string    `json:"customerId"`
	Fingerprint string    `json:"fingerprint"`
	Label       string    `json:"label,omitempty"`
	FirstSeen   time.Time `json:"firstSeen"`
	LastSeen    time.Time `json:"lastSeen"`
}

// Age returns how long the device has been known as of now.
func (d *Device) Age(now time.Time) time.Duration {
	return now.Sub(d.FirstSeen)
}
