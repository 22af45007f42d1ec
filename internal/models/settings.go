package models

import "time"

// Setting is a named configuration value read through the settings provider.
type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}
