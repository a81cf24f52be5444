package model

import "time"

// Asset is a piece of equipment that produces sensor datapoints and can be
// placed under one or more work permits.
type Asset struct {
	ID          int64     `json:"id"`
	Tag         string    `json:"tag"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	DateCreated time.Time `json:"date_created"`
	LastUpdated time.Time `json:"last_updated"`
}
