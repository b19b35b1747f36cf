// Package models defines the records synk persists and exchanges.
package models

// Item is the atomic synced record. A change replaces the whole value.
type Item struct {
	ID          string `json:"id"`
	Status      int64  `json:"status"`
	LastChanged int64  `json:"last_changed"`
}
