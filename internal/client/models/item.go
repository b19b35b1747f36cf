// Package models defines the client-side records of the synk CLI.
package models

// IDLength is the length of an item id in hex characters.
const IDLength = 32

// Item is the record exchanged with the server.
type Item struct {
	ID          string `json:"id"`
	Status      int64  `json:"status"`
	LastChanged int64  `json:"last_changed"`
}

// LocalItem is an Item as kept in the local store. Dirty rows have changes
// the server has not acknowledged yet; Deleted rows are tombstones waiting
// to be pushed.
type LocalItem struct {
	Item
	Dirty   bool
	Deleted bool
}

// ValidID reports whether id is 32 lowercase hex characters.
func ValidID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for _, c := range []byte(id) {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
