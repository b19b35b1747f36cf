package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/dmitrijs2005/synk/internal/common"
	"github.com/dmitrijs2005/synk/internal/server/models"
)

// IDLength is the length of an item id: 32 lowercase hex characters.
const IDLength = 32

// SchemaError reports why a request body was rejected. Index is the 1-based
// position of the offending element, or 0 when the body as a whole is bad.
type SchemaError struct {
	Index  int
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Index > 0 {
		return fmt.Sprintf("item %d: %s", e.Index, e.Reason)
	}
	return e.Reason
}

func (e *SchemaError) Unwrap() error { return common.ErrorInvalidSchema }

func schemaErr(index int, format string, args ...any) error {
	return &SchemaError{Index: index, Reason: fmt.Sprintf(format, args...)}
}

// ValidID reports whether id is 32 lowercase hex characters.
func ValidID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Prefix returns the routing prefix of a valid id.
func Prefix(id string, n int) string {
	return id[:n]
}

// ValidateItem checks a typed item against the same rules ParseItems applies
// to raw JSON.
func ValidateItem(it models.Item) error {
	if !ValidID(it.ID) {
		return errors.New("value for key 'id' must be 32 characters in [0-9a-f]")
	}
	if it.Status < 0 {
		return errors.New("value for key 'status' must be a non-negative integer")
	}
	if it.LastChanged < 0 {
		return errors.New("value for key 'last_changed' must be a non-negative integer")
	}
	return nil
}

// ParseItems decodes an upsert body: a JSON array of objects with exactly the
// keys id, status and last_changed. Any violation rejects the whole body.
func ParseItems(raw []byte) ([]models.Item, error) {
	elems, err := decodeArray(raw)
	if err != nil {
		return nil, err
	}

	items := make([]models.Item, 0, len(elems))
	for i, elem := range elems {
		it, err := parseItem(elem)
		if err != nil {
			return nil, schemaErr(i+1, "%v", err)
		}
		items = append(items, it)
	}
	return items, nil
}

func parseItem(elem any) (models.Item, error) {
	obj, ok := elem.(map[string]any)
	if !ok {
		return models.Item{}, errors.New("not a JSON object")
	}
	if len(obj) != 3 {
		return models.Item{}, fmt.Errorf("expected 3 keys, found %d", len(obj))
	}

	var it models.Item
	for _, key := range []string{"id", "status", "last_changed"} {
		if _, ok := obj[key]; !ok {
			return models.Item{}, fmt.Errorf("expected key '%s' (not found)", key)
		}
	}

	id, ok := obj["id"].(string)
	if !ok {
		return models.Item{}, errors.New("value for key 'id' must be a string")
	}
	it.ID = id

	if it.Status, ok = parseInt(obj["status"]); !ok {
		return models.Item{}, errors.New("value for key 'status' must be an integer")
	}
	if it.LastChanged, ok = parseInt(obj["last_changed"]); !ok {
		return models.Item{}, errors.New("value for key 'last_changed' must be an integer")
	}

	return it, ValidateItem(it)
}

func parseInt(v any) (int64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	i, err := strconv.ParseInt(n.String(), 10, 64)
	return i, err == nil
}

// ParseIDs decodes a delete body: a JSON array of item ids. Duplicates are
// collapsed, order of first appearance is kept.
func ParseIDs(raw []byte) ([]string, error) {
	elems, err := decodeArray(raw)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(elems))
	ids := make([]string, 0, len(elems))
	for i, elem := range elems {
		id, ok := elem.(string)
		if !ok || !ValidID(id) {
			return nil, schemaErr(i+1, "id must be 32 characters in [0-9a-f]")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

func decodeArray(raw []byte) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var top any
	if err := dec.Decode(&top); err != nil {
		return nil, schemaErr(0, "could not parse JSON: %v", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, schemaErr(0, "unexpected data after top-level element")
	}

	elems, ok := top.([]any)
	if !ok {
		return nil, schemaErr(0, "JSON top-level element was not an array")
	}
	return elems, nil
}
