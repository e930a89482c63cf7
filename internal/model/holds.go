package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// HoldDeadlines keeps one expiry per admission hold, oldest first. It is stored
// as a JSON array (licenses.pending_holds). Methods return fresh slices and
// never write into the receiver's backing array, so copies of a License stay
// independent.
type HoldDeadlines []time.Time

// active returns the deadlines still in force at now, sorted ascending.
func (h HoldDeadlines) active(now time.Time, extra int) HoldDeadlines {
	out := make(HoldDeadlines, 0, len(h)+extra)
	for _, d := range h {
		if now.Before(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (h HoldDeadlines) Value() (driver.Value, error) {
	if len(h) == 0 {
		return nil, nil
	}
	// a string, not []byte: MySQL rejects binary-charset values for JSON columns
	b, err := json.Marshal([]time.Time(h))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (h *HoldDeadlines) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*h = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("pending_holds: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*h = nil
		return nil
	}
	var out []time.Time
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("pending_holds: %w", err)
	}
	*h = out
	return nil
}
