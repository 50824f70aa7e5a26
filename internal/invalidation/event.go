// Package invalidation defines the republish event contract emitted by
// the layer publishing pipeline. When a city's layer file is replaced
// or removed, downstream caches must drop their copies so the next
// viewer load sees the new data.
package invalidation

import (
	"fmt"
	"strings"
	"time"
)

type Event struct {
	Version int       `json:"version"`
	Op      string    `json:"op"`
	City    string    `json:"city"`
	Layer   string    `json:"layer"`
	TS      time.Time `json:"ts"`
	Source  string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case "republish", "delete":
	default:
		return fmt.Errorf("op must be republish|delete")
	}
	if strings.TrimSpace(e.City) == "" {
		return fmt.Errorf("city is required")
	}
	if strings.TrimSpace(e.Layer) == "" {
		return fmt.Errorf("layer is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}
