package region

import (
	"errors"
	"fmt"
)

// ErrUnknownRegion is returned when an id is not part of the static topology.
var ErrUnknownRegion = errors.New("unknown region")

// TopologyError describes an invalid static topology.
type TopologyError struct {
	Region  ID
	Message string
}

func (e *TopologyError) Error() string {
	if e.Region != "" {
		return fmt.Sprintf("topology: region %q: %s", e.Region, e.Message)
	}
	return fmt.Sprintf("topology: %s", e.Message)
}

// UnknownRegionError wraps ErrUnknownRegion with the offending id.
func UnknownRegionError(id ID) error {
	return fmt.Errorf("%w: %q", ErrUnknownRegion, id)
}
