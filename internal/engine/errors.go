package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/yardcam/internal/region"
)

// RuntimeError is an observation the engine refused. Run logs it and moves
// on to the next observation.
type RuntimeError struct {
	Code    RuntimeErrorCode
	Message string
	Region  region.ID // empty when the observation had none
	Camera  string
	Err     error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUnknownRegion indicates an observation for a region that is not
	// in the static topology.
	ErrCodeUnknownRegion RuntimeErrorCode = "UNKNOWN_REGION"

	// ErrCodeCameraMismatch indicates a camera reported a region it does not own.
	ErrCodeCameraMismatch RuntimeErrorCode = "CAMERA_MISMATCH"

	// ErrCodeInvalidObservation indicates an observation missing its region id.
	ErrCodeInvalidObservation RuntimeErrorCode = "INVALID_OBSERVATION"

	// ErrCodeStopped indicates the engine no longer accepts observations.
	ErrCodeStopped RuntimeErrorCode = "ENGINE_STOPPED"
)

func (e *RuntimeError) Error() string {
	switch {
	case e.Region != "" && e.Camera != "":
		return fmt.Sprintf("%s: %s (region=%s, camera=%s)", e.Code, e.Message, e.Region, e.Camera)
	case e.Region != "":
		return fmt.Sprintf("%s: %s (region=%s)", e.Code, e.Message, e.Region)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

func (e *RuntimeError) Unwrap() error { return e.Err }

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == code
}

// IsUnknownRegion reports whether err names a region outside the topology.
func IsUnknownRegion(err error) bool {
	return hasCode(err, ErrCodeUnknownRegion) || errors.Is(err, region.ErrUnknownRegion)
}

// IsCameraMismatch reports whether err is a camera reporting a foreign region.
func IsCameraMismatch(err error) bool { return hasCode(err, ErrCodeCameraMismatch) }

// IsStopped reports whether the engine refused work after Stop or Close.
func IsStopped(err error) bool { return hasCode(err, ErrCodeStopped) }

// NewUnknownRegionError creates a RuntimeError for an unknown region.
func NewUnknownRegionError(id region.ID, camera string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnknownRegion,
		Message: "region is not in the static topology",
		Region:  id,
		Camera:  camera,
		Err:     region.ErrUnknownRegion,
	}
}

// NewCameraMismatchError creates a RuntimeError for a camera reporting a
// region owned by another camera.
func NewCameraMismatchError(id region.ID, camera, owner string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeCameraMismatch,
		Message: fmt.Sprintf("region is owned by camera %s", owner),
		Region:  id,
		Camera:  camera,
	}
}

// NewInvalidObservationError creates a RuntimeError for a malformed observation.
func NewInvalidObservationError(camera, msg string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeInvalidObservation,
		Message: msg,
		Camera:  camera,
	}
}

// ErrStopped is returned by ResetRegions once the event queue is closed.
var ErrStopped = &RuntimeError{Code: ErrCodeStopped, Message: "engine is stopped"}
