package service

import "errors"

var (
	// ErrDeviceUnauthorized rejects telemetry from a device that is not on
	// the policy allow-list. Device state is left untouched.
	ErrDeviceUnauthorized = errors.New("device not authorized")

	// ErrDeviceNotFound rejects a deploy request for a device that never
	// reported telemetry.
	ErrDeviceNotFound = errors.New("device not found")
)
