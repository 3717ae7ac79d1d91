package state

import "errors"

// Sentinel errors raised by the load-balance and waypoint paths. Plain
// lookup misses (address/hostname/workload) are never errors -- they are
// reported as a bool/zero-value pair, matching the rest of this package's
// find_* signatures.
var (
	// ErrNoValidDestination is returned when a workload has neither an IP
	// nor a hostname to resolve.
	ErrNoValidDestination = errors.New("no valid destination: workload has no ips and no hostname")

	// ErrNoResolvedAddresses is returned when the DNS resolver has no cache
	// entry at all for a hostname workload (a miss, not an empty result).
	ErrNoResolvedAddresses = errors.New("no resolved addresses: dns resolution did not complete")

	// ErrEmptyResolvedAddresses is returned when a resolver cache entry
	// exists but its IP set is empty.
	ErrEmptyResolvedAddresses = errors.New("empty resolved addresses: dns resolution returned no records")

	// ErrFindWaypointError is returned when a waypoint's upstream cannot be
	// located, or the gateway address could not be set on it.
	ErrFindWaypointError = errors.New("failed to find or set up waypoint upstream")

	// ErrUnsupportedFeature is returned for waypoint destinations that are
	// hostnames, which are not yet supported.
	ErrUnsupportedFeature = errors.New("unsupported feature: hostname waypoint destination")
)
