package ensemble

import "errors"

// Sentinel errors returned by the Manager.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEndpointRequired is returned when the transport endpoint is nil.
	ErrEndpointRequired = errors.New("transport endpoint is required")

	// ErrNotManagerEndpoint is returned when the endpoint does not hold the
	// manager address.
	ErrNotManagerEndpoint = errors.New("endpoint must use the manager id")

	// ErrSchemaRequired is returned when the run schema declares no fields.
	ErrSchemaRequired = errors.New("run schema with at least one field is required")

	// ErrAllocatorRequired is returned when the allocation policy is nil.
	ErrAllocatorRequired = errors.New("allocation policy is required")

	// ErrAlreadyStarted is returned when Run is called twice on one manager.
	ErrAlreadyStarted = errors.New("manager already started")

	// ErrAllWorkersLost is the cause recorded when a run ends fatally with
	// no live workers.
	ErrAllWorkersLost = errors.New("all workers lost")
)
