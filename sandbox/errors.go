package sandbox

import "errors"

// Sentinel errors for the environment and orchestrator failure modes.
// Callers dispatch on them with errors.Is; the concrete cause is carried in
// the wrapping message.
var (
	// ErrImageNotFound indicates the requested image is absent and no
	// fallback build succeeded.
	ErrImageNotFound = errors.New("image not found")

	// ErrProvisioning indicates container creation or startup failed for
	// daemon or resource reasons.
	ErrProvisioning = errors.New("container provisioning failed")

	// ErrUnreachable indicates the container is not in a runnable state
	// when an execution was requested.
	ErrUnreachable = errors.New("execution environment unreachable")

	// ErrMalformedIntrospection indicates an introspection call produced
	// output that is not valid structured data.
	ErrMalformedIntrospection = errors.New("malformed introspection output")
)
