// Package coreerr defines the control plane's internal error taxonomy.
// Every component returns this type at its boundary instead of raw strings
// or sentinel errors; only the HTTP layer translates it to the wire shape
// {success:false, error:{code, message}}.
package coreerr

import "fmt"

// Kind is one of the fixed error codes returned over the wire.
type Kind string

const (
	// Input validation
	KindInvalidJSON           Kind = "invalid_json"
	KindMissingRequiredFields Kind = "missing_required_fields"
	KindInvalidData           Kind = "invalid_data"

	// Auth
	KindInvalidToken      Kind = "invalid_token"
	KindUnauthorizedIP    Kind = "unauthorized_ip"
	KindInvalidAccessKey  Kind = "invalid_access_key"
	KindRateLimitExceeded Kind = "rate_limit_exceeded"

	// Resource
	KindUserNotFound   Kind = "user_not_found"
	KindServerNotFound Kind = "server_not_found"
	KindServerFull     Kind = "server_full"
	KindItemNotFound   Kind = "item_not_found"
	KindAlreadyOwned   Kind = "already_owned"

	// Accounting
	KindInsufficientFunds Kind = "insufficient_funds"
	KindInvalidAmount     Kind = "invalid_amount"

	// Lifecycle
	KindMaintenanceMode      Kind = "maintenance_mode"
	KindFailedToCreateHost   Kind = "failed_to_create_host"
	KindTimeout              Kind = "timeout"
	KindMaxServersReached    Kind = "max_servers_reached"

	// Internal
	KindInternal Kind = "internal_error"
)

// httpStatus maps each Kind to the HTTP status the Front Adapter returns.
var httpStatus = map[Kind]int{
	KindInvalidJSON:           400,
	KindMissingRequiredFields: 400,
	KindInvalidData:           400,
	KindInvalidToken:          401,
	KindUnauthorizedIP:        403,
	KindInvalidAccessKey:      403,
	KindRateLimitExceeded:     429,
	KindUserNotFound:          404,
	KindServerNotFound:        404,
	KindServerFull:            409,
	KindItemNotFound:          404,
	KindAlreadyOwned:          409,
	KindInsufficientFunds:     402,
	KindInvalidAmount:         400,
	KindMaintenanceMode:       503,
	KindFailedToCreateHost:    502,
	KindTimeout:               504,
	KindMaxServersReached:     409,
	KindInternal:              500,
}

// Error is the core's internal error value.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the status code the Front Adapter should use.
func (e *Error) HTTPStatus() int {
	if code, ok := httpStatus[e.Kind]; ok {
		return code
	}
	return 500
}

// New builds a core error of the given kind with a human-readable message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an internal_error that retains cause for logging but never
// surfaces it to the caller.
func Wrap(cause error, message string) *Error {
	return &Error{Kind: KindInternal, Message: message, cause: cause}
}

// As extracts a *Error from err, or reports a generic internal error.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*Error); ok {
		return ce
	}
	return Wrap(err, "unexpected error")
}
