package errs

// ErrorKind identifies a kind of internal error.
// fully support for errors.Is and errors.As.
type ErrorKind string

const (
	// NotFound is returned when a requested item is not found.
	NotFound = ErrorKind("Not Found")

	// SourceUnavailable is returned when the remote data source fails
	// transiently (network, quota, malformed response). Callers may retry.
	SourceUnavailable = ErrorKind("remote source unavailable")

	// OrderingFault is returned when a batch does not follow the committed
	// checkpoint. The store is left untouched.
	OrderingFault = ErrorKind("batch ordering fault")

	// InvalidRange is returned for malformed block height ranges.
	InvalidRange = ErrorKind("invalid block range")

	// InvalidArgument is returned for malformed or missing configuration.
	InvalidArgument = ErrorKind("invalid argument")

	// Unsupported is returned for unknown networks, drivers or options.
	Unsupported = ErrorKind("unsupported")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}
