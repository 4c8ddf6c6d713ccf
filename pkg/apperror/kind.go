package apperror

type Kind string

var (
	InvalidInput   Kind = "invalid_input"
	AlreadyExists  Kind = "already_exist"
	NotFound       Kind = "not_found"
	Conflict       Kind = "conflict"
	RateLimited    Kind = "rate_limited"
	RequestTimeout Kind = "request_timeout"
	Internal       Kind = "internal"
	Dependency     Kind = "dependency_failure"
	DatabaseErr    Kind = "database_error"
)

// Retriable reports whether the error is a transient infrastructure failure
// worth another attempt, as opposed to a semantic outcome.
func Retriable(err error) bool {
	return IsKind(err, DatabaseErr) || IsKind(err, Dependency)
}
