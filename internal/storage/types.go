package storage

// Config is the blob store backend configuration, sourced from
// config.StorageConfig.
type Config struct {
	Backend string

	// Filesystem backend
	Root string

	// S3 backend
	S3Bucket   string
	S3Region   string
	S3Endpoint string
}

// Common blob store errors.
var (
	ErrObjectNotFound  = NewError("BlobNotFound", "the specified blob does not exist")
	ErrInvalidKey      = NewError("InvalidKey", "the specified blob key is invalid")
	ErrStorageNotReady = NewError("StorageNotReady", "blob store backend is not ready")
)

// StorageError represents a blob store failure. Put/Get/Head/Delete
// callers treat any non-nil error as "content not present" per §4.1.
type StorageError struct {
	Code    string
	Message string
	Cause   error
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *StorageError) Unwrap() error { return e.Cause }

// NewError creates a new blob store error.
func NewError(code, message string) *StorageError {
	return &StorageError{Code: code, Message: message}
}

// NewErrorWithCause creates a new blob store error with underlying cause.
func NewErrorWithCause(code, message string, cause error) *StorageError {
	return &StorageError{Code: code, Message: message, Cause: cause}
}
