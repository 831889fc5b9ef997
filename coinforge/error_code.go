package coinforge

const (
	// INVALID_ARGUMENT_ERROR_CODE represents an error for invalid input arguments.
	INVALID_ARGUMENT_ERROR_CODE = 3
	// DEADLINE_EXCEEDED_ERROR_CODE represents an error for an operation that timed out.
	DEADLINE_EXCEEDED_ERROR_CODE = 4
	// NOT_FOUND_ERROR_CODE represents an error for a resource not being found.
	NOT_FOUND_ERROR_CODE = 5
	// FAILED_PRECONDITION_ERROR_CODE represents an error for a failed precondition.
	FAILED_PRECONDITION_ERROR_CODE = 9
	// INTERNAL_ERROR_CODE represents an internal server error.
	INTERNAL_ERROR_CODE = 13
)
