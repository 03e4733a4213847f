package exception

import "errors"

// Error type names used in retry configuration and error classification.
const (
	// ScheduleConfigError indicates a malformed forecast schedule table.
	ScheduleConfigError = "ScheduleConfigError"
	// InvalidParameterError indicates an invalid download parameter combination.
	InvalidParameterError = "InvalidParameterError"
	// DataShapeError indicates converted data missing required dimensions.
	DataShapeError = "DataShapeError"
	// TransferError indicates a failed or incomplete download.
	TransferError = "TransferError"
)

// Sentinel errors for the pipeline error taxonomy.
var (
	ErrScheduleConfig   = errors.New(ScheduleConfigError)
	ErrInvalidParameter = errors.New(InvalidParameterError)
	ErrDataShape        = errors.New(DataShapeError)
	ErrTransfer         = errors.New(TransferError)
)

// wrapSentinel joins the taxonomy sentinel with the original error so that
// both errors.Is checks and cause inspection work on the result.
func wrapSentinel(sentinel, originalErr error) error {
	if originalErr != nil {
		return errors.Join(sentinel, originalErr)
	}
	return sentinel
}

// NewScheduleConfigError creates a BatchError indicating a malformed schedule table.
// Schedule configuration problems are neither retryable nor skippable.
// module: The module where the error occurred.
// message: The error message.
// originalErr: The original error to wrap.
// Returns: A new BatchError instance.
func NewScheduleConfigError(module, message string, originalErr error) *BatchError {
	return NewBatchError(module, message, wrapSentinel(ErrScheduleConfig, originalErr), false, false)
}

// NewInvalidParameterError creates a BatchError indicating an invalid parameter combination.
// Parameter errors are neither retryable nor skippable at the request level, but a planner
// processing many triples may still skip the offending triple and continue.
// module: The module where the error occurred.
// message: The error message.
// originalErr: The original error to wrap.
// Returns: A new BatchError instance.
func NewInvalidParameterError(module, message string, originalErr error) *BatchError {
	return NewBatchError(module, message, wrapSentinel(ErrInvalidParameter, originalErr), true, false)
}

// NewDataShapeError creates a BatchError indicating converted data missing required dimensions.
// module: The module where the error occurred.
// message: The error message.
// originalErr: The original error to wrap.
// Returns: A new BatchError instance.
func NewDataShapeError(module, message string, originalErr error) *BatchError {
	return NewBatchError(module, message, wrapSentinel(ErrDataShape, originalErr), false, false)
}

// NewTransferError creates a BatchError indicating a failed or incomplete download.
// Transfer errors are retryable and, at the batch level, skippable.
// module: The module where the error occurred.
// message: The error message.
// originalErr: The original error to wrap.
// Returns: A new BatchError instance.
func NewTransferError(module, message string, originalErr error) *BatchError {
	return NewBatchError(module, message, wrapSentinel(ErrTransfer, originalErr), true, true)
}

// IsScheduleConfigError determines if an error belongs to the schedule taxonomy.
func IsScheduleConfigError(err error) bool {
	return err != nil && errors.Is(err, ErrScheduleConfig)
}

// IsInvalidParameterError determines if an error belongs to the parameter taxonomy.
func IsInvalidParameterError(err error) bool {
	return err != nil && errors.Is(err, ErrInvalidParameter)
}

// IsDataShapeError determines if an error belongs to the data shape taxonomy.
func IsDataShapeError(err error) bool {
	return err != nil && errors.Is(err, ErrDataShape)
}

// IsTransferError determines if an error belongs to the transfer taxonomy.
func IsTransferError(err error) bool {
	return err != nil && errors.Is(err, ErrTransfer)
}
