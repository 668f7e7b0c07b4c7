package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidIntent        ErrorCode = 102
	ErrCodeInvalidStopLoss      ErrorCode = 103
	ErrCodeInvalidTarget        ErrorCode = 104
	ErrCodeMissingParameter     ErrorCode = 105

	// Data/resource errors (200-299)
	ErrCodeDataUnavailable   ErrorCode = 200
	ErrCodeQueryFailed       ErrorCode = 201
	ErrCodeProviderTimeout   ErrorCode = 202
	ErrCodeStoreUnavailable  ErrorCode = 203
	ErrCodeCompanyNotFound   ErrorCode = 204
	ErrCodeMacroNotFound     ErrorCode = 205
	ErrCodePriceNotFound     ErrorCode = 206
	ErrCodeProposalFailed    ErrorCode = 207
	ErrCodeProposalMalformed ErrorCode = 208

	// Ledger errors (500-599)
	ErrCodeIntentTooSmall    ErrorCode = 500
	ErrCodeInsufficientFunds ErrorCode = 501
	ErrCodeOversoldPosition  ErrorCode = 502
	ErrCodePositionNotFound  ErrorCode = 503
	ErrCodeTradeNotFound     ErrorCode = 504

	// Invariant errors (600-699)
	ErrCodeLedgerInvariant ErrorCode = 600

	// Run errors (700-799)
	ErrCodeLeaseHeld       ErrorCode = 700
	ErrCodeRunDeadline     ErrorCode = 701
	ErrCodeSeedDataInvalid ErrorCode = 702
)
