package rpcerr

// Коды причин. Словарь фиксированный: клиенты строят на нем свою логику.
const (
	ReasonGatewayFailure         = "gateway_failure"
	ReasonOperationNotRegistered = "operation_not_registered"
	ReasonInvalidPayload         = "invalid_payload"
	ReasonUnauthenticated        = "unauthenticated"
	ReasonClientNotVerified      = "client_not_verified"
	ReasonPolicyDenied           = "policy_denied"
	ReasonPolicyEvaluationFailed = "policy_evaluation_failed"
	ReasonEmptyResult            = "empty_result"
	ReasonMalformedResult        = "malformed_result"

	ReasonDuplicateRecord      = "duplicate_record"
	ReasonConstraintViolation  = "constraint_violation"
	ReasonBackendTimeout       = "backend_timeout"
	ReasonBackendLoginFailed   = "backend_login_failed"
	ReasonBackendUnavailable   = "backend_unavailable"
	ReasonBackendNotConfigured = "backend_not_configured"

	ReasonProductNotFound     = "product_not_found"
	ReasonProductNotActive    = "product_not_active"
	ReasonSelfPurchase        = "self_purchase_forbidden"
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonOrderNotFound       = "order_not_found"
	ReasonEscrowNotFound      = "escrow_not_found"
	ReasonOrderNotPending     = "order_not_pending"
	ReasonEscrowNotLocked     = "escrow_not_locked"
	ReasonNotOrderParty       = "not_order_party"
	ReasonAdminRequired       = "admin_required"
	ReasonInvalidDelta        = "invalid_delta"
	ReasonWalletNotFound      = "wallet_not_found"
	ReasonNegativeBalance     = "negative_balance"
	ReasonAmountOutOfRange    = "amount_out_of_range"
	ReasonTransactionConflict = "transaction_conflict_failed"
)
