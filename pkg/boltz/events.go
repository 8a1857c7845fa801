package boltz

// SwapStatus is a provider-pushed swap state. The raw strings are the
// provider's wire values; anything unrecognized parses to StatusUnknown and
// is logged, not failed on.
type SwapStatus int

const (
	StatusUnknown SwapStatus = iota
	SwapCreated
	InvoiceSet
	InvoicePending
	InvoiceSettled
	InvoiceExpired
	InvoiceFailedToPay
	TransactionMempool
	TransactionConfirmed
	TransactionServerMempool
	TransactionServerConfirmed
	TransactionClaimPending
	TransactionClaimed
	TransactionRefunded
	TransactionFailed
	TransactionLockupFailed
	SwapExpired
)

var statusByName = map[string]SwapStatus{
	"swap.created":                 SwapCreated,
	"invoice.set":                  InvoiceSet,
	"invoice.pending":              InvoicePending,
	"invoice.settled":              InvoiceSettled,
	"invoice.expired":              InvoiceExpired,
	"invoice.failedToPay":          InvoiceFailedToPay,
	"transaction.mempool":          TransactionMempool,
	"transaction.confirmed":        TransactionConfirmed,
	"transaction.server.mempool":   TransactionServerMempool,
	"transaction.server.confirmed": TransactionServerConfirmed,
	"transaction.claim.pending":    TransactionClaimPending,
	"transaction.claimed":          TransactionClaimed,
	"transaction.refunded":         TransactionRefunded,
	"transaction.failed":           TransactionFailed,
	"transaction.lockupFailed":     TransactionLockupFailed,
	"swap.expired":                 SwapExpired,
}

func ParseEvent(status string) SwapStatus {
	return statusByName[status]
}
