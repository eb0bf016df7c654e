package taskname

const (
	// Ledger tasks
	PayoutHoldRelease = "payout:holds:release"

	// Payout tasks
	PayoutBulkRun = "payout:bulk:run"
)
