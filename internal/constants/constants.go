package constants

// Advisory lock ids shared by every instance.
const (
	MigrationLock = iota + 1
	RetryLock
	InstallRecurringLock
	StaleUnlockLock
)

var Locks = []int{
	MigrationLock,
	RetryLock,
	InstallRecurringLock,
	StaleUnlockLock,
}

const (
	MaxRetryAttempt = 3
)
