package domain

// Persisted store keys. Values are JSON; timestamps are Unix milliseconds.
const (
	KeyBlockList        = "site.block.list"
	KeyBlockAction      = "site.block.action"
	KeyTimestamps       = "site.block.timestamps"
	KeyPendingDeletions = "site.block.pending.deletions"
	KeyDeletionDelay    = "site.block.deletion.delay"
	KeyDelayToggleTime  = "site.block.delay.toggle.time"
	KeyDebugMode        = "site.block.debug.mode"
)

// AllKeys lists every key owned by the block store, in a stable order.
var AllKeys = []string{
	KeyBlockList,
	KeyBlockAction,
	KeyTimestamps,
	KeyPendingDeletions,
	KeyDeletionDelay,
	KeyDelayToggleTime,
	KeyDebugMode,
}
