package audithook

// Action constants for audit events.
const (
	// Wallet actions
	ActionWalletCredited    = "wallet.credited"
	ActionWalletDebited     = "wallet.debited"
	ActionWalletReplayed    = "wallet.replayed"
	ActionBalanceRefused    = "wallet.insufficient_balance"
	ActionIdempotencyReused = "wallet.idempotency_conflict"

	// Entitlement actions
	ActionUnitUnlocked    = "entitlement.unlocked"
	ActionUnitPurchased   = "entitlement.purchased"
	ActionAlreadyUnlocked = "entitlement.already_unlocked"

	// Subscription actions
	ActionSubscriptionCreated = "subscription.created"

	// Engagement actions
	ActionEngagementFailed = "engagement.failed"
)

// Resource constants for audit events.
const (
	ResourceWallet       = "wallet"
	ResourceEntry        = "wallet_entry"
	ResourceGrant        = "grant"
	ResourceSubscription = "subscription"
	ResourceEngagement   = "engagement"
)

// Category constants for audit events.
const (
	CategoryWallet       = "wallet"
	CategoryAccess       = "access"
	CategorySubscription = "subscription"
	CategoryEngagement   = "engagement"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
