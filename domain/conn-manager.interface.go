package domain

type ConnManager interface {
	SyncAPI() SnapshotFetcher
	StreamAPI() DiffTransport
	// DepthUpdateValidator returns nil when only lastUpdateId gating is wanted.
	DepthUpdateValidator(market MarketType) DepthUpdateValidator
}
