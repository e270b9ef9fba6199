package api

const (
	// PingEndpoint is the endpoint for checking the API status
	PingEndpoint = "/ping"
	// InfoEndpoint describes the relayer: address, fees, mode and capacity
	InfoEndpoint = "/info"
	// MetricsEndpoint exposes the prometheus metrics
	MetricsEndpoint = "/metrics"

	// RelayEndpoint is the endpoint for submitting a withdrawal proof
	RelayEndpoint = "/relay"
	// RelayStatusEndpoint returns the status of a relayed withdrawal
	TxURLParam          = "txId"
	RelayStatusEndpoint = "/relay/{" + TxURLParam + "}"

	// PoolRootEndpoint returns the current commitment tree root and size
	PoolRootEndpoint = "/pool/root"
	// PoolProofEndpoint returns the authentication path of a leaf
	LeafIndexURLParam = "index"
	PoolProofEndpoint = "/pool/proof/{" + LeafIndexURLParam + "}"
	// PoolNullifierEndpoint tells whether a nullifier is spent, with its
	// proof in the spent set
	NullifierURLParam     = "nullifier"
	PoolNullifierEndpoint = "/pool/nullifier/{" + NullifierURLParam + "}"

	// SplitsEndpoint creates (POST) and lists (GET) split transactions
	SplitsEndpoint = "/splits"
	// SplitFeesEndpoint estimates the network fees of a split
	SplitFeesEndpoint = "/splits/fees"
	SplitURLParam     = "splitId"
	SplitEndpoint     = "/splits/{" + SplitURLParam + "}"
	// SplitFundEndpoint starts funding the temporary wallets of a split
	SplitFundEndpoint = "/splits/{" + SplitURLParam + "}/fund"
	// SplitRetryEndpoint reschedules a failed part
	PartURLParam       = "part"
	SplitRetryEndpoint = "/splits/{" + SplitURLParam + "}/parts/{" + PartURLParam + "}/retry"
)
