// Package core holds the data model shared by every layer of the router:
// requests, normalized upstream quotes, scores, ranked results and the
// records persisted to the durable store.
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// SwapMode mirrors the upstream notion of exact-in vs exact-out swaps.
type SwapMode string

const (
	SwapModeExactIn  SwapMode = "ExactIn"
	SwapModeExactOut SwapMode = "ExactOut"
)

// QuoteRequest is the caller-supplied input to route finding.
type QuoteRequest struct {
	InputMint       string
	OutputMint      string
	Amount          decimal.Decimal
	SlippageBps     int
	UserPublicKey   string
	FavorLowLatency bool
	MaxAlternatives int
}

// DefaultSlippageBps is used whenever a caller omits slippage.
const DefaultSlippageBps = 50

// DefaultMaxAlternatives bounds how many ranked alternatives are returned.
const DefaultMaxAlternatives = 3

// PlatformFee is the optional fee an upstream route charges.
type PlatformFee struct {
	Amount decimal.Decimal
	FeeBps int
}

// RouteStep is a single hop through an AMM/pool.
type RouteStep struct {
	AmmKey     string
	Label      string
	InputMint  string
	OutputMint string
	InAmount   decimal.Decimal
	OutAmount  decimal.Decimal
	FeeAmount  decimal.Decimal
	FeeMint    string
}

// NormalizedQuote is the adapter-agnostic shape every upstream adapter
// returns after translating its own provider's wire format.
type NormalizedQuote struct {
	Provider             string
	InputMint            string
	OutputMint            string
	InAmount              decimal.Decimal
	OutAmount             decimal.Decimal
	OtherAmountThreshold  decimal.Decimal
	SwapMode              SwapMode
	SlippageBps           int
	PlatformFee           *PlatformFee
	PriceImpactPct        decimal.Decimal
	RoutePlan             []RouteStep
	GasEstimate           int64
	TimeTaken             time.Duration
	ContextSlot           int64
}

// RouteScore holds the five normalized sub-scores plus the weighted total.
// All sub-scores and the total live in [0, 1]. TotalScore, OutputAmount
// and Reliability are higher-is-better; Fees, GasEstimate and Latency hold
// the normalized costs (higher is worse) and are inverted when folded
// into TotalScore.
type RouteScore struct {
	OutputAmount float64
	Fees         float64
	GasEstimate  float64
	Latency      float64
	Reliability  float64
	TotalScore   float64
}

// RankedQuote pairs a normalized quote with its observed performance and
// derived score.
type RankedQuote struct {
	Quote        NormalizedQuote
	Provider     string
	ResponseTime time.Duration
	Score        RouteScore
	IsCached     bool
}

// RouteResponse is the result of FindBestRoute.
type RouteResponse struct {
	Best             RankedQuote
	Alternatives     []RankedQuote
	RequestID        string
	TotalResponseTime time.Duration
	CacheHitRatio    float64
	QuoteID          string
}

// QuoteRecord is the immutable, persisted projection of a winning route.
type QuoteRecord struct {
	ID                 string
	Provider            string
	InputMint           string
	OutputMint          string
	InAmount            decimal.Decimal
	OutAmount           decimal.Decimal
	SlippageBps         int
	PriceImpactPct      decimal.Decimal
	RoutePlan           []RouteStep
	PlatformFee         *PlatformFee
	GasEstimate         int64
	ResponseTimeMs      int64
	IsCached            bool
	CreatedAt           time.Time
	ExpiresAt           time.Time
	EfficiencyScore     *float64
	ReliabilityScore    *float64
}

// RouteExpiration is the validity window of a persisted QuoteRecord.
const RouteExpiration = 30 * time.Second

// SwapStatus is the lifecycle state of a SwapTransactionRecord.
type SwapStatus string

const (
	SwapStatusPending   SwapStatus = "PENDING"
	SwapStatusCompleted SwapStatus = "COMPLETED"
	SwapStatusFailed    SwapStatus = "FAILED"
	SwapStatusExpired   SwapStatus = "EXPIRED"
)

// IsTerminal reports whether a status cannot transition further.
func (s SwapStatus) IsTerminal() bool {
	return s == SwapStatusCompleted || s == SwapStatusFailed || s == SwapStatusExpired
}

// SwapTransactionRecord tracks a swap from build through terminal outcome.
type SwapTransactionRecord struct {
	ID              string
	UserID          string
	InputMint       string
	OutputMint      string
	InAmount        decimal.Decimal
	OutAmount       decimal.Decimal
	MinOutAmount    decimal.Decimal
	SlippageBps     int
	Provider        string
	Status          SwapStatus
	TxHash          *string
	RouteData       RouteDataBlob
	FeeLamports     *decimal.Decimal
	GasEstimate     *int64
	ExecutionTimeMs *int64
	ErrorCode       *string
	ErrorMessage    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

// SwapExpiration is how long a PENDING swap transaction remains valid.
const SwapExpiration = 30 * time.Second

// RouteDataBlob is the audit payload embedded in a SwapTransactionRecord:
// the originating quote, the build request sent to the adapter and the
// transaction blob it returned.
type RouteDataBlob struct {
	Quote               NormalizedQuote
	BuildRequest         BuildTransactionRequest
	TransactionBlob      string
	LastValidBlockHeight *int64
	PriorityFeeLamports  *int64
}

// BuildOptions are adapter-specific knobs threaded through BuildTransaction.
// Mapping these onto a concrete provider's wire format is that adapter's
// responsibility.
type BuildOptions struct {
	WrapAndUnwrapSol              *bool
	UseSharedAccounts              *bool
	FeeAccount                     string
	ComputeUnitPriceMicroLamports  *int64
	AsLegacyTransaction             *bool
}

// BuildTransactionRequest is passed to Adapter.BuildTransaction.
type BuildTransactionRequest struct {
	Quote         NormalizedQuote
	UserPublicKey string
	Options       BuildOptions
}

// BuildTransactionResult is what Adapter.BuildTransaction returns.
type BuildTransactionResult struct {
	TransactionBlob      string
	LastValidBlockHeight *int64
	PriorityFeeLamports  *int64
}

// SimulationResult is what Adapter.SimulateTransaction returns.
type SimulationResult struct {
	Success           bool
	Error             *string
	ComputeUnitsUsed  *int64
	Logs              []string
}

// CircuitStateLabel is the externally observable state of a breaker.
type CircuitStateLabel string

const (
	CircuitClosed   CircuitStateLabel = "CLOSED"
	CircuitOpen     CircuitStateLabel = "OPEN"
	CircuitHalfOpen CircuitStateLabel = "HALF_OPEN"
)

// CircuitState is a read-only snapshot of a breaker's internals, owned by
// the breaker and mutated only inside its critical section.
type CircuitState struct {
	State           CircuitStateLabel
	FailureCount    int
	SuccessCount    int
	LastFailureAt   time.Time
	LastSuccessAt   time.Time
	NextAttemptTime time.Time
}
