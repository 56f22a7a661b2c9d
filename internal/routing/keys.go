package routing

import "fmt"

// quoteKey fingerprints a full GetQuote call, including slippage, so two
// requests differing only in slippage tolerance are coalesced separately.
func quoteKey(inputMint, outputMint, amount string, slippageBps int) string {
	return fmt.Sprintf("quote:%s:%s:%s:%d", inputMint, outputMint, amount, slippageBps)
}

// routeKey fingerprints the route-calculation step, which is
// slippage-independent: the same best route serves every slippage
// tolerance for a given asset pair and amount.
func routeKey(inputMint, outputMint, amount string) string {
	return fmt.Sprintf("route:%s:%s:%s", inputMint, outputMint, amount)
}

// providerQuoteKey fingerprints a single adapter's quote for a given
// asset pair, amount and slippage.
func providerQuoteKey(provider, inputMint, outputMint, amount string, slippageBps int) string {
	return fmt.Sprintf("provider_quote:%s:%s:%s:%s:%d", provider, inputMint, outputMint, amount, slippageBps)
}
