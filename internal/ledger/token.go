package ledger

// RewardUnits is the whole-token amount granted to a new player.
const RewardUnits = 650

// RewardAmount is RewardUnits in base units.
const RewardAmount uint64 = RewardUnits * 100_000_000

// TokenInfo is the static description of the fungible token.
type TokenInfo struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// DefaultTokenInfo is used when configuration leaves the token unnamed.
func DefaultTokenInfo() TokenInfo {
	return TokenInfo{
		Name:     "Game Token",
		Symbol:   "GAME",
		Decimals: uint8(TokenConfig.DecimalPrecision),
	}
}

// Metadata is the token description plus live supply.
type Metadata struct {
	TokenInfo
	TotalSupply uint64 `json:"total_supply"`
}
