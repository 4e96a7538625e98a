package math

import "github.com/holiman/uint256"

// One virtual share and one virtual asset sit in every conversion. At genesis
// the rate is exactly 1:1, and an attacker donating assets to an empty vault
// loses most of the donation to the virtual share.
var virtualOffset = uint256.NewInt(1)

// ConvertToShares returns assets * (supply + 1) / (totalAssets + 1).
func ConvertToShares(assets, totalSupply, totalAssets *uint256.Int, mode RoundingMode) (*uint256.Int, error) {
	num, err := Add(totalSupply, virtualOffset)
	if err != nil {
		return nil, err
	}
	den, err := Add(totalAssets, virtualOffset)
	if err != nil {
		return nil, err
	}
	return MulDiv(assets, num, den, mode)
}

// ConvertToAssets returns shares * (totalAssets + 1) / (supply + 1).
func ConvertToAssets(shares, totalSupply, totalAssets *uint256.Int, mode RoundingMode) (*uint256.Int, error) {
	num, err := Add(totalAssets, virtualOffset)
	if err != nil {
		return nil, err
	}
	den, err := Add(totalSupply, virtualOffset)
	if err != nil {
		return nil, err
	}
	return MulDiv(shares, num, den, mode)
}
