package service

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CoinCalculation is the outcome of CalculateCoins.
type CoinCalculation struct {
	NetBillAmount int64
	CoinsEarned   int64
	CoinsToRedeem int64
}

// Amount is the signed coin delta persisted on the transaction.
func (c CoinCalculation) Amount() int64 {
	return c.CoinsEarned - c.CoinsToRedeem
}

// CalculateCoins computes the coins earned on the part of the bill not paid
// with coins. Every qualifying request earns at least one coin; the raw
// amount is rounded half away from zero.
func CalculateCoins(billAmount, coinsToRedeem int64, earningPercentage decimal.Decimal) (CoinCalculation, error) {
	if billAmount <= 0 {
		return CoinCalculation{}, badRequest(CodeInvalidBillAmount, "bill amount must be a positive whole number")
	}
	if coinsToRedeem < 0 {
		return CoinCalculation{}, badRequest(CodeInvalidRequest, "coins to redeem must not be negative")
	}

	net := billAmount - coinsToRedeem
	if net <= 0 {
		return CoinCalculation{}, badRequest(CodeRedeemExceedsBill,
			"coins to redeem (%d) must be less than the bill amount (%d)", coinsToRedeem, billAmount)
	}

	earned := decimal.NewFromInt(net).Mul(earningPercentage).Div(hundred).Round(0).IntPart()
	if earned < 1 {
		earned = 1
	}

	return CoinCalculation{
		NetBillAmount: net,
		CoinsEarned:   earned,
		CoinsToRedeem: coinsToRedeem,
	}, nil
}
