package usecase

import (
	"github.com/gaze-network/coinbase-tracker/modules/coinbase/datagateway"
)

type Usecase struct {
	coinbaseDg datagateway.CoinbaseSpendDataGateway
}

func New(coinbaseDg datagateway.CoinbaseSpendDataGateway) *Usecase {
	return &Usecase{
		coinbaseDg: coinbaseDg,
	}
}
