package postgres

import (
	"github.com/gaze-network/coinbase-tracker/internal/postgres"
	"github.com/gaze-network/coinbase-tracker/modules/coinbase/datagateway"
)

// Make sure to implement the CoinbaseSpendDataGateway interface
var _ datagateway.CoinbaseSpendDataGateway = (*Repository)(nil)

type Repository struct {
	db postgres.DB
}

func NewRepository(db postgres.DB) *Repository {
	return &Repository{
		db: db,
	}
}
