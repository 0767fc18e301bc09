package common

import "time"

type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

var supportedNetworks = map[Network]struct{}{
	NetworkMainnet: {},
	NetworkTestnet: {},
}

// Genesis block timestamps per network.
var genesisTimes = map[Network]time.Time{
	NetworkMainnet: time.Date(2009, 1, 3, 18, 15, 5, 0, time.UTC),
	NetworkTestnet: time.Date(2011, 2, 2, 23, 16, 42, 0, time.UTC),
}

func (n Network) IsSupported() bool {
	_, ok := supportedNetworks[n]
	return ok
}

// GenesisTime returns the timestamp of the network's genesis block.
func (n Network) GenesisTime() time.Time {
	return genesisTimes[n]
}

func (n Network) String() string {
	return string(n)
}
