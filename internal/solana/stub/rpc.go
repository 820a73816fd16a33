package stub

import (
	"context"

	"memecoin-signal-lab/internal/solana"
)

// RPCClient implements solana.RPCClient for testing.
type RPCClient struct {
	Accounts map[string]*solana.AccountInfo
	Largest  map[string][]solana.TokenAccountBalance

	// Err, when set, is returned from every call.
	Err error
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Accounts: make(map[string]*solana.AccountInfo),
		Largest:  make(map[string][]solana.TokenAccountBalance),
	}
}

// GetAccountInfo returns the stored account or nil when absent.
func (c *RPCClient) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Accounts[pubkey], nil
}

// GetTokenLargestAccounts returns stored balances for the mint.
func (c *RPCClient) GetTokenLargestAccounts(_ context.Context, mint string) ([]solana.TokenAccountBalance, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Largest[mint], nil
}

// Compile-time interface check.
var _ solana.RPCClient = (*RPCClient)(nil)
