package solana

import (
	"context"

	"token-sniffer/internal/domain"
)

// RPCClient defines the wallet-data calls used by trader analytics.
type RPCClient interface {
	// GetTokenHolders returns every wallet holding a non-zero balance of mint.
	GetTokenHolders(ctx context.Context, mint string) ([]domain.Holder, error)

	// GetTokenAccountBalance returns the current balance of a token account.
	GetTokenAccountBalance(ctx context.Context, tokenAccount string) (*TokenAmount, error)

	// GetSignaturesForAddress retrieves signatures for an address, newest first.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)

	// GetTransaction retrieves a parsed transaction by signature.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)
}

// AssetClient resolves token metadata and price through the DAS API.
type AssetClient interface {
	GetAsset(ctx context.Context, mint string) (*Asset, error)
}
