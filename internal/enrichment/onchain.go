package enrichment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"memecoin-signal-lab/internal/domain"
	"memecoin-signal-lab/internal/solana"
)

// token2022ProgramID owns Token-2022 mints, whose base layout matches SPL Token.
const token2022ProgramID = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"

// rpcNodeBehind is returned by nodes that are catching up; worth retrying.
const rpcNodeBehind = -32005

// OnChain reads the mint account over Solana JSON-RPC. It supplies
// contract_verified (mint and freeze authority both renounced), the top-10
// holder share of supply, and name/symbol from Metaplex metadata.
type OnChain struct {
	rpc solana.RPCClient
	now func() time.Time
}

// NewOnChain creates the on-chain enricher.
func NewOnChain(rpc solana.RPCClient) *OnChain {
	return &OnChain{rpc: rpc, now: time.Now}
}

// Name returns the source name.
func (o *OnChain) Name() string { return SourceOnChain }

// Fetch reads the mint, its largest accounts and its metadata PDA.
// A missing metadata account leaves name and symbol absent.
func (o *OnChain) Fetch(ctx context.Context, address string) (*domain.PartialEnrichment, error) {
	acct, err := o.rpc.GetAccountInfo(ctx, address)
	if err != nil {
		return nil, o.mapErr(err)
	}
	if acct == nil {
		return nil, &SourceError{Source: SourceOnChain, Kind: KindNotFound, Err: fmt.Errorf("account %s not found", address)}
	}
	if acct.Owner != solana.TokenProgramID && acct.Owner != token2022ProgramID {
		return nil, &SourceError{Source: SourceOnChain, Kind: KindNotFound, Err: fmt.Errorf("account %s is not a token mint (owner %s)", address, acct.Owner)}
	}

	mint, err := solana.ParseMint(acct.Data)
	if err != nil {
		return nil, NewSourceError(SourceOnChain, KindMalformed, err)
	}

	out := &domain.PartialEnrichment{
		Source:           SourceOnChain,
		FetchedAt:        o.now().UTC(),
		ContractVerified: ptr(mint.MintAuthority == nil && mint.FreezeAuthority == nil),
	}

	largest, err := o.rpc.GetTokenLargestAccounts(ctx, address)
	if err != nil {
		return nil, o.mapErr(err)
	}
	if supply := mint.UISupply(); supply > 0 {
		var top float64
		for i, b := range largest {
			if i == 10 {
				break
			}
			top += b.UIAmount
		}
		out.Top10HolderPercent = ptr(min(top/supply*100, 100))
	}

	metaAddr, err := solana.MetadataAddress(address)
	if err != nil {
		return nil, NewSourceError(SourceOnChain, KindUnknown, err)
	}
	metaAcct, err := o.rpc.GetAccountInfo(ctx, metaAddr)
	if err != nil {
		return nil, o.mapErr(err)
	}
	if metaAcct != nil {
		md, err := solana.ParseMetadata(metaAcct.Data)
		if err != nil {
			return nil, NewSourceError(SourceOnChain, KindMalformed, err)
		}
		if md.Name != "" {
			out.Name = ptr(md.Name)
		}
		// Symbols are compared upper-case everywhere, as the parser emits them.
		if sym := strings.ToUpper(strings.TrimSpace(md.Symbol)); sym != "" {
			out.Symbol = ptr(sym)
		}
	}

	return out, nil
}

func (o *OnChain) mapErr(err error) error {
	var statusErr *solana.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusTooManyRequests {
			return &RateLimitError{Source: SourceOnChain, RetryAfter: statusErr.RetryAfter}
		}
		return NewStatusError(SourceOnChain, statusErr.StatusCode, statusErr.Body)
	}

	var rpcErr *solana.RPCError
	if errors.As(err, &rpcErr) {
		se := &SourceError{Source: SourceOnChain, Kind: KindStatus, Err: rpcErr}
		se.Retryable = rpcErr.Code == rpcNodeBehind
		return se
	}

	var malformed *solana.MalformedError
	if errors.As(err, &malformed) {
		return NewSourceError(SourceOnChain, KindMalformed, err)
	}

	return classify(SourceOnChain, err)
}
