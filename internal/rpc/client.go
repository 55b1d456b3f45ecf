package rpc

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"golang.org/x/time/rate"

	"RainLens/internal/identity"
)

// Memcmp selects accounts whose raw data holds Bytes at Offset.
type Memcmp struct {
	Offset int
	Bytes  []byte
}

// Account is one program account as returned by the node.
type Account struct {
	Pubkey   identity.Pubkey
	Owner    identity.Pubkey
	Lamports uint64
	Data     []byte
}

// AccountSource fetches raw program accounts matching every filter.
type AccountSource interface {
	ProgramAccounts(ctx context.Context, program identity.Pubkey, filters []Memcmp) ([]Account, error)
}

// Options tunes a Client. Zero values fall back to defaults.
type Options struct {
	Commitment    string  // processed, confirmed or finalized
	RatePerSecond float64 // client-side request rate cap, 0 disables
	Burst         int
}

// Client serves AccountSource from a Solana JSON-RPC node.
type Client struct {
	rpc        *solanarpc.Client
	commitment solanarpc.CommitmentType
	limiter    *rate.Limiter
}

func NewClient(endpoint string, httpClient *http.Client, opts Options) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if opts.Commitment == "" {
		opts.Commitment = string(solanarpc.CommitmentConfirmed)
	}
	c := &Client{
		rpc: solanarpc.NewWithCustomRPCClient(jsonrpc.NewClientWithOpts(endpoint, &jsonrpc.RPCClientOpts{
			HTTPClient: httpClient,
		})),
		commitment: solanarpc.CommitmentType(opts.Commitment),
	}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	return c
}

// ProgramAccounts calls getProgramAccounts with base64 data encoding.
func (c *Client) ProgramAccounts(ctx context.Context, program identity.Pubkey, filters []Memcmp) ([]Account, error) {
	const op = "getProgramAccounts"

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &RetrievalError{Op: op, Err: err}
		}
	}

	opts := &solanarpc.GetProgramAccountsOpts{
		Commitment: c.commitment,
		Encoding:   solana.EncodingBase64,
		Filters:    make([]solanarpc.RPCFilter, 0, len(filters)),
	}
	for _, f := range filters {
		opts.Filters = append(opts.Filters, solanarpc.RPCFilter{Memcmp: &solanarpc.RPCFilterMemcmp{
			Offset: uint64(f.Offset),
			Bytes:  solana.Base58(f.Bytes),
		}})
	}

	out, err := c.rpc.GetProgramAccountsWithOpts(ctx, solana.PublicKey(program), opts)
	if err != nil {
		return nil, &RetrievalError{Op: op, Retryable: retryable(ctx, err), Err: err}
	}

	accounts := make([]Account, 0, len(out))
	for _, keyed := range out {
		if keyed == nil || keyed.Account == nil || keyed.Account.Data == nil {
			return nil, &RetrievalError{Op: op, Err: errors.New("account without data")}
		}
		accounts = append(accounts, Account{
			Pubkey:   identity.Pubkey(keyed.Pubkey),
			Owner:    identity.Pubkey(keyed.Account.Owner),
			Lamports: keyed.Account.Lamports,
			Data:     keyed.Account.Data.GetBinary(),
		})
	}
	return accounts, nil
}

// retryable classifies a failed call. Throttling, server-side failures and
// transport errors are transient; JSON-RPC error objects, client errors and
// malformed payloads are not.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	var httpErr *jsonrpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code == http.StatusTooManyRequests || httpErr.Code >= 500
	}

	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
