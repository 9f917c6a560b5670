package chain

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	clierr "github.com/quasar-finance/daoresolve/internal/errors"
	"github.com/quasar-finance/daoresolve/internal/id"
	"github.com/quasar-finance/daoresolve/internal/refresh"
)

type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// ExecuteMsg is an unsigned MsgExecuteContract handed to the wallet.
type ExecuteMsg struct {
	Sender   string          `json:"sender"`
	Contract string          `json:"contract"`
	Msg      json.RawMessage `json:"msg"`
	Funds    []Coin          `json:"funds,omitempty"`
}

type TxResult struct {
	Hash   string `json:"hash"`
	Height int64  `json:"height"`
}

// Wallet is the external signer. Key management and signing live behind it.
type Wallet interface {
	Connected() bool
	Address(chainID id.ChainID) (string, error)
	SignAndBroadcast(ctx context.Context, chainID id.ChainID, msgs []ExecuteMsg) (TxResult, error)
}

// SigningClient executes contract messages through a connected wallet and
// bumps the refresh scopes the transaction touched.
type SigningClient struct {
	Client
	wallet Wallet
	sender string
	bus    *refresh.Bus
	logger *zap.Logger
}

func (p *Provider) SigningClient(ctx context.Context, chainID id.ChainID, wallet Wallet) (*SigningClient, error) {
	if wallet == nil || !wallet.Connected() {
		return nil, clierr.WalletNotConnected()
	}
	chain, err := p.reg.Chain(chainID)
	if err != nil {
		return nil, err
	}
	sender, err := wallet.Address(chainID)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeWalletNotConnected, "wallet address", err)
	}
	if strings.TrimSpace(sender) == "" {
		return nil, clierr.WalletNotConnected()
	}
	if _, err := id.ValidateAddress(sender, chain.Bech32Prefix); err != nil {
		return nil, err
	}
	c, err := p.Client(ctx, chainID)
	if err != nil {
		return nil, err
	}
	return &SigningClient{Client: c, wallet: wallet, sender: sender, bus: p.bus, logger: p.logger}, nil
}

func (s *SigningClient) Sender() string { return s.sender }

// Execute sends msg to contract. On success the sender and contract scopes
// are bumped, plus the global balances scope when funds moved. Extra scopes
// the caller knows were affected are bumped too.
func (s *SigningClient) Execute(ctx context.Context, contract string, msg any, funds []Coin, extra ...refresh.Scope) (TxResult, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return TxResult{}, clierr.Wrap(clierr.CodeInternal, "encode execute message", err)
	}
	exec := ExecuteMsg{Sender: s.sender, Contract: contract, Msg: raw, Funds: funds}
	res, err := s.wallet.SignAndBroadcast(ctx, s.ChainID(), []ExecuteMsg{exec})
	if err != nil {
		return TxResult{}, err
	}

	if s.bus != nil {
		scopes := append([]refresh.Scope{refresh.Scope(s.sender), refresh.Scope(contract)}, extra...)
		if len(funds) > 0 {
			scopes = append(scopes, refresh.GlobalScope)
		}
		s.bus.BumpAll(scopes...)
	}
	s.logger.Debug("executed contract message", zap.String("chain", string(s.ChainID())), zap.String("contract", contract), zap.String("tx", res.Hash))
	return res, nil
}
