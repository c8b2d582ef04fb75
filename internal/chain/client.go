// Package chain mirrors round transitions onto the deployed escrow contract
// and reads its state.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/updown/internal/domain"
)

const escrowABI = `[
 {"type":"function","name":"openRound","stateMutability":"nonpayable","inputs":[{"name":"roundId","type":"uint256"},{"name":"openPrice","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"settle","stateMutability":"nonpayable","inputs":[{"name":"roundId","type":"uint256"},{"name":"closePrice","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"claim","stateMutability":"nonpayable","inputs":[{"name":"roundId","type":"uint256"},{"name":"agent","type":"address"}],"outputs":[]},
 {"type":"function","name":"claimBatch","stateMutability":"nonpayable","inputs":[{"name":"roundId","type":"uint256"},{"name":"agents","type":"address[]"}],"outputs":[]},
 {"type":"function","name":"claimFee","stateMutability":"nonpayable","inputs":[{"name":"roundId","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"betFor","stateMutability":"nonpayable","inputs":[{"name":"agent","type":"address"},{"name":"isUp","type":"bool"},{"name":"amount","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"getCurrentPool","stateMutability":"view","inputs":[],"outputs":[{"name":"roundId","type":"uint256"},{"name":"totalUp","type":"uint256"},{"name":"totalDown","type":"uint256"},{"name":"totalAgents","type":"uint256"}]},
 {"type":"function","name":"getAgentBet","stateMutability":"view","inputs":[{"name":"roundId","type":"uint256"},{"name":"agent","type":"address"}],"outputs":[{"name":"isUp","type":"bool"},{"name":"amount","type":"uint256"},{"name":"claimed","type":"bool"}]},
 {"type":"function","name":"payoutOf","stateMutability":"view","inputs":[{"name":"roundId","type":"uint256"},{"name":"agent","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"paused","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]}
]`

// Config holds connection settings for the escrow mirror.
type Config struct {
	RPCURL      string
	Contract    common.Address
	ChainID     int64
	Key         *ecdsa.PrivateKey
	TxTimeout   time.Duration
	CallTimeout time.Duration
	GasLimit    uint64
}

// Pool mirrors getCurrentPool.
type Pool struct {
	RoundID     uint64
	TotalUp     domain.Amount
	TotalDown   domain.Amount
	TotalAgents int64
}

// AgentBet mirrors getAgentBet.
type AgentBet struct {
	IsUp    bool
	Amount  domain.Amount
	Claimed bool
}

// Client is a settler-keyed view of the escrow contract.
type Client struct {
	eth      *ethclient.Client
	contract *bind.BoundContract
	backend  bind.DeployBackend
	cfg      Config
	from     common.Address
	logger   *slog.Logger

	// txMu serialises sends so nonces are assigned in order.
	txMu sync.Mutex
}

var _ domain.ChainMirror = (*Client)(nil)

// Dial connects to the RPC endpoint and binds the escrow ABI.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Key == nil {
		return nil, domain.ErrChainDisabled
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = 2 * time.Minute
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse abi: %w", err)
	}
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}
	if cfg.ChainID == 0 {
		id, err := eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("chain: chain id: %w", err)
		}
		cfg.ChainID = id.Int64()
	}
	return &Client{
		eth:      eth,
		contract: bind.NewBoundContract(cfg.Contract, parsed, eth, eth, eth),
		backend:  eth,
		cfg:      cfg,
		from:     ethcrypto.PubkeyToAddress(cfg.Key.PublicKey),
		logger:   logger.With(slog.String("component", "chain")),
	}, nil
}

// Settler returns the address transactions are sent from.
func (c *Client) Settler() common.Address { return c.from }

// Close releases the RPC connection.
func (c *Client) Close() { c.eth.Close() }

// OpenRound sends openRound and waits for it to be mined.
func (c *Client) OpenRound(ctx context.Context, id domain.RoundID, openPrice domain.Price) (string, error) {
	return c.transact(ctx, "openRound", roundArg(id), big.NewInt(int64(openPrice)))
}

// Settle sends settle and waits for it to be mined.
func (c *Client) Settle(ctx context.Context, id domain.RoundID, closePrice domain.Price) (string, error) {
	return c.transact(ctx, "settle", roundArg(id), big.NewInt(int64(closePrice)))
}

// ClaimBatch pays out every listed agent in one transaction.
func (c *Client) ClaimBatch(ctx context.Context, id domain.RoundID, agents []common.Address) (string, error) {
	return c.transact(ctx, "claimBatch", roundArg(id), agents)
}

// ClaimFee transfers the round fee to the fee recipient.
func (c *Client) ClaimFee(ctx context.Context, id domain.RoundID) (string, error) {
	return c.transact(ctx, "claimFee", roundArg(id))
}

// BetFor stakes on behalf of agent from the settler's balance.
func (c *Client) BetFor(ctx context.Context, agent common.Address, side domain.Side, amount domain.Amount) (string, error) {
	return c.transact(ctx, "betFor", agent, side.Bool(), big.NewInt(int64(amount)))
}

// CurrentPool reads getCurrentPool.
func (c *Client) CurrentPool(ctx context.Context) (Pool, error) {
	out, err := c.call(ctx, "getCurrentPool")
	if err != nil {
		return Pool{}, err
	}
	return Pool{
		RoundID:     out[0].(*big.Int).Uint64(),
		TotalUp:     domain.Amount(out[1].(*big.Int).Int64()),
		TotalDown:   domain.Amount(out[2].(*big.Int).Int64()),
		TotalAgents: out[3].(*big.Int).Int64(),
	}, nil
}

// AgentBet reads getAgentBet.
func (c *Client) AgentBet(ctx context.Context, id domain.RoundID, agent common.Address) (AgentBet, error) {
	out, err := c.call(ctx, "getAgentBet", roundArg(id), agent)
	if err != nil {
		return AgentBet{}, err
	}
	return AgentBet{
		IsUp:    out[0].(bool),
		Amount:  domain.Amount(out[1].(*big.Int).Int64()),
		Claimed: out[2].(bool),
	}, nil
}

// PayoutOf reads what claim would transfer to agent.
func (c *Client) PayoutOf(ctx context.Context, id domain.RoundID, agent common.Address) (domain.Amount, error) {
	out, err := c.call(ctx, "payoutOf", roundArg(id), agent)
	if err != nil {
		return 0, err
	}
	return domain.Amount(out[0].(*big.Int).Int64()), nil
}

// Paused reads the contract's pause flag.
func (c *Client) Paused(ctx context.Context) (bool, error) {
	out, err := c.call(ctx, "paused")
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx, From: c.from}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("chain: %s: %w", method, err)
	}
	return out, nil
}

func (c *Client) transact(ctx context.Context, method string, args ...interface{}) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TxTimeout)
	defer cancel()

	opts, err := bind.NewKeyedTransactorWithChainID(c.cfg.Key, big.NewInt(c.cfg.ChainID))
	if err != nil {
		return "", fmt.Errorf("chain: transactor: %w", err)
	}
	opts.Context = ctx
	opts.GasLimit = c.cfg.GasLimit

	c.txMu.Lock()
	tx, err := c.contract.Transact(opts, method, args...)
	c.txMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("chain: %s: %w", method, err)
	}
	c.logger.InfoContext(ctx, "chain: tx sent",
		slog.String("method", method),
		slog.String("tx", tx.Hash().Hex()),
	)

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return tx.Hash().Hex(), fmt.Errorf("chain: %s: wait mined: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return tx.Hash().Hex(), fmt.Errorf("chain: %s: %w", method, ErrReverted)
	}
	return tx.Hash().Hex(), nil
}

// ErrReverted is returned when a mined transaction has a failed status.
var ErrReverted = errors.New("transaction reverted")

func roundArg(id domain.RoundID) *big.Int {
	return new(big.Int).SetUint64(id.Numeric())
}
