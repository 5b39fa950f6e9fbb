package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// historyEntry mirrors one tuple returned by getHistory.
type historyEntry struct {
	State     uint8
	Timestamp *big.Int
	UpdatedBy common.Address
	TxHash    string
}

// contractClient is the slice of contract access the adapter needs.
type contractClient interface {
	// Transact submits method and waits for one confirmation. The returned
	// hash is set whenever the transaction was submitted, even on error.
	Transact(ctx context.Context, method string, args ...any) (string, error)
	History(ctx context.Context, itemID string) ([]historyEntry, error)
}

type ethContract struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	key      *ecdsa.PrivateKey
	chainID  *big.Int
}

func dialContract(ctx context.Context, cfg Config) (*ethContract, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse chain private key: %w", err)
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}
	parsed, err := abi.JSON(strings.NewReader(trackerABI))
	if err != nil {
		return nil, fmt.Errorf("parse tracker abi: %w", err)
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	address := common.HexToAddress(cfg.ContractAddress)
	return &ethContract{
		client:   client,
		contract: bind.NewBoundContract(address, parsed, client, client, client),
		key:      key,
		chainID:  big.NewInt(cfg.ChainID),
	}, nil
}

func (c *ethContract) Transact(ctx context.Context, method string, args ...any) (string, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return "", fmt.Errorf("build transactor: %w", err)
	}
	opts.Context = ctx
	tx, err := c.contract.Transact(opts, method, args...)
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", method, err)
	}
	hash := tx.Hash().Hex()
	receipt, err := bind.WaitMined(ctx, c.client, tx)
	if err != nil {
		return hash, fmt.Errorf("wait for %s confirmation: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return hash, fmt.Errorf("%s reverted in block %s", method, receipt.BlockNumber)
	}
	return hash, nil
}

func (c *ethContract) History(ctx context.Context, itemID string) (entries []historyEntry, err error) {
	// abi.ConvertType panics on a shape mismatch.
	defer func() {
		if r := recover(); r != nil {
			entries, err = nil, fmt.Errorf("decode %s result: %v", methodGetHistory, r)
		}
	}()
	var out []any
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, methodGetHistory, itemID); err != nil {
		return nil, fmt.Errorf("call %s: %w", methodGetHistory, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s returned %d values", methodGetHistory, len(out))
	}
	converted, ok := abi.ConvertType(out[0], new([]historyEntry)).(*[]historyEntry)
	if !ok {
		return nil, fmt.Errorf("decode %s result", methodGetHistory)
	}
	return *converted, nil
}

func (c *ethContract) Close() {
	c.client.Close()
}
