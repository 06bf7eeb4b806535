package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/rpcclient"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bardlex/gomint/pkg/circuit"
	"github.com/bardlex/gomint/pkg/errors"
	"github.com/bardlex/gomint/pkg/retry"
)

// headers below the tip never change, so a few thousand are cached
const headerCacheSize = 4096

// RPC method names served by the node bridge.
const (
	methodTip    = "mel_tip"
	methodHeader = "mel_header"
	methodCoin   = "mel_coin"
	methodPool   = "mel_pool"
)

type rawCaller interface {
	RawRequest(method string, params []json.RawMessage) (json.RawMessage, error)
	Shutdown()
}

// RPCClient reads chain state from a node's JSON-RPC bridge. It reuses btcd's
// HTTP POST JSON-RPC transport with raw requests.
type RPCClient struct {
	client         rawCaller
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
	headers        *lru.Cache[Height, Header]
}

// NewRPCClient creates a client for the node at host:port.
func NewRPCClient(host string, port int, username, password string) (*RPCClient, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         fmt.Sprintf("%s:%d", host, port),
		User:         username,
		Pass:         password,
		HTTPPostMode: true,
		DisableTLS:   true,
	}

	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeChain, "rpc_client_creation",
			"failed to create chain RPC client").
			WithContext("host", host).
			WithContext("port", port)
	}
	return newRPCClient(client), nil
}

func newRPCClient(client rawCaller) *RPCClient {
	headers, err := lru.New[Height, Header](headerCacheSize)
	if err != nil {
		panic(err)
	}
	return &RPCClient{
		client:         client,
		circuitBreaker: circuit.New(circuit.DaemonConfig("chain")),
		retryConfig:    retry.NetworkConfig(),
		headers:        headers,
	}
}

// Close shuts down the transport.
func (c *RPCClient) Close() {
	c.client.Shutdown()
}

// Breaker exposes the circuit breaker guarding the node connection.
func (c *RPCClient) Breaker() *circuit.Breaker {
	return c.circuitBreaker
}

// call performs one raw request under the breaker and retry policy, decoding
// the result into out. A JSON null result reports found=false.
func (c *RPCClient) call(ctx context.Context, method string, out any, params ...any) (found bool, err error) {
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		b, err := json.Marshal(p)
		if err != nil {
			return false, errors.Wrap(err, errors.ErrorTypeValidation, method, "failed to encode parameter")
		}
		raw = append(raw, b)
	}

	result, err := circuit.ExecuteWithResult(ctx, c.circuitBreaker, func() (json.RawMessage, error) {
		return retry.DoWithResult(ctx, c.retryConfig, func() (json.RawMessage, error) {
			res, err := c.client.RawRequest(method, raw)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeChain, method, "node request failed")
			}
			return res, nil
		})
	})
	if err != nil {
		return false, err
	}

	if len(result) == 0 || strings.TrimSpace(string(result)) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeValidation, method, "malformed node response")
	}
	return true, nil
}

type headerWire struct {
	Height    Height `json:"height"`
	Hash      string `json:"hash"`
	DoscSpeed uint64 `json:"dosc_speed"`
}

func (w headerWire) header() (Header, error) {
	h, err := HashFromHex(w.Hash)
	if err != nil {
		return Header{}, errors.Wrap(err, errors.ErrorTypeValidation, "decode_header", "bad header hash")
	}
	return Header{Height: w.Height, Hash: h, DoscSpeed: w.DoscSpeed}, nil
}

// Snapshot implements Client. The snapshot is pinned to the tip seen now.
func (c *RPCClient) Snapshot(ctx context.Context) (Snapshot, error) {
	var w headerWire
	found, err := c.call(ctx, methodTip, &w)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New(errors.ErrorTypeChain, methodTip, "node returned no tip")
	}
	tip, err := w.header()
	if err != nil {
		return nil, err
	}
	return &rpcSnapshot{client: c, tip: tip}, nil
}

type rpcSnapshot struct {
	client *RPCClient
	tip    Header
}

func (s *rpcSnapshot) Header() Header { return s.tip }

func (s *rpcSnapshot) Older(ctx context.Context, height Height) (Header, error) {
	if height > s.tip.Height {
		return Header{}, errors.New(errors.ErrorTypeValidation, methodHeader, "height is above snapshot").
			WithContext("height", height).
			WithContext("tip", s.tip.Height)
	}
	if height == s.tip.Height {
		return s.tip, nil
	}
	if h, ok := s.client.headers.Get(height); ok {
		return h, nil
	}

	var w headerWire
	found, err := s.client.call(ctx, methodHeader, &w, height)
	if err != nil {
		return Header{}, err
	}
	if !found {
		return Header{}, errors.New(errors.ErrorTypeChain, methodHeader, "header not found").
			WithContext("height", height)
	}
	h, err := w.header()
	if err != nil {
		return Header{}, err
	}
	s.client.headers.Add(height, h)
	return h, nil
}

func (s *rpcSnapshot) Coin(ctx context.Context, id CoinID) (CoinDataHeight, error) {
	var cdh CoinDataHeight
	found, err := s.client.call(ctx, methodCoin, &cdh, s.tip.Height, id.String())
	if err != nil {
		return CoinDataHeight{}, err
	}
	if !found {
		return CoinDataHeight{}, errors.Wrap(ErrCoinNotFound, errors.ErrorTypeValidation, methodCoin,
			"coin is spent or unknown").
			WithContext("coin", id.String())
	}
	return cdh, nil
}

func (s *rpcSnapshot) Pool(ctx context.Context, key PoolKey) (PoolState, error) {
	var p PoolState
	found, err := s.client.call(ctx, methodPool, &p, s.tip.Height, key)
	if err != nil {
		return PoolState{}, err
	}
	if !found {
		return PoolState{}, errors.Wrap(ErrPoolNotFound, errors.ErrorTypeValidation, methodPool,
			"no such pool").
			WithContext("pool", key.String())
	}
	return p, nil
}

var _ Client = (*RPCClient)(nil)
