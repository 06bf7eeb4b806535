package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/gomint/internal/chain"
	"github.com/bardlex/gomint/pkg/circuit"
	"github.com/bardlex/gomint/pkg/errors"
	"github.com/bardlex/gomint/pkg/retry"
)

const requestTimeout = 30 * time.Second

// RESTDaemon talks to the wallet daemon's HTTP API.
type RESTDaemon struct {
	base           *url.URL
	http           *http.Client
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
	tips           chain.TipSignal
}

// NewRESTDaemon creates a client for the daemon at endpoint. Confirmation
// waits re-check the daemon every time tips fires.
func NewRESTDaemon(endpoint string, tips chain.TipSignal) (*RESTDaemon, error) {
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "wallet_client_creation",
			"invalid wallet endpoint").
			WithContext("endpoint", endpoint)
	}
	if tips == nil {
		tips = chain.PollSignal{Interval: 2 * time.Second}
	}
	return &RESTDaemon{
		base:           base,
		http:           &http.Client{Timeout: requestTimeout},
		circuitBreaker: circuit.New(circuit.DaemonConfig("wallet")),
		retryConfig:    retry.NetworkConfig(),
		tips:           tips,
	}, nil
}

// Breaker exposes the circuit breaker guarding the daemon connection.
func (d *RESTDaemon) Breaker() *circuit.Breaker {
	return d.circuitBreaker
}

// do sends one request under the breaker and retry policy and decodes a JSON
// response into out (if non-nil). A 404 reports found=false.
func (d *RESTDaemon) do(ctx context.Context, op, method, path string, body, out any) (found bool, err error) {
	var payload []byte
	if body != nil {
		if raw, ok := body.(json.RawMessage); ok {
			payload = raw
		} else if payload, err = json.Marshal(body); err != nil {
			return false, errors.Wrap(err, errors.ErrorTypeValidation, op, "failed to encode request")
		}
	}
	target := d.base.JoinPath(strings.Split(strings.Trim(path, "/"), "/")...)

	res, err := circuit.ExecuteWithResult(ctx, d.circuitBreaker, func() (respResult, error) {
		return retry.DoWithResult(ctx, d.retryConfig, func() (respResult, error) {
			return d.roundTrip(ctx, op, method, target.String(), payload)
		})
	})
	if err != nil {
		return false, err
	}
	if res.status == http.StatusNotFound {
		return false, nil
	}
	if out != nil && len(bytes.TrimSpace(res.body)) > 0 {
		if err := json.Unmarshal(res.body, out); err != nil {
			return false, errors.Wrap(err, errors.ErrorTypeValidation, op, "malformed daemon response")
		}
	}
	return true, nil
}

type respResult struct {
	body   []byte
	status int
}

func (d *RESTDaemon) roundTrip(ctx context.Context, op, method, target string, payload []byte) (respResult, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return respResult{}, errors.Wrap(err, errors.ErrorTypeValidation, op, "failed to build request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return respResult{}, errors.Wrap(err, errors.ErrorTypeNetwork, op, "wallet daemon unreachable").
			WithContext("url", target)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return respResult{}, errors.Wrap(err, errors.ErrorTypeNetwork, op, "failed to read response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return respResult{body: body, status: resp.StatusCode}, nil
	case resp.StatusCode >= 500:
		return respResult{}, errors.New(errors.ErrorTypeWallet, op, strings.TrimSpace(string(body))).
			WithContext("status", resp.StatusCode)
	case resp.StatusCode >= 400:
		return respResult{}, errors.New(errors.ErrorTypeValidation, op, strings.TrimSpace(string(body))).
			WithContext("status", resp.StatusCode)
	}
	return respResult{body: body, status: resp.StatusCode}, nil
}

// Wallet implements Daemon.
func (d *RESTDaemon) Wallet(ctx context.Context, name string) (Client, bool, error) {
	var s Summary
	found, err := d.do(ctx, "get_wallet", http.MethodGet, "/wallets/"+url.PathEscape(name), nil, &s)
	if err != nil || !found {
		return nil, false, err
	}
	return &restWallet{daemon: d, name: name}, true, nil
}

// CreateWallet implements Daemon.
func (d *RESTDaemon) CreateWallet(ctx context.Context, name string, testnet bool) error {
	body := map[string]any{"testnet": testnet, "password": nil, "secret": nil}
	found, err := d.do(ctx, "create_wallet", http.MethodPut, "/wallets/"+url.PathEscape(name), body, nil)
	if err != nil {
		return err
	}
	if !found {
		return errors.New(errors.ErrorTypeWallet, "create_wallet", "daemon does not support wallet creation")
	}
	return nil
}

type restWallet struct {
	daemon *RESTDaemon
	name   string
}

func (w *restWallet) path(parts ...string) string {
	return "/wallets/" + url.PathEscape(w.name) + "/" + strings.Join(parts, "/")
}

func (w *restWallet) Name() string { return w.name }

func (w *restWallet) Summary(ctx context.Context) (Summary, error) {
	var s Summary
	found, err := w.daemon.do(ctx, "summary", http.MethodGet, "/wallets/"+url.PathEscape(w.name), nil, &s)
	if err != nil {
		return Summary{}, err
	}
	if !found {
		return Summary{}, errors.New(errors.ErrorTypeWallet, "summary", "wallet disappeared").
			WithContext("wallet", w.name)
	}
	return s, nil
}

func (w *restWallet) Unlock(ctx context.Context, password *string) error {
	_, err := w.daemon.do(ctx, "unlock", http.MethodPost, w.path("unlock"),
		map[string]*string{"password": password}, nil)
	return err
}

func (w *restWallet) Coins(ctx context.Context) (map[chain.CoinID]chain.CoinData, error) {
	coins := make(map[chain.CoinID]chain.CoinData)
	if _, err := w.daemon.do(ctx, "coins", http.MethodGet, w.path("coins"), nil, &coins); err != nil {
		return nil, err
	}
	return coins, nil
}

func (w *restWallet) PrepareTx(ctx context.Context, req PrepareRequest) (*Transaction, error) {
	var raw json.RawMessage
	if _, err := w.daemon.do(ctx, "prepare_tx", http.MethodPost, w.path("prepare-tx"), req, &raw); err != nil {
		return nil, err
	}
	var tx Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "prepare_tx", "malformed transaction")
	}
	tx.Raw = raw
	return &tx, nil
}

func (w *restWallet) SendTx(ctx context.Context, tx *Transaction) (chainhash.Hash, error) {
	if tx == nil || len(tx.Raw) == 0 {
		return chainhash.Hash{}, errors.New(errors.ErrorTypeValidation, "send_tx", "transaction was not prepared by the daemon")
	}
	var hexHash string
	if _, err := w.daemon.do(ctx, "send_tx", http.MethodPost, w.path("send-tx"), tx.Raw, &hexHash); err != nil {
		return chainhash.Hash{}, err
	}
	h, err := chain.HashFromHex(hexHash)
	if err != nil {
		return chainhash.Hash{}, errors.Wrap(err, errors.ErrorTypeValidation, "send_tx", "malformed transaction hash")
	}
	return h, nil
}

type txStatus struct {
	ConfirmedHeight *chain.Height `json:"confirmed_height"`
}

func (w *restWallet) WaitTx(ctx context.Context, hash chainhash.Hash) (chain.Height, error) {
	for {
		var st txStatus
		found, err := w.daemon.do(ctx, "wait_tx", http.MethodGet, w.path("transactions", chain.HashHex(hash)), nil, &st)
		if err != nil {
			return 0, err
		}
		if found && st.ConfirmedHeight != nil {
			return *st.ConfirmedHeight, nil
		}
		if err := w.daemon.tips.Next(ctx); err != nil {
			return 0, err
		}
	}
}

var (
	_ Daemon = (*RESTDaemon)(nil)
	_ Client = (*restWallet)(nil)
)
