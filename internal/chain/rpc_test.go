package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	minterrors "github.com/bardlex/gomint/pkg/errors"
)

// fakeNode answers raw requests from canned JSON results keyed by method.
type fakeNode struct {
	results map[string]string
	calls   map[string]int
	params  map[string][]json.RawMessage
	err     error
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		results: map[string]string{},
		calls:   map[string]int{},
		params:  map[string][]json.RawMessage{},
	}
}

func (f *fakeNode) RawRequest(method string, params []json.RawMessage) (json.RawMessage, error) {
	f.calls[method]++
	f.params[method] = params
	if f.err != nil {
		return nil, f.err
	}
	res, ok := f.results[method]
	if !ok {
		return nil, fmt.Errorf("method %s not found", method)
	}
	return json.RawMessage(res), nil
}

func (f *fakeNode) Shutdown() {}

func headerJSON(height int, b byte, speed int) string {
	return fmt.Sprintf(`{"height":%d,"hash":%q,"dosc_speed":%d}`, height, HashHex(testHash(b)), speed)
}

func TestRPCSnapshotHeader(t *testing.T) {
	node := newFakeNode()
	node.results[methodTip] = headerJSON(500, 0x05, 9000)
	client := newRPCClient(node)

	snap, err := client.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	h := snap.Header()
	if h.Height != 500 || h.Hash != testHash(0x05) || h.DoscSpeed != 9000 {
		t.Errorf("Header() = %+v", h)
	}
}

func TestRPCOlderIsCached(t *testing.T) {
	node := newFakeNode()
	node.results[methodTip] = headerJSON(500, 0x05, 9000)
	node.results[methodHeader] = headerJSON(450, 0x04, 8000)
	client := newRPCClient(node)
	ctx := context.Background()

	snap, _ := client.Snapshot(ctx)
	for range 3 {
		h, err := snap.Older(ctx, 450)
		if err != nil {
			t.Fatalf("Older() error = %v", err)
		}
		if h.Hash != testHash(0x04) {
			t.Errorf("Older() hash = %s", HashHex(h.Hash))
		}
	}
	if node.calls[methodHeader] != 1 {
		t.Errorf("header fetched %d times, want 1", node.calls[methodHeader])
	}
	if string(node.params[methodHeader][0]) != "450" {
		t.Errorf("header param = %s", node.params[methodHeader][0])
	}

	if h, _ := snap.Older(ctx, 500); h.Hash != testHash(0x05) {
		t.Error("Older(tip) should return the snapshot header")
	}
	if _, err := snap.Older(ctx, 501); !minterrors.IsType(err, minterrors.ErrorTypeValidation) {
		t.Errorf("Older(above tip) error = %v", err)
	}
}

func TestRPCCoin(t *testing.T) {
	node := newFakeNode()
	node.results[methodTip] = headerJSON(500, 0x05, 9000)
	node.results[methodCoin] = `{"coin_data":{"covhash":"abc","value":1,"denom":""},"height":420}`
	client := newRPCClient(node)
	ctx := context.Background()
	snap, _ := client.Snapshot(ctx)

	id := CoinID{TxHash: testHash(0x09), Index: 2}
	cdh, err := snap.Coin(ctx, id)
	if err != nil {
		t.Fatalf("Coin() error = %v", err)
	}
	if cdh.Height != 420 || cdh.CoinData.Covhash != "abc" || cdh.CoinData.Value != 1 {
		t.Errorf("Coin() = %+v", cdh)
	}

	node.results[methodCoin] = `null`
	if _, err := snap.Coin(ctx, id); !errors.Is(err, ErrCoinNotFound) {
		t.Errorf("Coin(spent) error = %v, want ErrCoinNotFound", err)
	}
}

func TestRPCPool(t *testing.T) {
	node := newFakeNode()
	node.results[methodTip] = headerJSON(500, 0x05, 9000)
	node.results[methodPool] = `{"lefts":10,"rights":20}`
	client := newRPCClient(node)
	ctx := context.Background()
	snap, _ := client.Snapshot(ctx)

	p, err := snap.Pool(ctx, MelAnd(DenomErg))
	if err != nil || p.Lefts != 10 || p.Rights != 20 {
		t.Errorf("Pool() = %+v, %v", p, err)
	}

	node.results[methodPool] = `null`
	if _, err := snap.Pool(ctx, MelAnd(DenomSym)); !errors.Is(err, ErrPoolNotFound) {
		t.Errorf("Pool(missing) error = %v", err)
	}
}

func TestRPCErrorsAreChainErrors(t *testing.T) {
	node := newFakeNode()
	node.err = errors.New("boom")
	client := newRPCClient(node)

	_, err := client.Snapshot(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !minterrors.IsType(err, minterrors.ErrorTypeInternal) && !minterrors.IsType(err, minterrors.ErrorTypeChain) {
		t.Errorf("unexpected error type: %v", err)
	}
	if node.calls[methodTip] != client.retryConfig.MaxAttempts {
		t.Errorf("tip requested %d times, want %d retries", node.calls[methodTip], client.retryConfig.MaxAttempts)
	}
}
