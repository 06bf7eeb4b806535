// Package chain defines the chain-side data model of the minter and the
// collaborators that read chain state: snapshots, headers, coins, swap pools
// and the mint reward economics.
package chain

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/fxamacker/cbor/v2"
)

// BlockInterval is the fixed block time of the network.
const BlockInterval = 30

// MicroUnit is the number of base units in one whole coin.
const MicroUnit = 1_000_000

// Height is a block height.
type Height uint64

// CoinValue is an amount in micro-units.
type CoinValue uint64

// String renders the value with six decimals.
func (v CoinValue) String() string {
	return fmt.Sprintf("%d.%06d", uint64(v)/MicroUnit, uint64(v)%MicroUnit)
}

// Float returns the value in whole coins.
func (v CoinValue) Float() float64 {
	return float64(v) / MicroUnit
}

// Denom identifies an asset. Custom denominations are the hex encoding of the
// hash of the transaction that created them.
type Denom string

// Well-known denominations, hex encoded as the wallet daemon reports them.
const (
	DenomMel     Denom = "6d"
	DenomSym     Denom = "73"
	DenomErg     Denom = "64"
	DenomNewCoin Denom = ""
)

// CustomDenom returns the denomination created by transaction h.
func CustomDenom(h chainhash.Hash) Denom {
	return Denom(hex.EncodeToString(h[:]))
}

// IsCustom reports whether d was created by a transaction (a seed denomination).
func (d Denom) IsCustom() bool {
	if len(d) != 2*chainhash.HashSize {
		return false
	}
	_, err := hex.DecodeString(string(d))
	return err == nil
}

// Address is a covenant hash in the wallet daemon's textual form.
type Address string

// NetID selects the network.
type NetID uint8

const (
	Mainnet NetID = 0xff
	Testnet NetID = 0x01
)

// String returns the network name used in wallet names.
func (n NetID) String() string {
	if n == Mainnet {
		return "Mainnet"
	}
	return "Testnet"
}

// HashFromHex parses a hash in plain (non byte-reversed) hex.
func HashFromHex(s string) (chainhash.Hash, error) {
	var h chainhash.Hash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if err := h.SetBytes(raw); err != nil {
		return h, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	return h, nil
}

// HashHex renders a hash in plain (non byte-reversed) hex.
func HashHex(h chainhash.Hash) string {
	return hex.EncodeToString(h[:])
}

// CoinID identifies a transaction output.
type CoinID struct {
	TxHash chainhash.Hash
	Index  uint8
}

// String renders the id as "<txhash>-<index>".
func (c CoinID) String() string {
	return HashHex(c.TxHash) + "-" + strconv.Itoa(int(c.Index))
}

// MarshalText implements encoding.TextMarshaler so ids can key JSON maps.
func (c CoinID) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *CoinID) UnmarshalText(text []byte) error {
	id, err := ParseCoinID(string(text))
	if err != nil {
		return err
	}
	*c = id
	return nil
}

// ParseCoinID parses the "<txhash>-<index>" form.
func ParseCoinID(s string) (CoinID, error) {
	hashPart, idxPart, ok := strings.Cut(s, "-")
	if !ok {
		return CoinID{}, fmt.Errorf("invalid coin id %q", s)
	}
	h, err := HashFromHex(hashPart)
	if err != nil {
		return CoinID{}, err
	}
	idx, err := strconv.ParseUint(idxPart, 10, 8)
	if err != nil {
		return CoinID{}, fmt.Errorf("invalid coin index in %q: %w", s, err)
	}
	return CoinID{TxHash: h, Index: uint8(idx)}, nil
}

// Less orders ids by transaction hash, then index.
func (c CoinID) Less(o CoinID) bool {
	if cmp := strings.Compare(string(c.TxHash[:]), string(o.TxHash[:])); cmp != 0 {
		return cmp < 0
	}
	return c.Index < o.Index
}

// Bytes returns the fixed 33-byte binary form, used as a storage key.
func (c CoinID) Bytes() []byte {
	out := make([]byte, chainhash.HashSize+1)
	copy(out, c.TxHash[:])
	out[chainhash.HashSize] = c.Index
	return out
}

// CoinIDFromBytes is the inverse of Bytes.
func CoinIDFromBytes(b []byte) (CoinID, error) {
	if len(b) != chainhash.HashSize+1 {
		return CoinID{}, fmt.Errorf("coin id must be %d bytes, got %d", chainhash.HashSize+1, len(b))
	}
	var c CoinID
	copy(c.TxHash[:], b[:chainhash.HashSize])
	c.Index = b[chainhash.HashSize]
	return c, nil
}

type coinIDWire struct {
	_      struct{} `cbor:",toarray"`
	TxHash []byte
	Index  uint8
}

var canonical = func() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// CanonicalEncoding returns the deterministic CBOR encoding of the id. It is
// the message half of a proof challenge.
func (c CoinID) CanonicalEncoding() []byte {
	out, err := canonical.Marshal(coinIDWire{TxHash: c.TxHash[:], Index: c.Index})
	if err != nil {
		// fixed-shape struct, cannot fail
		panic(err)
	}
	return out
}

type mintDataWire struct {
	_          struct{} `cbor:",toarray"`
	Difficulty uint64
	Proof      []byte
}

// MintData encodes the data field of a doscmint transaction: the
// difficulty the proof was solved at and the proof itself.
func MintData(difficulty uint, proof []byte) []byte {
	out, err := canonical.Marshal(mintDataWire{Difficulty: uint64(difficulty), Proof: proof})
	if err != nil {
		panic(err)
	}
	return out
}

// CoinData is the content of an output.
type CoinData struct {
	Covhash        Address   `json:"covhash"`
	Value          CoinValue `json:"value"`
	Denom          Denom     `json:"denom"`
	AdditionalData []byte    `json:"additional_data,omitempty"`
}

// CoinDataHeight is an output together with the height it was confirmed at.
type CoinDataHeight struct {
	CoinData CoinData `json:"coin_data"`
	Height   Height   `json:"height"`
}

// Header is the part of a block header the minter needs.
type Header struct {
	Height Height         `json:"height"`
	Hash   chainhash.Hash `json:"-"`
	// DoscSpeed is the network's fastest observed hash count per block.
	DoscSpeed uint64 `json:"dosc_speed"`
}

// FastestSpeed returns the network's fastest speed in hashes per second.
func (h Header) FastestSpeed() float64 {
	return float64(h.DoscSpeed) / BlockInterval
}
