// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package dex

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Network flags which network the client connects to.
type Network uint8

const (
	Mainnet Network = iota
	Testnet
	Simnet
)

// String returns the string representation of a Network.
func (n Network) String() string {
	switch n {
	case Mainnet:
		return "mainnet"
	case Testnet:
		return "testnet"
	case Simnet:
		return "simnet"
	}
	return ""
}

// NetFromString returns the Network for the given network name.
func NetFromString(net string) (Network, error) {
	switch strings.ToLower(net) {
	case "mainnet":
		return Mainnet, nil
	case "testnet":
		return Testnet, nil
	case "regtest", "regnet", "simnet":
		return Simnet, nil
	}
	return 255, fmt.Errorf("unknown network %s", net)
}

// Family is a chain family. Every asset in a channel belongs to exactly one
// family, and the family decides the signing scheme and the fixed-point
// exponent of the asset's balances.
type Family uint8

const (
	UnknownFamily Family = iota
	Ethereum
	Solana
)

// Channel backend identifiers of the node.
const (
	EthereumBackendID = 1
	SolanaBackendID   = 6
)

// String returns the family's wire name.
func (f Family) String() string {
	switch f {
	case Ethereum:
		return "Ethereum"
	case Solana:
		return "Solana"
	}
	return "unknown"
}

// Exponent is the number of decimal places of the family's native unit, e.g.
// 18 for wei per ether.
func (f Family) Exponent() uint8 {
	switch f {
	case Ethereum:
		return 18
	case Solana:
		return 9
	}
	return 0
}

// BackendID is the node's channel backend identifier for the family.
func (f Family) BackendID() int {
	switch f {
	case Ethereum:
		return EthereumBackendID
	case Solana:
		return SolanaBackendID
	}
	return 0
}

// FamilyFromString parses a family name. Short forms are accepted.
func FamilyFromString(s string) (Family, error) {
	switch strings.ToLower(s) {
	case "ethereum", "eth":
		return Ethereum, nil
	case "solana", "sol":
		return Solana, nil
	}
	return UnknownFamily, fmt.Errorf("unknown asset family %q", s)
}

// MarshalJSON encodes the family as its wire name.
func (f Family) MarshalJSON() ([]byte, error) {
	if f != Ethereum && f != Solana {
		return nil, fmt.Errorf("cannot marshal asset family %d", f)
	}
	return json.Marshal(f.String())
}

// UnmarshalJSON decodes a family from its wire name.
func (f *Family) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	fam, err := FamilyFromString(s)
	if err != nil {
		return err
	}
	*f = fam
	return nil
}

// AssetRef identifies an asset by family plus a family-specific identifier.
// Ethereum assets are identified by the asset holder contract and chain ID,
// Solana assets by mint address. An empty mint is native SOL.
type AssetRef struct {
	Family      Family `json:"assetType"`
	AssetHolder string `json:"assetHolder,omitempty"`
	ChainID     string `json:"chainID,omitempty"`
	Mint        string `json:"mint,omitempty"`
}

// ID is the family-specific identifier of the asset.
func (a AssetRef) ID() string {
	if a.Family == Ethereum {
		return a.AssetHolder
	}
	return a.Mint
}

// Equal reports whether a and b refer to the same asset. Ethereum hex
// addresses compare case-insensitively.
func (a AssetRef) Equal(b AssetRef) bool {
	if a.Family != b.Family {
		return false
	}
	switch a.Family {
	case Ethereum:
		return strings.EqualFold(a.AssetHolder, b.AssetHolder) && a.ChainID == b.ChainID
	default:
		return a.Mint == b.Mint
	}
}

// String is a short description used in logs.
func (a AssetRef) String() string {
	id := a.ID()
	if id == "" {
		id = "native"
	}
	return a.Family.String() + ":" + id
}

// AssetInfo is a configured channel asset.
type AssetInfo struct {
	Ref    AssetRef
	Symbol string
	// Exponent is the fixed-point exponent of balances of this asset.
	Exponent uint8
}

// Assets is the ordered set of assets held in every channel. An asset's
// position is its index in channel balance vectors. Assets is passed
// explicitly wherever asset identity matters. There is no package-level
// asset registry.
type Assets struct {
	assets []*AssetInfo
}

// NewAssets creates an asset set. Assets must be unique. A zero Exponent is
// replaced by the family's default.
func NewAssets(infos ...*AssetInfo) (*Assets, error) {
	if len(infos) == 0 {
		return nil, fmt.Errorf("no assets")
	}
	as := &Assets{assets: make([]*AssetInfo, 0, len(infos))}
	for _, ai := range infos {
		if ai.Ref.Family != Ethereum && ai.Ref.Family != Solana {
			return nil, fmt.Errorf("asset %s: unsupported family", ai.Symbol)
		}
		if _, found := as.Index(ai.Ref); found {
			return nil, fmt.Errorf("duplicate asset %s", ai.Ref)
		}
		cp := *ai
		if cp.Exponent == 0 {
			cp.Exponent = cp.Ref.Family.Exponent()
		}
		as.assets = append(as.assets, &cp)
	}
	return as, nil
}

// DefaultAssets is native ETH on a local dev chain followed by native SOL,
// the asset pair the node deploys by default.
func DefaultAssets() *Assets {
	as, _ := NewAssets(
		&AssetInfo{Ref: AssetRef{Family: Ethereum, ChainID: "1337"}, Symbol: "ETH"},
		&AssetInfo{Ref: AssetRef{Family: Solana}, Symbol: "SOL"},
	)
	return as
}

// Len is the number of assets.
func (as *Assets) Len() int {
	return len(as.assets)
}

// Index returns the balance slot of the asset.
func (as *Assets) Index(ref AssetRef) (int, bool) {
	for i, ai := range as.assets {
		if ai.Ref.Equal(ref) {
			return i, true
		}
	}
	return -1, false
}

// Info returns the configured asset.
func (as *Assets) Info(ref AssetRef) (*AssetInfo, bool) {
	i, found := as.Index(ref)
	if !found {
		return nil, false
	}
	return as.assets[i], true
}

// At returns the asset in slot i.
func (as *Assets) At(i int) *AssetInfo {
	return as.assets[i]
}

// Refs are the asset identities in slot order.
func (as *Assets) Refs() []AssetRef {
	refs := make([]AssetRef, len(as.assets))
	for i, ai := range as.assets {
		refs[i] = ai.Ref
	}
	return refs
}

// Backends are the channel backend identifiers in slot order.
func (as *Assets) Backends() []int {
	ids := make([]int, len(as.assets))
	for i, ai := range as.assets {
		ids[i] = ai.Ref.Family.BackendID()
	}
	return ids
}
