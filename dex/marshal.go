// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package dex

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
)

// Bytes is a byte slice that marshals to and unmarshals from a hexadecimal
// string. The default go behavior is to marshal []byte to a base-64 string.
type Bytes []byte

// String return the hex encoding of the Bytes.
func (b Bytes) String() string {
	return hex.EncodeToString(b)
}

// MarshalJSON satisfies the json.Marshaller interface, and will marshal the
// bytes to a hex string.
func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(b))
}

// UnmarshalJSON satisfies the json.Unmarshaler interface, and expects a UTF-8
// encoding of a hex string.
func (b *Bytes) UnmarshalJSON(encHex []byte) (err error) {
	if len(encHex) < 2 {
		return fmt.Errorf("marshalled Bytes, '%s', not valid", string(encHex))
	}
	*b, err = hex.DecodeString(string(encHex[1 : len(encHex)-1]))
	return err
}

// BigInt is an arbitrary precision integer that marshals to and from a base-10
// JSON string. Channel balances are on-chain magnitudes that overflow uint64
// and lose precision as JSON numbers.
type BigInt struct {
	*big.Int
}

// NewBigInt wraps a copy of i. A nil i is zero.
func NewBigInt(i *big.Int) BigInt {
	if i == nil {
		return BigInt{new(big.Int)}
	}
	return BigInt{new(big.Int).Set(i)}
}

// BigInts wraps copies of each element of ints.
func BigInts(ints []*big.Int) []BigInt {
	out := make([]BigInt, len(ints))
	for i, v := range ints {
		out[i] = NewBigInt(v)
	}
	return out
}

// Big returns the underlying *big.Int, never nil.
func (b BigInt) Big() *big.Int {
	if b.Int == nil {
		return new(big.Int)
	}
	return b.Int
}

// MarshalJSON marshals the integer as a decimal string.
func (b BigInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Big().String())
}

// UnmarshalJSON accepts a JSON string of decimal digits, optionally signed.
func (b *BigInt) UnmarshalJSON(d []byte) error {
	var s string
	if err := json.Unmarshal(d, &s); err != nil {
		return err
	}
	i, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("not a valid big integer: %s", d)
	}
	b.Int = i
	return nil
}
