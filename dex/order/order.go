// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package order defines the off-chain Order type traded over a channel.
package order

import (
	"fmt"
	"time"

	"decred.org/chandex/dex"
	"github.com/shopspring/decimal"
)

// OrderID is the unique identifier of an off-chain order.
type OrderID string

// String returns the OrderID as a string.
func (oid OrderID) String() string {
	return string(oid)
}

// Side is the maker's side of the order.
type Side string

const (
	// Bid is a maker buying base and paying quote.
	Bid Side = "bid"
	// Ask is a maker selling base and receiving quote.
	Ask Side = "ask"
)

// Valid reports whether the side is Bid or Ask.
func (s Side) Valid() bool {
	return s == Bid || s == Ask
}

// Order is a limit order posted to a channel's order book. Price is quote per
// base and Amount is in whole base units, both as decimal strings.
type Order struct {
	ID        OrderID      `json:"id"`
	ChannelID dex.Bytes    `json:"channelID"`
	MakerIdx  uint8        `json:"makerIdx"`
	Side      Side         `json:"side"`
	Base      dex.AssetRef `json:"base"`
	Quote     dex.AssetRef `json:"quote"`
	Price     string       `json:"price"`
	Amount    string       `json:"amount"`
	Status    Status       `json:"status"`
	CreatedAt int64        `json:"createdAt"`
	ExpiresAt *int64       `json:"expiresAt,omitempty"`
	ClientTag string       `json:"clientTag,omitempty"`
}

// Rate parses the order price.
func (o *Order) Rate() (decimal.Decimal, error) {
	return parsePositive("price", o.Price)
}

// Quantity parses the order amount.
func (o *Order) Quantity() (decimal.Decimal, error) {
	return parsePositive("amount", o.Amount)
}

// Validate checks the fields needed to book or settle the order.
func (o *Order) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("empty order id")
	}
	if !o.Side.Valid() {
		return fmt.Errorf("order %s: invalid side %q", o.ID, o.Side)
	}
	if o.MakerIdx > 1 {
		return fmt.Errorf("order %s: invalid maker index %d", o.ID, o.MakerIdx)
	}
	if _, err := o.Rate(); err != nil {
		return fmt.Errorf("order %s: %w", o.ID, err)
	}
	if _, err := o.Quantity(); err != nil {
		return fmt.Errorf("order %s: %w", o.ID, err)
	}
	return nil
}

// Expired reports whether the order has an expiration before t.
func (o *Order) Expired(t time.Time) bool {
	return o.ExpiresAt != nil && *o.ExpiresAt < t.Unix()
}

// Copy returns a deep copy of the order.
func (o *Order) Copy() *Order {
	c := *o
	if o.ChannelID != nil {
		c.ChannelID = append(dex.Bytes(nil), o.ChannelID...)
	}
	if o.ExpiresAt != nil {
		exp := *o.ExpiresAt
		c.ExpiresAt = &exp
	}
	return &c
}

func parsePositive(name, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s %s is not positive", name, s)
	}
	return d, nil
}
