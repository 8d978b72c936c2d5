// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package core

import (
	"bytes"
	"context"
	"fmt"
	"time"

	dexdb "decred.org/chandex/client/db"
	"decred.org/chandex/dex"
	"decred.org/chandex/dex/calc"
	"decred.org/chandex/dex/msgjson"
	"decred.org/chandex/dex/order"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeForm is a new order.
type TradeForm struct {
	Side  order.Side
	Base  dex.AssetRef
	Quote dex.AssetRef
	// Price is quote units per base unit and Amount is base units, both as
	// conventional decimal strings.
	Price  string
	Amount string
	// Lifetime is how long the order stays open. Zero never expires.
	Lifetime time.Duration
}

// checkDecimals rejects values with more decimal places than the asset's
// fixed-point exponent can hold.
func checkDecimals(name, s string, exp uint8) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q", name, s)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s %s is not positive", name, s)
	}
	if !d.Equal(d.Truncate(int32(exp))) {
		return decimal.Zero, fmt.Errorf("%s %s has more than %d decimal places", name, s, exp)
	}
	return d, nil
}

// CreateOrder posts an order to the active channel's book. The order is
// stored with status Open once the node acknowledges it.
func (c *Core) CreateOrder(ctx context.Context, form *TradeForm) (*order.Order, error) {
	ch := c.activeChannel()
	if ch == nil {
		return nil, codedError(orderParamsErr, ErrNoChannel)
	}
	if !form.Side.Valid() {
		return nil, newError(orderParamsErr, "invalid side %q", form.Side)
	}
	base, found := c.assets.Info(form.Base)
	if !found {
		return nil, newError(orderParamsErr, "%w: base %s", calc.ErrUnknownAsset, form.Base)
	}
	quote, found := c.assets.Info(form.Quote)
	if !found {
		return nil, newError(orderParamsErr, "%w: quote %s", calc.ErrUnknownAsset, form.Quote)
	}
	if base.Ref.Equal(quote.Ref) {
		return nil, newError(orderParamsErr, "base and quote are both %s", base.Ref)
	}
	amt, err := checkDecimals("amount", form.Amount, base.Exponent)
	if err != nil {
		return nil, codedError(orderParamsErr, err)
	}
	price, err := checkDecimals("price", form.Price, quote.Exponent)
	if err != nil {
		return nil, codedError(orderParamsErr, err)
	}

	now := time.Now()
	ord := &order.Order{
		ID:        order.OrderID(uuid.New().String()),
		ChannelID: ch.ID,
		MakerIdx:  ch.Idx,
		Side:      form.Side,
		Base:      base.Ref,
		Quote:     quote.Ref,
		Price:     price.String(),
		Amount:    amt.String(),
		Status:    order.StatusOpen,
		CreatedAt: now.Unix(),
	}
	if form.Lifetime > 0 {
		exp := now.Add(form.Lifetime).Unix()
		ord.ExpiresAt = &exp
	}
	if err := ord.Validate(); err != nil {
		return nil, codedError(orderParamsErr, err)
	}

	var ack msgjson.CreateOrderAck
	if err := c.request(ctx, msgjson.CreateOrderRoute, &msgjson.CreateOrder{Order: ord}, &ack); err != nil {
		return nil, newError(orderRejectedErr, "create_order request failed: %w", err)
	}
	if !ack.Accepted {
		return nil, codedError(orderRejectedErr, dex.NewError(ErrOrderRejected, ack.Reason))
	}
	if ack.ID != "" && ack.ID != ord.ID {
		return nil, newError(orderRejectedErr, "acknowledgement for order %s, expected %s", ack.ID, ord.ID)
	}
	if err := c.db.UpdateOrder(&dexdb.OrderRecord{Order: ord, Own: true}); err != nil {
		return nil, codedError(dbErr, err)
	}
	log.Infof("Created order %s: %s %s @ %s", ord.ID, ord.Side, ord.Amount, ord.Price)
	c.notify(newOrderNote("Order created", ord, Poke))
	return ord.Copy(), nil
}

// CancelOrder cancels one of the client's open orders.
func (c *Core) CancelOrder(ctx context.Context, oid order.OrderID, reason string) error {
	ch := c.activeChannel()
	if ch == nil {
		return codedError(orderParamsErr, ErrNoChannel)
	}
	rec, err := c.db.Order(oid)
	if err != nil {
		return codedError(unknownOrderErr, err)
	}
	if !rec.Own {
		return newError(unknownOrderErr, "order %s is not ours", oid)
	}
	if !rec.Order.Status.Active() {
		return newError(orderParamsErr, "order %s is %s", oid, rec.Order.Status)
	}
	var ack msgjson.CancelOrderAck
	err = c.request(ctx, msgjson.CancelOrderRoute, &msgjson.CancelOrder{
		ChannelID: ch.ID,
		ID:        oid,
		Reason:    reason,
	}, &ack)
	if err != nil {
		return newError(orderRejectedErr, "cancel_order request failed: %w", err)
	}
	if !ack.Success {
		return codedError(orderRejectedErr, dex.NewError(ErrOrderRejected, ack.Reason))
	}
	rec.Order.Status = order.StatusCanceled
	if err := c.db.UpdateOrder(rec); err != nil {
		return codedError(dbErr, err)
	}
	c.notify(newOrderNote("Order canceled", rec.Order, Poke))
	return nil
}

// ActiveOrders are the stored orders that are open or accepted.
func (c *Core) ActiveOrders() ([]*order.Order, error) {
	recs, err := c.db.ActiveOrders()
	if err != nil {
		return nil, codedError(dbErr, err)
	}
	ords := make([]*order.Order, 0, len(recs))
	for _, rec := range recs {
		ords = append(ords, rec.Order)
	}
	return ords, nil
}

// AcceptOrder takes a booked order and settles it over the active channel.
// The order is marked tentative while the node is consulted. On any failure
// the mark is rolled back and the channel balances are unchanged.
func (c *Core) AcceptOrder(ctx context.Context, oid order.OrderID) (*calc.Settlement, error) {
	c.tradeMtx.Lock()
	defer c.tradeMtx.Unlock()

	s, err := c.acceptOrder(ctx, oid)
	if err != nil {
		c.notify(newSettlementNote(oid, nil, err))
		return nil, err
	}
	c.notify(newSettlementNote(oid, s, nil))
	return s, nil
}

func (c *Core) acceptOrder(ctx context.Context, oid order.OrderID) (*calc.Settlement, error) {
	ch := c.activeChannel()
	if ch == nil {
		return nil, codedError(settlementErr, ErrNoChannel)
	}
	ord, found := c.book.Order(oid)
	if !found {
		return nil, codedError(unknownOrderErr, dex.NewError(ErrOrderNotFound, oid.String()))
	}
	if len(ord.ChannelID) > 0 && !bytes.Equal(ord.ChannelID, ch.ID) {
		return nil, newError(settlementErr, "order %s is on channel %s", oid, ord.ChannelID)
	}
	if ord.MakerIdx == ch.Idx {
		return nil, codedError(settlementErr, dex.NewError(ErrSelfTrade, oid.String()))
	}
	if ord.Expired(time.Now()) {
		return nil, newError(settlementErr, "order %s expired", oid)
	}
	if !c.book.MarkTentative(oid) {
		return nil, codedError(settlementErr, dex.NewError(ErrOrderBusy, oid.String()))
	}
	var settled bool
	defer func() {
		if !settled {
			c.book.Rollback(oid)
		}
	}()

	// Compute first so that an impossible trade never reaches the node.
	s, err := calc.Settle(ord, &calc.Balances{Local: ch.Local, Peer: ch.Peer}, c.assets, ch.Idx)
	if err != nil {
		return nil, codedError(settlementErr, err)
	}
	if !s.Sufficient() {
		return nil, codedError(settlementErr, dex.NewError(ErrInsufficientBalance, oid.String()))
	}

	var ack msgjson.AcceptOrderAck
	err = c.request(ctx, msgjson.AcceptOrderRoute, &msgjson.AcceptOrder{
		ChannelID: ch.ID,
		ID:        oid,
		Amount:    ord.Amount,
	}, &ack)
	if err != nil {
		return nil, newError(settlementErr, "accept_order request failed: %w", err)
	}
	if !ack.Accepted {
		return nil, codedError(orderRejectedErr, dex.NewError(ErrOrderRejected, ack.Reason))
	}

	var resp msgjson.ProposalResponse
	err = c.request(ctx, msgjson.ChannelUpdateRoute, &msgjson.UpdateChannel{
		ID:      ch.ID,
		State:   c.channelState(s.Local, s.Peer, ch.Version+1),
		OrderID: oid,
	}, &resp)
	if err != nil {
		return nil, newError(settlementErr, "channel_update request failed: %w", err)
	}
	if !resp.Accepted {
		return nil, codedError(settlementErr, dex.NewError(ErrUpdateRejected, resp.RejectReason))
	}

	c.chanMtx.Lock()
	active := c.channel
	if active == nil || !bytes.Equal(active.ID, ch.ID) {
		c.chanMtx.Unlock()
		return nil, newError(settlementErr, "channel %s closed during settlement", ch.ID)
	}
	active.Local, active.Peer = copyBigs(s.Local), copyBigs(s.Peer)
	active.Version = ch.Version + 1
	cp := active.copy()
	c.chanMtx.Unlock()
	settled = true
	c.book.Reconcile(oid, order.StatusFilled)

	if err := c.db.StoreChannel(cp.record()); err != nil {
		log.Errorf("Error storing settled channel %s: %v", cp.ID, err)
	}
	filled := ord.Copy()
	filled.Status = order.StatusFilled
	if err := c.db.UpdateOrder(&dexdb.OrderRecord{Order: filled}); err != nil {
		log.Errorf("Error storing filled order %s: %v", oid, err)
	}
	log.Infof("Settled order %s on channel %s (version %d)", oid, cp.ID, cp.Version)
	c.notify(newChannelNote(ChannelUpdated, cp, Data))
	c.goBackupState(cp.ID)
	return s, nil
}

// handleBookSnapshot replaces the book with the node's snapshot.
func (c *Core) handleBookSnapshot(msg *msgjson.Message) {
	var snap msgjson.OrderBookSnapshot
	if err := msg.Unmarshal(&snap); err != nil {
		log.Errorf("Invalid order_book_snapshot payload: %v", err)
		return
	}
	if ch := c.activeChannel(); ch != nil && len(snap.ChannelID) > 0 && !bytes.Equal(ch.ID, snap.ChannelID) {
		log.Debugf("Ignoring snapshot for inactive channel %s", snap.ChannelID)
		return
	}
	c.book.Sync(&snap)
}

// handleBookDelta applies an incremental book change. Updates to the
// client's own orders are stored. A removed order, or one the node reports as
// no longer open, ends any tentative fill of it.
func (c *Core) handleBookDelta(msg *msgjson.Message) {
	var delta msgjson.OrderBookDelta
	if err := msg.Unmarshal(&delta); err != nil {
		log.Errorf("Invalid order_book_delta payload: %v", err)
		return
	}
	if err := c.book.Update(&delta); err != nil {
		log.Debugf("Order book delta not applied: %v", err)
		return
	}
	for _, oid := range delta.Removed {
		c.book.Reconcile(oid, "")
	}
	for _, ord := range delta.Updated {
		if ord == nil || !ord.Status.Known() {
			continue
		}
		if ord.Status != order.StatusOpen {
			c.book.Reconcile(ord.ID, ord.Status)
		}
		rec, err := c.db.Order(ord.ID)
		if err != nil || !rec.Own || rec.Order.Status == ord.Status {
			continue
		}
		rec.Order.Status = ord.Status
		if err := c.db.UpdateOrder(rec); err != nil {
			log.Errorf("Error storing order %s: %v", ord.ID, err)
			continue
		}
		c.notify(newOrderNote("Order "+string(ord.Status), rec.Order, Poke))
	}
}
