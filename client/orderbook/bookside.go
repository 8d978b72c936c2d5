// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package orderbook

import (
	"decred.org/chandex/dex/order"
	"github.com/huandu/skiplist"
	"github.com/shopspring/decimal"
)

// orderPreference represents ordering preference for a sort.
type orderPreference int

const (
	ascending orderPreference = iota
	descending
)

// bookKey sorts a book side by rate, then by arrival. An entry keeps its
// arrival number for as long as it is booked, so equal rates stay in arrival
// order.
type bookKey struct {
	rate    decimal.Decimal
	arrival uint64
}

// keyComparable is a skiplist.Comparable for bookKeys.
type keyComparable orderPreference

var _ skiplist.Comparable = keyComparable(ascending)

func (k keyComparable) Compare(lhs, rhs interface{}) int {
	l, r := lhs.(bookKey), rhs.(bookKey)
	c := l.rate.Cmp(r.rate)
	if orderPreference(k) == descending {
		c = -c
	}
	if c != 0 {
		return c
	}
	switch {
	case l.arrival < r.arrival:
		return -1
	case l.arrival > r.arrival:
		return 1
	}
	return 0
}

// CalcScore must never contradict Compare. A float rounding collision only
// makes scores equal, and Compare breaks the tie.
func (k keyComparable) CalcScore(key interface{}) float64 {
	f, _ := key.(bookKey).rate.Float64()
	if orderPreference(k) == descending {
		return -f
	}
	return f
}

// bookSide is one side of the order book.
type bookSide struct {
	pref orderPreference
	list *skiplist.SkipList
	keys map[order.OrderID]bookKey
}

func newBookSide(pref orderPreference) *bookSide {
	return &bookSide{
		pref: pref,
		list: skiplist.New(keyComparable(pref)),
		keys: make(map[order.OrderID]bookKey),
	}
}

// add books the order under the key. The caller ensures the id is not already
// on this side.
func (d *bookSide) add(k bookKey, ord *order.Order) {
	d.keys[ord.ID] = k
	d.list.Set(k, ord)
}

// remove unbooks the order. The returned key is used to keep the arrival of a
// replaced order.
func (d *bookSide) remove(oid order.OrderID) (bookKey, bool) {
	k, found := d.keys[oid]
	if !found {
		return bookKey{}, false
	}
	delete(d.keys, oid)
	d.list.Remove(k)
	return k, true
}

func (d *bookSide) has(oid order.OrderID) bool {
	_, found := d.keys[oid]
	return found
}

func (d *bookSide) get(oid order.OrderID) *order.Order {
	k, found := d.keys[oid]
	if !found {
		return nil
	}
	if el := d.list.Get(k); el != nil {
		return el.Value.(*order.Order)
	}
	return nil
}

func (d *bookSide) len() int {
	return d.list.Len()
}

// orders is the sorted side. Returned orders are copies.
func (d *bookSide) orders() []*order.Order {
	ords := make([]*order.Order, 0, d.list.Len())
	for el := d.list.Front(); el != nil; el = el.Next() {
		ords = append(ords, el.Value.(*order.Order).Copy())
	}
	return ords
}

// best is the first order of the side, not copied.
func (d *bookSide) best() *order.Order {
	el := d.list.Front()
	if el == nil {
		return nil
	}
	return el.Value.(*order.Order)
}
