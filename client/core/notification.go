// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package core

import (
	"fmt"
	"time"

	"decred.org/chandex/client/comms"
	"decred.org/chandex/dex"
	"decred.org/chandex/dex/calc"
	"decred.org/chandex/dex/order"
)

// noteBufferSize is the capacity of each notification feed. A full feed drops
// notifications.
const noteBufferSize = 128

// Severity is the importance of a notification.
type Severity uint8

const (
	Ignorable Severity = iota
	// Data notifications carry state for consumers and are not meant for
	// display.
	Data
	Poke
	Success
	WarningLevel
	ErrorLevel
)

// String gives the severity name.
func (s Severity) String() string {
	switch s {
	case Ignorable:
		return "ignorable"
	case Data:
		return "data"
	case Poke:
		return "poke"
	case Success:
		return "success"
	case WarningLevel:
		return "warning"
	case ErrorLevel:
		return "error"
	}
	return "unknown"
}

// Notification is a user notification.
type Notification interface {
	// Type is a string ID unique to the concrete type.
	Type() string
	// Subject is a short description of the notification contents.
	Subject() string
	// Details should contain more detailed information.
	Details() string
	// Severity is the notification severity.
	Severity() Severity
	// Time is the notification timestamp, a UNIX timestamp in milliseconds.
	Time() uint64
}

// noteBase implements Notification. Concrete notes embed it.
type noteBase struct {
	NoteType    string   `json:"type"`
	SubjectText string   `json:"subject"`
	DetailText  string   `json:"details"`
	Sev         Severity `json:"severity"`
	TimeStamp   uint64   `json:"stamp"`
}

func newNoteBase(noteType, subject, details string, severity Severity) noteBase {
	return noteBase{
		NoteType:    noteType,
		SubjectText: subject,
		DetailText:  details,
		Sev:         severity,
		TimeStamp:   uint64(time.Now().UnixMilli()),
	}
}

func (n *noteBase) Type() string       { return n.NoteType }
func (n *noteBase) Subject() string    { return n.SubjectText }
func (n *noteBase) Details() string    { return n.DetailText }
func (n *noteBase) Severity() Severity { return n.Sev }
func (n *noteBase) Time() uint64       { return n.TimeStamp }

// Notification types.
const (
	NoteTypeConnEvent  = "conn"
	NoteTypeChannel    = "channel"
	NoteTypeFunding    = "funding"
	NoteTypeProposal   = "proposal"
	NoteTypeOrder      = "order"
	NoteTypeSettlement = "settlement"
)

// ConnEventNote reports a change of the node connection.
type ConnEventNote struct {
	noteBase
	Status comms.ConnectionStatus `json:"status"`
}

func newConnEventNote(status comms.ConnectionStatus) *ConnEventNote {
	sev := Success
	if status != comms.Connected {
		sev = WarningLevel
	}
	return &ConnEventNote{
		noteBase: newNoteBase(NoteTypeConnEvent, "Node connection", status.String(), sev),
		Status:   status,
	}
}

// Channel events.
const (
	ChannelCreated = "created"
	ChannelUpdated = "updated"
	ChannelClosed  = "closed"
)

// ChannelNote reports a channel lifecycle event.
type ChannelNote struct {
	noteBase
	Event   string   `json:"event"`
	Channel *Channel `json:"channel"`
}

func newChannelNote(event string, ch *Channel, severity Severity) *ChannelNote {
	return &ChannelNote{
		noteBase: newNoteBase(NoteTypeChannel, "Channel "+event, ch.ID.String(), severity),
		Event:    event,
		Channel:  ch,
	}
}

// FundingNote reports that a proposed channel was not funded.
type FundingNote struct {
	noteBase
	ProposalID dex.Bytes `json:"proposalID"`
	ChannelID  dex.Bytes `json:"channelID,omitempty"`
}

func newFundingNote(proposalID, channelID dex.Bytes, err error) *FundingNote {
	return &FundingNote{
		noteBase:   newNoteBase(NoteTypeFunding, "Channel funding failed", err.Error(), ErrorLevel),
		ProposalID: proposalID,
		ChannelID:  channelID,
	}
}

// ProposalNote reports the answer given to a peer's proposal.
type ProposalNote struct {
	noteBase
	Proposal *Proposal `json:"proposal"`
	Accepted bool      `json:"accepted"`
}

func newProposalNote(p *Proposal, accepted bool, reason string) *ProposalNote {
	kind := "Channel proposal"
	if p.Update {
		kind = "Channel update proposal"
	}
	subject, sev := kind+" accepted", Success
	if !accepted {
		subject, sev = kind+" rejected", WarningLevel
	}
	details := p.ID.String()
	if reason != "" {
		details += ": " + reason
	}
	return &ProposalNote{
		noteBase: newNoteBase(NoteTypeProposal, subject, details, sev),
		Proposal: p,
		Accepted: accepted,
	}
}

// OrderNote reports a change of one of the client's orders.
type OrderNote struct {
	noteBase
	Order *order.Order `json:"order"`
}

func newOrderNote(subject string, ord *order.Order, severity Severity) *OrderNote {
	return &OrderNote{
		noteBase: newNoteBase(NoteTypeOrder, subject,
			fmt.Sprintf("%s %s %s @ %s (%s)", ord.ID, ord.Side, ord.Amount, ord.Price, ord.Status), severity),
		Order: ord,
	}
}

// SettlementNote reports the outcome of taking an order. Settlement is nil
// when the trade failed.
type SettlementNote struct {
	noteBase
	OrderID    order.OrderID    `json:"orderID"`
	Settlement *calc.Settlement `json:"settlement,omitempty"`
}

func newSettlementNote(oid order.OrderID, s *calc.Settlement, err error) *SettlementNote {
	if err != nil {
		return &SettlementNote{
			noteBase: newNoteBase(NoteTypeSettlement, "Settlement failed", fmt.Sprintf("%s: %v", oid, err), ErrorLevel),
			OrderID:  oid,
		}
	}
	return &SettlementNote{
		noteBase:   newNoteBase(NoteTypeSettlement, "Order settled", oid.String(), Success),
		OrderID:    oid,
		Settlement: s,
	}
}

// notify sends a notification to all subscribers. A full feed drops the
// notification.
func (c *Core) notify(n Notification) {
	if n.Severity() >= WarningLevel {
		log.Warnf("%s: %s", n.Subject(), n.Details())
	} else {
		log.Debugf("%s: %s", n.Subject(), n.Details())
	}
	c.noteMtx.RLock()
	defer c.noteMtx.RUnlock()
	for _, ch := range c.noteChans {
		select {
		case ch <- n:
		default:
			log.Errorf("Blocking notification channel. Dropping %q note", n.Subject())
		}
	}
}

// Notifications returns a new receiving channel for notifications. The channel
// should be monitored for the lifetime of the Core.
func (c *Core) Notifications() <-chan Notification {
	ch := make(chan Notification, noteBufferSize)
	c.noteMtx.Lock()
	c.noteChans = append(c.noteChans, ch)
	c.noteMtx.Unlock()
	return ch
}
