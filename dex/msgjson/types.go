// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package msgjson

import (
	"encoding/json"
	"fmt"

	"decred.org/chandex/dex"
	"decred.org/chandex/dex/order"
)

// Error codes
const (
	RPCErrorUnspecified      = iota // 0
	RPCParseError                   // 1
	RPCUnknownRoute                 // 2
	RPCInternal                     // 3
	RPCArgumentsError               // 4
	TooManyRequestsError            // 5
	UnknownResponseID               // 6
	SignerUnavailableError          // 7
	UserRejectedError               // 8
	RelayRejectedError              // 9
	RelayTransportError             // 10
	ChannelNotFoundError            // 11
	ChannelFundingError             // 12
	OrderNotFoundError              // 13
	OrderParameterError             // 14
	OrderRejectedError              // 15
	SettlementError                 // 16
	NotInitializedError             // 17
)

// Routes are destinations for a "payload" of data. The type of data being
// delivered, and what kind of action is expected from the receiving party, is
// completely dependent on the route. The route designation is a string sent as
// the "route" parameter of a JSON-encoded Message.
const (
	// InitRoute is the client-originating request announcing the client's
	// chain addresses. The node starts a channel client for them and answers
	// with Initialized.
	InitRoute = "init"
	// OpenChannelRoute is the client-originating request proposing a new
	// ledger channel to a peer.
	OpenChannelRoute = "open_channel"
	// CloseChannelRoute is the client-originating request to settle and close
	// a channel.
	CloseChannelRoute = "close_channel"
	// GetChannelInfoRoute is the client-originating request for the current
	// state of a channel.
	GetChannelInfoRoute = "get_channel_info"
	// GetSignedStateRoute is the client-originating request for the latest
	// fully signed channel state, held locally for fund recovery when the
	// node is unreachable.
	GetSignedStateRoute = "get_signed_state"
	// GetOrderBookRoute is the client-originating request for an order book
	// snapshot or the delta since a sequence.
	GetOrderBookRoute = "get_order_book"
	// CreateOrderRoute is the client-originating request posting an order.
	CreateOrderRoute = "create_order"
	// CancelOrderRoute is the client-originating request cancelling one of
	// the client's orders.
	CancelOrderRoute = "cancel_order"
	// AcceptOrderRoute is the client-originating request taking an order.
	AcceptOrderRoute = "accept_order"
	// ChannelUpdateRoute is the client-originating request proposing a new
	// channel state, e.g. the settlement of an accepted order.
	ChannelUpdateRoute = "channel_update"
	// ProposalResponseRoute names the result body of a reply to a channel or
	// update proposal. It is also the client-originating request answering a
	// proposal that arrived as a notification.
	ProposalResponseRoute = "proposal_response"
	// SignResponseRoute names the result body of a reply to a signature
	// request.
	SignResponseRoute = "sign_response"

	// ChannelProposalRoute is a node-originating message relaying a peer's
	// channel proposal. It may be a notification or a request expecting a
	// ProposalResponse.
	ChannelProposalRoute = "channel_proposal"
	// ChannelCreatedRoute is the node-originating notification that a
	// proposed channel is funded and open.
	ChannelCreatedRoute = "channel_created"
	// ChannelClosedRoute is the node-originating notification that a channel
	// was closed.
	ChannelClosedRoute = "channel_closed"
	// ChannelUpdateProposalRoute is a node-originating message relaying a
	// peer's proposed channel state. Like ChannelProposalRoute it may be a
	// request.
	ChannelUpdateProposalRoute = "channel_update_proposal"
	// FundingErrorRoute is the node-originating notification that funding a
	// proposed channel failed.
	FundingErrorRoute = "funding_error"
	// OrderBookSnapshotRoute is the node-originating notification carrying a
	// full order book.
	OrderBookSnapshotRoute = "order_book_snapshot"
	// OrderBookDeltaRoute is the node-originating notification carrying an
	// incremental order book change.
	OrderBookDeltaRoute = "order_book_delta"

	// RequestSignatureRoute is the node-originating request for a signature
	// over data with one of the client's chain keys.
	RequestSignatureRoute = "request_signature"
	// RequestTransactionRelayRoute is the node-originating request to sign
	// and relay a transaction with one of the client's chain keys.
	RequestTransactionRelayRoute = "request_transaction_relay"
)

const errNullRespPayload = dex.ErrorKind("null response payload")

// Bytes is a hex-encoded byte slice.
type Bytes = dex.Bytes

// BigInt is a decimal-string encoded integer.
type BigInt = dex.BigInt

// Error is returned as part of the Response to indicate that an error
// occurred during method execution.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error returns the error message. Satisfies the error interface.
func (e *Error) Error() string {
	return e.String()
}

// String satisfies the Stringer interface for pretty printing.
func (e Error) String() string {
	return fmt.Sprintf("error code %d: %s", e.Code, e.Message)
}

// NewError is a constructor for an Error.
func NewError(code int, format string, a ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, a...),
	}
}

// ResponsePayload is the payload for a Response-type Message.
type ResponsePayload struct {
	// Result is the payload, if successful, else nil.
	Result json.RawMessage `json:"result,omitempty"`
	// Error is the error, or nil if none was encountered.
	Error *Error `json:"error,omitempty"`
}

// MessageType indicates the type of message. MessageType is typically the first
// switch checked when examining a message, and how the rest of the message is
// decoded depends on its MessageType.
type MessageType uint8

// There are presently three recognized message types: request, response, and
// notification.
const (
	InvalidMessageType MessageType = iota // 0
	Request                               // 1
	Response                              // 2
	Notification                          // 3
)

// String satisfies the Stringer interface for translating the MessageType code
// into a description, primarily for logging.
func (mt MessageType) String() string {
	switch mt {
	case Request:
		return "request"
	case Response:
		return "response"
	case Notification:
		return "notification"
	default:
		return "unknown MessageType"
	}
}

// Message is the primary messaging type for websocket communications. It is
// a tagged union: Type selects Request, Response or Notification, Route is
// the kind discriminator of requests and notifications, and ID correlates a
// request with its response in either direction.
type Message struct {
	// Type is the message type.
	Type MessageType `json:"type"`
	// Route is used for requests and notifications, and specifies a handler for
	// the message.
	Route string `json:"route,omitempty"`
	// ID is a unique number that is used to link a response to a request.
	ID uint64 `json:"id,omitempty"`
	// Payload is any data attached to the message. How Payload is decoded
	// depends on the Route.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeMessage decodes a *Message from JSON-formatted bytes and checks that
// the fields required by its type are set.
func DecodeMessage(b []byte) (*Message, error) {
	msg := new(Message)
	err := json.Unmarshal(b, &msg)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("null message")
	}
	switch msg.Type {
	case Request:
		if msg.ID == 0 {
			return nil, fmt.Errorf("request id cannot be zero")
		}
		if msg.Route == "" {
			return nil, fmt.Errorf("request has no route")
		}
	case Response:
		if msg.ID == 0 {
			return nil, fmt.Errorf("response id cannot be zero")
		}
	case Notification:
		if msg.Route == "" {
			return nil, fmt.Errorf("notification has no route")
		}
	default:
		return nil, fmt.Errorf("unknown message type %d", msg.Type)
	}
	return msg, nil
}

// NewRequest is the constructor for a Request-type *Message.
func NewRequest(id uint64, route string, payload any) (*Message, error) {
	if id == 0 {
		return nil, fmt.Errorf("id = 0 not allowed for a request-type message")
	}
	if route == "" {
		return nil, fmt.Errorf("empty string not allowed for route of request-type message")
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    Request,
		Payload: encoded,
		Route:   route,
		ID:      id,
	}, nil
}

// NewResponse encodes the result and creates a Response-type *Message.
func NewResponse(id uint64, result any, rpcErr *Error) (*Message, error) {
	if id == 0 {
		return nil, fmt.Errorf("id = 0 not allowed for response-type message")
	}
	encResult, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	resp := &ResponsePayload{
		Result: encResult,
		Error:  rpcErr,
	}
	encResp, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    Response,
		Payload: encResp,
		ID:      id,
	}, nil
}

// Response attempts to decode the payload to a *ResponsePayload. Response will
// return an error if the Type is not Response. It is an error if the Message's
// Payload is []byte("null").
func (msg *Message) Response() (*ResponsePayload, error) {
	if msg.Type != Response {
		return nil, fmt.Errorf("invalid type %d for ResponsePayload", msg.Type)
	}
	resp := new(ResponsePayload)
	err := json.Unmarshal(msg.Payload, &resp)
	if err != nil {
		return nil, err
	}
	if resp == nil /* null JSON */ {
		return nil, errNullRespPayload
	}
	return resp, nil
}

// NewNotification encodes the payload and creates a Notification-type *Message.
func NewNotification(route string, payload any) (*Message, error) {
	if route == "" {
		return nil, fmt.Errorf("empty string not allowed for route of notification-type message")
	}
	encPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    Notification,
		Route:   route,
		Payload: encPayload,
	}, nil
}

// Unmarshal unmarshals the Payload field into the provided interface. Note that
// the payload interface must contain a pointer. If it is a pointer to a
// pointer, it may become nil for a Message.Payload of []byte("null").
func (msg *Message) Unmarshal(payload any) error {
	return json.Unmarshal(msg.Payload, payload)
}

// UnmarshalResult is a convenience method for decoding the Result field of a
// ResponsePayload. A response carrying an error is returned as the *Error.
func (msg *Message) UnmarshalResult(result any) error {
	resp, err := msg.Response()
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(resp.Result, result)
}

// String prints the message as a JSON-encoded string.
func (msg *Message) String() string {
	b, err := json.Marshal(msg)
	if err != nil {
		return "[Message decode error]"
	}
	return string(b)
}

// Init is the payload of the InitRoute request.
type Init struct {
	EthAddress string `json:"ethClientAddress"`
	SolAddress string `json:"solClientAddress"`
	Egoistic   bool   `json:"egoisticClient"`
}

// Initialized is the result of the InitRoute request.
type Initialized struct {
	L2Address string `json:"l2Address"`
}

// ChannelState is the allocation of a channel. Balance is the local party's
// per-asset balance and PeerBalance the peer's, both indexed like Assets.
type ChannelState struct {
	Balance     []BigInt       `json:"balance"`
	PeerBalance []BigInt       `json:"peerBalance"`
	Assets      []dex.AssetRef `json:"assets"`
	Backends    []int          `json:"backends"`
	IsFinal     bool           `json:"isFinal"`
	Version     uint64         `json:"version,omitempty"`
}

// OpenChannel is the payload of the OpenChannelRoute request.
type OpenChannel struct {
	// ProposalID is chosen by the client and identifies the proposal in the
	// later ChannelCreated or FundingError notification.
	ProposalID        Bytes        `json:"proposalID"`
	PeerAddressEth    string       `json:"peerAddressEth"`
	PeerAddressSol    string       `json:"peerAddressSol"`
	ChallengeDuration uint64       `json:"challengeDuration"`
	State             ChannelState `json:"state"`
}

// OpenChannelResult is the result of the OpenChannelRoute request.
type OpenChannelResult struct {
	ProposalID Bytes `json:"proposalID"`
}

// ChannelProposal is the payload of a ChannelProposalRoute message.
type ChannelProposal struct {
	ID                Bytes        `json:"id"`
	PeerAddressEth    string       `json:"peerAddressEth"`
	PeerAddressSol    string       `json:"peerAddressSol"`
	ChallengeDuration uint64       `json:"challengeDuration"`
	State             ChannelState `json:"state"`
}

// UpdateChannel is the payload of the ChannelUpdateRoute request and of a
// ChannelUpdateProposalRoute message.
type UpdateChannel struct {
	ID    Bytes        `json:"id"`
	State ChannelState `json:"state"`
	// OrderID links a settlement update to the accepted order.
	OrderID order.OrderID `json:"orderID,omitempty"`
}

// ProposalResponse answers a channel or update proposal. It is also the
// result of the ChannelUpdateRoute request. ID is the proposal or channel ID
// answered, and is only set when the answer is sent as a notification.
type ProposalResponse struct {
	ID           Bytes  `json:"id,omitempty"`
	Accepted     bool   `json:"accepted"`
	RejectReason string `json:"rejectReason,omitempty"`
}

// ChannelCreated is the payload of the ChannelCreatedRoute notification.
type ChannelCreated struct {
	ID         Bytes `json:"id"`
	ProposalID Bytes `json:"proposalID"`
	Idx        uint8 `json:"idx"`
}

// CloseChannel is the payload of the CloseChannelRoute request.
type CloseChannel struct {
	ID                Bytes  `json:"id"`
	WithdrawalAddress string `json:"withdrawalAddress,omitempty"`
	ForceClose        bool   `json:"forceClose"`
}

// ChannelClosed is the payload of the ChannelClosedRoute notification and
// the result of the CloseChannelRoute request.
type ChannelClosed struct {
	ID Bytes `json:"id"`
}

// GetChannelInfo is the payload of the GetChannelInfoRoute request.
type GetChannelInfo struct {
	ID Bytes `json:"id"`
}

// ChannelInfo is the result of the GetChannelInfoRoute request.
type ChannelInfo struct {
	ID             Bytes        `json:"id"`
	Idx            uint8        `json:"idx"`
	PeerAddressEth string       `json:"peerAddressEth"`
	PeerAddressSol string       `json:"peerAddressSol"`
	State          ChannelState `json:"state"`
}

// GetSignedState is the payload of a GetSignedStateRoute request.
type GetSignedState struct {
	ID Bytes `json:"id"`
}

// SignedState is the result of the GetSignedStateRoute request. Params,
// State and Sigs are opaque to the client and stored verbatim.
type SignedState struct {
	ID     Bytes           `json:"id"`
	Params json.RawMessage `json:"params"`
	State  json.RawMessage `json:"state"`
	Sigs   []Bytes         `json:"sigs"`
}

// FundingError is the payload of the FundingErrorRoute notification.
type FundingError struct {
	ProposalID Bytes  `json:"proposalID"`
	ChannelID  Bytes  `json:"channelID,omitempty"`
	Error      string `json:"error"`
}

// CreateOrder is the payload of the CreateOrderRoute request.
type CreateOrder struct {
	Order *order.Order `json:"order"`
}

// CreateOrderAck is the result of the CreateOrderRoute request.
type CreateOrderAck struct {
	ID        order.OrderID `json:"id"`
	Accepted  bool          `json:"accepted"`
	Reason    string        `json:"reason,omitempty"`
	TotalOpen uint64        `json:"totalOpen"`
}

// CancelOrder is the payload of the CancelOrderRoute request.
type CancelOrder struct {
	ChannelID Bytes         `json:"channelID"`
	ID        order.OrderID `json:"id"`
	Reason    string        `json:"reason,omitempty"`
}

// CancelOrderAck is the result of the CancelOrderRoute request.
type CancelOrderAck struct {
	ID        order.OrderID `json:"id"`
	Success   bool          `json:"success"`
	Reason    string        `json:"reason,omitempty"`
	TotalOpen uint64        `json:"totalOpen"`
}

// AcceptOrder is the payload of the AcceptOrderRoute request. An empty
// Amount takes the whole order.
type AcceptOrder struct {
	ChannelID Bytes         `json:"channelID"`
	ID        order.OrderID `json:"id"`
	Amount    string        `json:"amount,omitempty"`
}

// AcceptOrderAck is the result of the AcceptOrderRoute request.
type AcceptOrderAck struct {
	ID       order.OrderID `json:"id"`
	Accepted bool          `json:"accepted"`
	Reason   string        `json:"reason,omitempty"`
}

// GetOrderBook is the payload of the GetOrderBookRoute request. A zero
// SinceSequence requests a full snapshot.
type GetOrderBook struct {
	ChannelID     Bytes  `json:"channelID"`
	SinceSequence uint64 `json:"sinceSequence"`
}

// GetOrderBookResponse is the result of the GetOrderBookRoute request.
// Exactly one of Snapshot and Delta is set.
type GetOrderBookResponse struct {
	Snapshot *OrderBookSnapshot `json:"snapshot,omitempty"`
	Delta    *OrderBookDelta    `json:"delta,omitempty"`
}

// OrderBookSnapshot is a full view of a channel's active orders.
type OrderBookSnapshot struct {
	ChannelID Bytes          `json:"channelID"`
	Sequence  uint64         `json:"sequence"`
	TotalOpen uint64         `json:"totalOpen"`
	Bids      []*order.Order `json:"bids"`
	Asks      []*order.Order `json:"asks"`
}

// OrderBookDelta is the change since the previous sequence. Added and
// Updated are full orders, Removed are ids.
type OrderBookDelta struct {
	ChannelID Bytes           `json:"channelID"`
	Sequence  uint64          `json:"sequence"`
	Added     []*order.Order  `json:"added"`
	Updated   []*order.Order  `json:"updated"`
	Removed   []order.OrderID `json:"removed"`
	TotalOpen uint64          `json:"totalOpen"`
}

// SignRequest is the payload of the RequestSignatureRoute request.
type SignRequest struct {
	Family  dex.Family `json:"family"`
	Address string     `json:"address,omitempty"`
	Data    Bytes      `json:"data"`
}

// SignResponse is the result of the RequestSignatureRoute request.
type SignResponse struct {
	Signature Bytes `json:"signature"`
}

// RelayRequest is the payload of the RequestTransactionRelayRoute request.
// ChainID is only used by the Ethereum family.
type RelayRequest struct {
	Family      dex.Family `json:"family"`
	Transaction Bytes      `json:"transaction"`
	ChainID     string     `json:"chainID,omitempty"`
}

// RelayResponse is the result of the RequestTransactionRelayRoute request.
type RelayResponse struct {
	Transaction Bytes  `json:"transaction"`
	TxHash      string `json:"txHash"`
}
