package api

// API response types for REST endpoints and WebSocket messages.
// Token and wei amounts are decimal strings; they do not fit in JSON numbers.

// ==============================
// REST Response Types
// ==============================

// OfferInfo is one active sell offer.
type OfferInfo struct {
	AssetID        string `json:"assetId"` // decimal
	AssetContract  string `json:"assetContract"`
	Kind           string `json:"kind"` // "unique" or "multi_unit"
	Quantity       uint64 `json:"quantity"`
	ReferencePrice uint64 `json:"referencePrice"` // USD cents
	Seller         string `json:"seller"`
	CreatedAt      int64  `json:"createdAt"` // Unix milliseconds
	ExpiresAt      int64  `json:"expiresAt"` // Unix milliseconds
	Expired        bool   `json:"expired"`   // still listed but no longer purchasable
}

type SellerInfo struct {
	AssetID string `json:"assetId"`
	Seller  string `json:"seller"` // zero address when no offer exists
}

// PriceInfo is the amount a buyer owes on one rail right now.
type PriceInfo struct {
	AssetID  string `json:"assetId"`
	Rail     string `json:"rail"`
	Amount   string `json:"amount"`   // rail base units
	Decimals uint8  `json:"decimals"` // rail decimals
}

// RateInfo is the current conversion rate of a payment rail.
type RateInfo struct {
	Rail      string `json:"rail"`
	Kind      string `json:"kind"` // "native" or "token"
	Decimals  uint8  `json:"decimals"`
	Token     string `json:"token,omitempty"`
	Pegged    bool   `json:"pegged"`
	UnitPrice string `json:"unitPrice,omitempty"` // USD cents per whole unit
	Error     string `json:"error,omitempty"`
}

type ConfigInfo struct {
	Market       string     `json:"market"` // escrow address
	Owner        string     `json:"owner"`
	FeeRecipient string     `json:"feeRecipient"`
	FeeBps       uint32     `json:"feeBps"`
	OfferTTL     int64      `json:"offerTtlSeconds"`
	Rails        []RateInfo `json:"rails"`
}

type StateInfo struct {
	Height      uint64 `json:"height"`
	StateRoot   string `json:"stateRoot"`
	OfferCount  int    `json:"offerCount"`
	MempoolSize int    `json:"mempoolSize"`
}

type NonceInfo struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"` // last accepted; the next request must exceed it
}

// ReceiptInfo describes the money movements of a settled purchase.
type ReceiptInfo struct {
	AssetID   string `json:"assetId"`
	Seller    string `json:"seller"`
	Buyer     string `json:"buyer"`
	Quantity  uint64 `json:"quantity"`
	Rail      string `json:"rail"`
	UnitPrice string `json:"unitPrice"`
	Owed      string `json:"owed"`
	Fee       string `json:"fee"`
	Proceeds  string `json:"proceeds"`
	Refund    string `json:"refund"`
}

// TxResponse is returned by POST /api/v1/tx once the transaction is applied.
type TxResponse struct {
	Status  string       `json:"status"` // "applied" or "rejected"
	Type    string       `json:"type,omitempty"`
	Caller  string       `json:"caller,omitempty"`
	Height  uint64       `json:"height"`
	Code    string       `json:"code"`
	Error   string       `json:"error,omitempty"`
	Expired bool         `json:"expired,omitempty"` // buy found the offer past its TTL and purged it
	Receipt *ReceiptInfo `json:"receipt,omitempty"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest represents a subscription request from client
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // "offers", "config"
}

// EventMessage is pushed to subscribers of the "offers" and "config" channels.
type EventMessage struct {
	Type      string       `json:"type"` // always "event"
	Channel   string       `json:"channel"`
	ID        string       `json:"id"`
	Event     string       `json:"event"` // offer_created, offer_settled, ...
	Offer     *OfferInfo   `json:"offer,omitempty"`
	Buyer     string       `json:"buyer,omitempty"`
	Receipt   *ReceiptInfo `json:"receipt,omitempty"`
	Owner     string       `json:"owner,omitempty"`
	FeeBps    *uint32      `json:"feeBps,omitempty"`
	Recipient string       `json:"feeRecipient,omitempty"`
	Timestamp int64        `json:"timestamp"` // Unix milliseconds
}
