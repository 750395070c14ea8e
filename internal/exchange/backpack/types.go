package backpack

import "fmt"

// APIError is a non-2xx response from the venue, decoded from its
// {"code": "...", "message": "..."} error body.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backpack api error %d code=%s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backpack api error %d: %s", e.Status, e.Message)
}

type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type tickerResponse struct {
	Symbol      string `json:"symbol"`
	LastPrice   string `json:"lastPrice"`
	BidPrice    string `json:"bidPrice"`
	AskPrice    string `json:"askPrice"`
	Volume      string `json:"volume"`
	High        string `json:"high"`
	Low         string `json:"low"`
	PriceChange string `json:"priceChange"`
}

type orderResponse struct {
	ID                    string `json:"id"`
	ClientID              int64  `json:"clientId"`
	Symbol                string `json:"symbol"`
	Side                  string `json:"side"`
	OrderType             string `json:"orderType"`
	Price                 string `json:"price"`
	Quantity              string `json:"quantity"`
	ExecutedQuantity      string `json:"executedQuantity"`
	ExecutedQuoteQuantity string `json:"executedQuoteQuantity"`
	Status                string `json:"status"`
	TimeInForce           string `json:"timeInForce"`
	PostOnly              bool   `json:"postOnly"`
	CreatedAt             int64  `json:"createdAt"`
}

type capitalEntry struct {
	Available string `json:"available"`
	Locked    string `json:"locked"`
	Staked    string `json:"staked"`
}

type fillResponse struct {
	TradeID   int64  `json:"tradeId"`
	OrderID   string `json:"orderId"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
	Fee       string `json:"fee"`
	FeeSymbol string `json:"feeSymbol"`
	IsMaker   bool   `json:"isMaker"`
	Timestamp string `json:"timestamp"`
}
