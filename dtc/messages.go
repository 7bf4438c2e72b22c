package dtc

// Message is implemented by every decoded or encodable protocol message.
type Message interface {
	Kind() Kind
}

// Correlated messages carry the RequestID of the request they answer.
// A zero RequestID means the message was pushed unsolicited.
type Correlated interface {
	Message
	CorrelationID() int
}

// Header is embedded in every message so the JSON object carries "Type".
type Header struct {
	Type Kind `json:"Type"`
}

func (h *Header) setType(k Kind) { h.Type = k }

type LogonRequest struct {
	Header
	ProtocolVersion            int    `json:"ProtocolVersion"`
	Username                   string `json:"Username,omitempty"`
	Password                   string `json:"Password,omitempty"`
	GeneralTextData            string `json:"GeneralTextData,omitempty"`
	HeartbeatIntervalInSeconds int    `json:"HeartbeatIntervalInSeconds"`
	TradeMode                  int    `json:"TradeMode,omitempty"`
	TradeAccount               string `json:"TradeAccount,omitempty"`
	HardwareIdentifier         string `json:"HardwareIdentifier,omitempty"`
	ClientName                 string `json:"ClientName,omitempty"`
}

func (LogonRequest) Kind() Kind { return KindLogonRequest }

type LogonResponse struct {
	Header
	ProtocolVersion     int    `json:"ProtocolVersion"`
	Result              int    `json:"Result"`
	ResultText          string `json:"ResultText,omitempty"`
	ReconnectAddress    string `json:"ReconnectAddress,omitempty"`
	ServerName          string `json:"ServerName,omitempty"`
	MarketDataSupported int    `json:"MarketDataSupported,omitempty"`
	TradingIsSupported  int    `json:"TradingIsSupported,omitempty"`
}

func (LogonResponse) Kind() Kind { return KindLogonResponse }

type Heartbeat struct {
	Header
	NumDroppedMessages int   `json:"NumDroppedMessages,omitempty"`
	CurrentDateTime    int64 `json:"CurrentDateTime,omitempty"`
}

func (Heartbeat) Kind() Kind { return KindHeartbeat }

type EncodingRequest struct {
	Header
	ProtocolVersion int      `json:"ProtocolVersion"`
	Encoding        Encoding `json:"Encoding"`
	ProtocolType    string   `json:"ProtocolType"`
}

func (EncodingRequest) Kind() Kind { return KindEncodingRequest }

type EncodingResponse struct {
	Header
	ProtocolVersion int      `json:"ProtocolVersion"`
	Encoding        Encoding `json:"Encoding"`
	ProtocolType    string   `json:"ProtocolType"`
}

func (EncodingResponse) Kind() Kind { return KindEncodingResponse }

type Logoff struct {
	Header
	Reason         string `json:"Reason,omitempty"`
	DoNotReconnect int    `json:"DoNotReconnect,omitempty"`
}

func (Logoff) Kind() Kind { return KindLogoff }

// OrderUpdate feeds the order state machine. Timestamps are epoch seconds.
type OrderUpdate struct {
	Header
	RequestID                 int     `json:"RequestID,omitempty"`
	TotalNumMessages          int     `json:"TotalNumMessages,omitempty"`
	MessageNumber             int     `json:"MessageNumber,omitempty"`
	Symbol                    string  `json:"Symbol,omitempty"`
	Exchange                  string  `json:"Exchange,omitempty"`
	PreviousServerOrderID     string  `json:"PreviousServerOrderID,omitempty"`
	ServerOrderID             string  `json:"ServerOrderID,omitempty"`
	ClientOrderID             string  `json:"ClientOrderID,omitempty"`
	ExchangeOrderID           string  `json:"ExchangeOrderID,omitempty"`
	OrderStatus               int     `json:"OrderStatus,omitempty"`
	OrderUpdateReason         int     `json:"OrderUpdateReason,omitempty"`
	OrderType                 int     `json:"OrderType,omitempty"`
	BuySell                   int     `json:"BuySell,omitempty"`
	Price1                    float64 `json:"Price1,omitempty"`
	Price2                    float64 `json:"Price2,omitempty"`
	OrderQuantity             float64 `json:"OrderQuantity,omitempty"`
	FilledQuantity            float64 `json:"FilledQuantity,omitempty"`
	RemainingQuantity         float64 `json:"RemainingQuantity,omitempty"`
	AverageFillPrice          float64 `json:"AverageFillPrice,omitempty"`
	LastFillPrice             float64 `json:"LastFillPrice,omitempty"`
	LastFillDateTime          float64 `json:"LastFillDateTime,omitempty"`
	LastFillQuantity          float64 `json:"LastFillQuantity,omitempty"`
	TradeAccount              string  `json:"TradeAccount,omitempty"`
	InfoText                  string  `json:"InfoText,omitempty"`
	NoOrders                  int     `json:"NoOrders,omitempty"`
	OrderReceivedDateTime     float64 `json:"OrderReceivedDateTime,omitempty"`
	LatestTransactionDateTime float64 `json:"LatestTransactionDateTime,omitempty"`
}

func (OrderUpdate) Kind() Kind { return KindOrderUpdate }
func (m OrderUpdate) CorrelationID() int { return m.RequestID }

// PositionUpdate carries a signed Quantity; zero means flat.
type PositionUpdate struct {
	Header
	RequestID               int     `json:"RequestID,omitempty"`
	TotalNumberMessages     int     `json:"TotalNumberMessages,omitempty"`
	MessageNumber           int     `json:"MessageNumber,omitempty"`
	Symbol                  string  `json:"Symbol,omitempty"`
	Exchange                string  `json:"Exchange,omitempty"`
	Quantity                float64 `json:"Quantity"`
	AveragePrice            float64 `json:"AveragePrice,omitempty"`
	PositionIdentifier      string  `json:"PositionIdentifier,omitempty"`
	TradeAccount            string  `json:"TradeAccount,omitempty"`
	NoPositions             int     `json:"NoPositions,omitempty"`
	Unsolicited             int     `json:"Unsolicited,omitempty"`
	OpenProfitLoss          float64 `json:"OpenProfitLoss,omitempty"`
	HighPriceDuringPosition float64 `json:"HighPriceDuringPosition,omitempty"`
	LowPriceDuringPosition  float64 `json:"LowPriceDuringPosition,omitempty"`
	EntryDateTime           int64   `json:"EntryDateTime,omitempty"`
}

func (PositionUpdate) Kind() Kind { return KindPositionUpdate }
func (m PositionUpdate) CorrelationID() int { return m.RequestID }

// LastInBatch reports whether this message completes a solicited snapshot.
func (m PositionUpdate) LastInBatch() bool {
	if m.NoPositions != 0 {
		return true
	}
	return m.TotalNumberMessages > 0 && m.MessageNumber >= m.TotalNumberMessages
}

type TradeAccountsRequest struct {
	Header
	RequestID int `json:"RequestID"`
}

func (TradeAccountsRequest) Kind() Kind { return KindTradeAccountsRequest }

type TradeAccountResponse struct {
	Header
	TotalNumberMessages int    `json:"TotalNumberMessages,omitempty"`
	MessageNumber       int    `json:"MessageNumber,omitempty"`
	TradeAccount        string `json:"TradeAccount,omitempty"`
	RequestID           int    `json:"RequestID,omitempty"`
}

func (TradeAccountResponse) Kind() Kind { return KindTradeAccountResponse }
func (m TradeAccountResponse) CorrelationID() int { return m.RequestID }

type CurrentPositionsRequest struct {
	Header
	RequestID    int    `json:"RequestID"`
	TradeAccount string `json:"TradeAccount,omitempty"`
}

func (CurrentPositionsRequest) Kind() Kind { return KindCurrentPositionsRequest }

type AccountBalanceRequest struct {
	Header
	RequestID    int    `json:"RequestID"`
	TradeAccount string `json:"TradeAccount,omitempty"`
}

func (AccountBalanceRequest) Kind() Kind { return KindAccountBalanceRequest }

type AccountBalanceUpdate struct {
	Header
	RequestID                       int     `json:"RequestID,omitempty"`
	CashBalance                     float64 `json:"CashBalance"`
	BalanceAvailableForNewPositions float64 `json:"BalanceAvailableForNewPositions,omitempty"`
	AccountCurrency                 string  `json:"AccountCurrency,omitempty"`
	TradeAccount                    string  `json:"TradeAccount,omitempty"`
	SecuritiesValue                 float64 `json:"SecuritiesValue,omitempty"`
	MarginRequirement               float64 `json:"MarginRequirement,omitempty"`
	TotalNumberMessages             int     `json:"TotalNumberMessages,omitempty"`
	MessageNumber                   int     `json:"MessageNumber,omitempty"`
	NoAccountBalances               int     `json:"NoAccountBalances,omitempty"`
	Unsolicited                     int     `json:"Unsolicited,omitempty"`
	OpenPositionsProfitLoss         float64 `json:"OpenPositionsProfitLoss,omitempty"`
	DailyProfitLoss                 float64 `json:"DailyProfitLoss,omitempty"`
	InfoText                        string  `json:"InfoText,omitempty"`
}

func (m AccountBalanceUpdate) Kind() Kind {
	if m.Type == KindAccountBalanceUpdateAlt {
		return KindAccountBalanceUpdateAlt
	}
	return KindAccountBalanceUpdate
}

func (m AccountBalanceUpdate) CorrelationID() int { return m.RequestID }

// Unknown is the fallback variant for kinds the engine does not model.
// Raw holds the undecoded frame.
type Unknown struct {
	Type Kind
	Raw  []byte
}

func (m Unknown) Kind() Kind { return m.Type }
