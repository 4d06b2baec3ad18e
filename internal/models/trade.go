package models

import (
	"time"
)

// ActionType is the direction of an intent or a resolved action.
type ActionType int

const (
	BuyToOpen ActionType = iota + 1
	SellToOpen
	BuyToClose
	SellToClose
)

func (a ActionType) String() string {
	switch a {
	case BuyToOpen:
		return "BUY_TO_OPEN"
	case SellToOpen:
		return "SELL_TO_OPEN"
	case BuyToClose:
		return "BUY_TO_CLOSE"
	case SellToClose:
		return "SELL_TO_CLOSE"
	}
	return "UNKNOWN"
}

func (a ActionType) IsOpen() bool {
	return a == BuyToOpen || a == SellToOpen
}

func (a ActionType) IsClose() bool {
	return a == BuyToClose || a == SellToClose
}

// Intent is what a processor proposes for one symbol.
type Intent struct {
	Symbol  string
	Type    ActionType
	Percent float64
}

// Confirmer is the processor side of an action: it is told when an open is taken.
type Confirmer interface {
	Name() string
	OnOpenConfirmed(symbol string)
}

// Action is an intent priced at the tick it was produced in.
type Action struct {
	Symbol  string
	Type    ActionType
	Percent float64
	Price   float64
	Source  Confirmer
}

// ProcessorName returns the name of the processor that produced the action.
func (a Action) ProcessorName() string {
	if a.Source == nil {
		return ""
	}
	return a.Source.Name()
}

// Position is a held quantity; Qty > 0 is long, Qty < 0 is short.
type Position struct {
	Symbol       string    `json:"symbol"`
	Qty          float64   `json:"qty"`
	EntryPrice   float64   `json:"entry_price"`
	EntryTime    time.Time `json:"entry_time"`
	EntryPortion float64   `json:"entry_portion"`
}

// Transaction is a completed (possibly partial) close.
type Transaction struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	IsLong      bool      `json:"is_long"`
	Processor   string    `json:"processor"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	EntryTime   time.Time `json:"entry_time"`
	ExitTime    time.Time `json:"exit_time"`
	Qty         float64   `json:"qty"`
	GL          float64   `json:"gl"`
	GLPct       float64   `json:"gl_pct"`
	Slippage    *float64  `json:"slippage,omitempty"`
	SlippagePct *float64  `json:"slippage_pct,omitempty"`
}

// TransactionID builds the storage key of a transaction from its symbol and exit minute.
func TransactionID(symbol string, exit time.Time) string {
	return symbol + " " + exit.In(marketLocation).Format("2006-01-02 15:04")
}

// Aggregation summarises one processor's transactions of one day.
type Aggregation struct {
	Date           time.Time
	Processor      string
	GL             float64
	AvgGLPct       float64
	Slippage       float64
	AvgSlippagePct float64
	Count          int
	WinCount       int
	LoseCount      int
	SlippageCount  int
}
