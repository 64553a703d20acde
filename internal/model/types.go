package model

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Stream Types
// -----------------------------------------------------------------------------

// Tick is one data message delivered by a stream session.
type Tick struct {
	SessionID  uuid.UUID       // Session that received the frame
	TrID       string          // Transaction id (e.g., "H0STCNT0")
	ReceivedAt int64           // Receive timestamp (µs since epoch)
	Payload    json.RawMessage // JSON body, nil for realtime records
	Encrypted  bool            // Realtime record flagged as encrypted
	Count      int             // Number of records in Fields
	Fields     []string        // '^'-separated realtime record fields, all records concatenated
}

// -----------------------------------------------------------------------------
// Time-Series Types
// -----------------------------------------------------------------------------

// Trade is one executed trade from the H0STCNT0 realtime feed.
type Trade struct {
	SessionID  uuid.UUID       // Session that received the trade
	Code       string          // Stock code (e.g., "005930")
	TradeTime  string          // Exchange time HHMMSS
	ReceivedAt int64           // Receive timestamp (µs since epoch)
	Price      int64           // Trade price
	Change     int64           // Change from previous close, signed
	ChangeRate decimal.Decimal // Change from previous close (%)
	Open       int64           // Session open
	High       int64           // Session high
	Low        int64           // Session low
	Volume     int64           // Volume of this trade
	CumVolume  int64           // Cumulative session volume
}
