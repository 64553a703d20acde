package model

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// TrIDTrade is the realtime domestic stock trade feed.
const TrIDTrade = "H0STCNT0"

// H0STCNT0 field positions.
const (
	fieldCode       = 0
	fieldTime       = 1
	fieldPrice      = 2
	fieldChange     = 4
	fieldChangeRate = 5
	fieldOpen       = 7
	fieldHigh       = 8
	fieldLow        = 9
	fieldVolume     = 12
	fieldCumVolume  = 13

	// minTradeFields is the shortest record that reaches every field above.
	minTradeFields = fieldCumVolume + 1
)

// ErrNotTrade is returned by ParseTrades for ticks from other feeds.
var ErrNotTrade = errors.New("tick is not a trade record")

// ParseTrades decodes the trade records carried by a realtime tick.
// A tick may batch several records; Fields holds them back to back.
func ParseTrades(tick Tick) ([]Trade, error) {
	if tick.TrID != TrIDTrade || len(tick.Fields) == 0 {
		return nil, ErrNotTrade
	}
	if tick.Encrypted {
		return nil, errors.New("parse trades: encrypted records are not supported")
	}

	count := tick.Count
	if count < 1 {
		count = 1
	}
	if len(tick.Fields)%count != 0 {
		return nil, fmt.Errorf("parse trades: %d fields do not split into %d records", len(tick.Fields), count)
	}
	per := len(tick.Fields) / count
	if per < minTradeFields {
		return nil, fmt.Errorf("parse trades: record has %d fields, need at least %d", per, minTradeFields)
	}

	trades := make([]Trade, 0, count)
	for i := 0; i < count; i++ {
		trade, err := parseTrade(tick.Fields[i*per : (i+1)*per])
		if err != nil {
			return nil, fmt.Errorf("parse trade %d: %w", i, err)
		}
		trade.SessionID = tick.SessionID
		trade.ReceivedAt = tick.ReceivedAt
		trades = append(trades, trade)
	}
	return trades, nil
}

func parseTrade(f []string) (Trade, error) {
	t := Trade{
		Code:      f[fieldCode],
		TradeTime: f[fieldTime],
	}

	ints := []struct {
		dst  *int64
		idx  int
		name string
	}{
		{&t.Price, fieldPrice, "price"},
		{&t.Change, fieldChange, "change"},
		{&t.Open, fieldOpen, "open"},
		{&t.High, fieldHigh, "high"},
		{&t.Low, fieldLow, "low"},
		{&t.Volume, fieldVolume, "volume"},
		{&t.CumVolume, fieldCumVolume, "cumulative volume"},
	}
	for _, v := range ints {
		n, err := strconv.ParseInt(f[v.idx], 10, 64)
		if err != nil {
			return Trade{}, fmt.Errorf("%s %q: %w", v.name, f[v.idx], err)
		}
		*v.dst = n
	}

	rate, err := decimal.NewFromString(f[fieldChangeRate])
	if err != nil {
		return Trade{}, fmt.Errorf("change rate %q: %w", f[fieldChangeRate], err)
	}
	t.ChangeRate = rate

	return t, nil
}
