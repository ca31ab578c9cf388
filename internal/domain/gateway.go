package domain

import "time"

// Tick es la mejor cotización actual de un símbolo.
type Tick struct {
	Symbol string
	Bid    float64
	Ask    float64
	At     time.Time
}

// Mid devuelve el punto medio bid/ask.
func (t Tick) Mid() float64 { return (t.Bid + t.Ask) / 2 }

// BrokerPosition es una posición abierta tal como la reporta el gateway.
type BrokerPosition struct {
	Ticket       string
	MagicID      int64
	Symbol       string
	Side         LegSide
	Volume       float64
	OpenPrice    float64
	CurrentPrice float64
	StopLoss     float64
	TakeProfit   float64
	Profit       float64
	OpenedAt     time.Time
}

// BrokerOrder es una orden pendiente tal como la reporta el gateway.
type BrokerOrder struct {
	Ticket   string
	MagicID  int64
	Symbol   string
	Side     LegSide
	Volume   float64
	Price    float64
	PlacedAt time.Time
}

// OpenLegRequest describe una pata a abrir en el gateway.
type OpenLegRequest struct {
	MagicID    int64
	Symbol     string
	Side       LegSide
	Volume     float64
	StopLoss   float64
	TakeProfit float64
	Market     bool    // true: orden a mercado; false: límite en Price
	Price      float64 // solo para órdenes límite
	Comment    string
}

// LegReceipt confirma una pata aceptada por el gateway.
type LegReceipt struct {
	Ticket    string
	OpenPrice float64 // 0 si quedó pendiente
	Filled    bool
}
