package futures

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
)

// SymbolPrecision carries the exchange's tick and step grid for a symbol.
// Exchange metadata is assumed static for the session, so a successful
// lookup is cached for the process lifetime.
type SymbolPrecision struct {
	TickSize float64
	StepSize float64

	tickDecimals int
	stepDecimals int
}

// FloorPrice snaps a price down onto the tick grid. The result never
// exceeds the raw value's grid cell.
func (p SymbolPrecision) FloorPrice(price float64) float64 {
	return floorToStep(price, p.TickSize)
}

// FloorQty snaps a quantity down onto the step grid.
func (p SymbolPrecision) FloorQty(qty float64) float64 {
	return floorToStep(qty, p.StepSize)
}

// FormatPrice renders a floored price with the tick's decimal places.
func (p SymbolPrecision) FormatPrice(price float64) string {
	return strconv.FormatFloat(p.FloorPrice(price), 'f', p.tickDecimals, 64)
}

// FormatQty renders a floored quantity with the step's decimal places.
func (p SymbolPrecision) FormatQty(qty float64) string {
	return strconv.FormatFloat(p.FloorQty(qty), 'f', p.stepDecimals, 64)
}

func floorToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	// The epsilon keeps values that are already exactly on the grid from
	// dropping a whole step to float noise (0.30000000000000004 / 0.1).
	n := math.Floor(value/step + 1e-9)
	return n * step
}

// decimalsOf counts fractional digits in a filter value like "0.001".
func decimalsOf(s string) int {
	s = strings.TrimRight(s, "0")
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

type precisionCache struct {
	mu    sync.RWMutex
	cache map[string]SymbolPrecision
}

func newPrecisionCache() *precisionCache {
	return &precisionCache{cache: make(map[string]SymbolPrecision)}
}

func (pc *precisionCache) get(symbol string) (SymbolPrecision, bool) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	p, ok := pc.cache[symbol]
	return p, ok
}

func (pc *precisionCache) put(symbol string, p SymbolPrecision) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.cache[symbol] = p
}

// Precision returns the tick/step grid for a symbol, fetching exchange
// info on first use and memoizing it.
func (c *Client) Precision(ctx context.Context, symbol string) (SymbolPrecision, error) {
	if p, ok := c.precision.get(symbol); ok {
		return p, nil
	}

	info, err := c.exchangeInfo(ctx, symbol)
	if err != nil {
		return SymbolPrecision{}, err
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		var p SymbolPrecision
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				p.TickSize, _ = strconv.ParseFloat(f.TickSize, 64)
				p.tickDecimals = decimalsOf(f.TickSize)
			case "LOT_SIZE":
				p.StepSize, _ = strconv.ParseFloat(f.StepSize, 64)
				p.stepDecimals = decimalsOf(f.StepSize)
			}
		}
		if p.TickSize <= 0 || p.StepSize <= 0 {
			return SymbolPrecision{}, fmt.Errorf("exchange info for %s missing price/lot filters", symbol)
		}
		c.precision.put(symbol, p)
		return p, nil
	}
	return SymbolPrecision{}, fmt.Errorf("symbol %s not in exchange info", symbol)
}
