package stock

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// TrackType selects the costing discipline of a product.
type TrackType string

const (
	// TrackUnique is a single serialised item carrying its own cost.
	TrackUnique TrackType = "UNIQUE"
	// TrackFIFO consumes the product's own lots oldest first.
	TrackFIFO TrackType = "FIFO"
	// TrackFIFOLot consumes lots shared by every product of the same type and karat.
	TrackFIFOLot TrackType = "FIFO_LOT"
	// TrackPool averages cost across one pool per type and karat.
	TrackPool TrackType = "POOL"
)

// Valid reports whether t is a known track type.
func (t TrackType) Valid() bool {
	switch t {
	case TrackUnique, TrackFIFO, TrackFIFOLot, TrackPool:
		return true
	}
	return false
}

// Status is the availability of a product.
type Status string

const (
	// StatusInStock means quantity remains.
	StatusInStock Status = "IN_STOCK"
	// StatusSold means nothing remains.
	StatusSold Status = "SOLD"
)

// Key identifies a shared stock aggregate.
type Key struct {
	ProductTypeID string `json:"product_type_id"`
	KaratID       string `json:"karat_id"`
}

// Product is a stock keeping unit. For shared scopes (FIFO_LOT, POOL) its
// remaining quantity mirrors the aggregate after the last movement.
type Product struct {
	ID                string
	Code              string
	Name              string
	ProductTypeID     string
	KaratID           string
	TrackType         TrackType
	Quantity          decimal.Decimal
	RemainingQuantity decimal.Decimal
	UnitHAS           decimal.Decimal
	TotalCostHAS      decimal.Decimal
	SaleHAS           decimal.Decimal
	Status            Status
	SourceRef         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Key returns the aggregate key of the product.
func (p Product) Key() Key {
	return Key{ProductTypeID: p.ProductTypeID, KaratID: p.KaratID}
}

// Lot is one cost layer. Depleted lots are kept with zero remaining.
type Lot struct {
	ID                int64
	ProductID         string
	Key               Key
	Quantity          decimal.Decimal
	QuantityRemaining decimal.Decimal
	UnitCostHAS       decimal.Decimal
	SourceRef         string
	CreatedAt         time.Time
}

// LotScope selects the lots a FIFO walk considers: the product's own lots
// when ProductID is set, otherwise every lot under Key.
type LotScope struct {
	ProductID string
	Key       Key
}

// Pool is the weighted-average aggregate for one key.
type Pool struct {
	Key            Key
	TotalWeight    decimal.Decimal
	TotalCostHAS   decimal.Decimal
	AvgCostPerGram decimal.Decimal
	UpdatedAt      time.Time
}

// Layer records what one lot contributed to a consumption.
type Layer struct {
	LotID       int64           `json:"lot_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitCostHAS decimal.Decimal `json:"unit_cost_has"`
}

// Consumption is the cost outcome of taking stock out, kept on the
// transaction line so a void can put it back.
type Consumption struct {
	Quantity decimal.Decimal `json:"quantity"`
	CostHAS  decimal.Decimal `json:"cost_has"`
	Layers   []Layer         `json:"layers,omitempty"`
}

// Production is the outcome of bringing stock in.
type Production struct {
	Quantity       decimal.Decimal `json:"quantity"`
	CostHAS        decimal.Decimal `json:"cost_has"`
	LotID          int64           `json:"lot_id,omitempty"`
	CreatedProduct bool            `json:"created_product,omitempty"`
}

var (
	// ErrProductNotFound indicates an unknown product id.
	ErrProductNotFound = errors.New("stock: product not found")
	// ErrLotNotFound indicates an unknown lot id.
	ErrLotNotFound = errors.New("stock: lot not found")
	// ErrPoolNotFound indicates no pool exists for the key.
	ErrPoolNotFound = errors.New("stock: pool not found")
	// ErrInsufficientStock is returned when a consumption exceeds what remains.
	ErrInsufficientStock = errors.New("stock: insufficient stock")
	// ErrStockAlreadyConsumed is returned when produced stock was (partly) sold.
	ErrStockAlreadyConsumed = errors.New("stock: produced stock already consumed")
	// ErrPartialUnique is returned for a quantity other than one on a unique item.
	ErrPartialUnique = errors.New("stock: unique item cannot be partially sold")
	// ErrNotSold is returned when restoring a unique item that is still in stock.
	ErrNotSold = errors.New("stock: item is not sold")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("stock: quantity must be positive")
	// ErrInvalidCost indicates a negative cost.
	ErrInvalidCost = errors.New("stock: cost must be >= 0")
	// ErrUnknownTrackType indicates an unsupported track type.
	ErrUnknownTrackType = errors.New("stock: unknown track type")
	// ErrCostAdjustUnsupported is returned for cost changes on lot-tracked products.
	ErrCostAdjustUnsupported = errors.New("stock: cost adjustment not supported for lot-tracked products")
)
