package domain

// CartLine is a cart entry joined with the product row it points at.
type CartLine struct {
	ProductID   int64
	ProductName string
	PriceCents  int64
	Quantity    int
	Stock       int
}

// StockLog records a single stock movement.
type StockLog struct {
	ProductID int64
	Delta     int
	Reason    string
}
