package orders

import "context"

type record[T any] interface {
	key() string
	version() int
	bumped() T
}

// Repository is the storage port for one entity type. SaveAll inserts rows
// with Version 0 and updates the rest only if their stored version still
// matches, returning the rows with their new versions.
type Repository[T any] interface {
	FindByID(ctx context.Context, id string) (T, error)
	// FindAllByID fails with ErrNotFound if any id is missing.
	FindAllByID(ctx context.Context, ids []string) ([]T, error)
	FindAllByIDIgnoringMissing(ctx context.Context, ids []string) ([]T, error)
	SaveAll(ctx context.Context, items []T) ([]T, error)
	DeleteAll(ctx context.Context, ids []string) error
}

type LineRepository interface {
	Repository[OrderLine]
	ByOrder(ctx context.Context, orderID string) ([]OrderLine, error)
	ByProduct(ctx context.Context, productID string) ([]OrderLine, error)
}

type FulfillmentRepository interface {
	Repository[Fulfillment]
	ByOrder(ctx context.Context, orderID string) ([]Fulfillment, error)
	// OrderIDOf resolves the owning order without locking the fulfillment.
	OrderIDOf(ctx context.Context, fulfillmentID string) (string, error)
}

type FulfillmentLineRepository interface {
	Repository[FulfillmentLine]
	ByFulfillments(ctx context.Context, fulfillmentIDs []string) ([]FulfillmentLine, error)
}

type CheckoutRepository interface {
	FindByID(ctx context.Context, id string) (Checkout, error)
	// Insert fails with ErrCheckoutExists when the customer already holds one.
	Insert(ctx context.Context, c Checkout) error
	Delete(ctx context.Context, id string) error
}

type Store interface {
	Orders() Repository[Order]
	Lines() LineRepository
	Fulfillments() FulfillmentRepository
	FulfillmentLines() FulfillmentLineRepository
	Checkouts() CheckoutRepository
}

// UnitOfWork runs fn atomically: every write made through the Store it is
// handed commits together, or none does. View hands fn a read-only snapshot
// and takes no row locks; writes made through it are discarded.
type UnitOfWork interface {
	Run(ctx context.Context, fn func(ctx context.Context, st Store) error) error
	View(ctx context.Context, fn func(ctx context.Context, st Store) error) error
}
