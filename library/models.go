package library

import (
	"errors"
	"time"

	"lbms/library/state"
)

// Entity types and their fields. Every type is registered with the store in
// the order returned by Types.
var (
	BookType      = state.NewType("book")
	BookISBN      = state.NewField(BookType, "isbn", state.String, state.Required(), state.Immutable())
	BookTitle     = state.NewField(BookType, "title", state.String, state.Required())
	BookAuthors   = state.NewField(BookType, "authors", state.StringList)
	BookPublisher = state.NewField(BookType, "publisher", state.String)
	BookPublished = state.NewField(BookType, "published", state.String)
	BookPurchased = state.NewField(BookType, "purchased", state.Time)
	BookTotal     = state.NewField(BookType, "total", state.Int64)
	BookAvailable = state.NewField(BookType, "available", state.Int64)
	_             = state.NewKey(BookType, BookISBN)

	VisitorType       = state.NewType("visitor")
	VisitorName       = state.NewField(VisitorType, "name", state.String, state.Required(), state.Immutable())
	VisitorAddress    = state.NewField(VisitorType, "address", state.String, state.Required(), state.Immutable())
	VisitorRegistered = state.NewField(VisitorType, "registered", state.Time, state.Immutable())
	VisitorBalance    = state.NewField(VisitorType, "balance", state.Cents)
	VisitorVisiting   = state.NewField(VisitorType, "visiting", state.Bool)
	_                 = state.NewKey(VisitorType, VisitorName, VisitorAddress)

	CheckoutType     = state.NewType("checkout")
	CheckoutVisitor  = state.NewField(CheckoutType, "visitor", state.Int64, state.Required(), state.Immutable())
	CheckoutBook     = state.NewField(CheckoutType, "book", state.Int64, state.Required(), state.Immutable())
	CheckoutSlot     = state.NewField(CheckoutType, "slot", state.OptionalInt)
	CheckoutDate     = state.NewField(CheckoutType, "checked_out", state.Time, state.Immutable())
	CheckoutDue      = state.NewField(CheckoutType, "due", state.Time, state.Immutable())
	CheckoutReturned = state.NewField(CheckoutType, "returned", state.OptionalTime, state.WriteOnce())
	CheckoutFine     = state.NewField(CheckoutType, "fine", state.Cents)
	_                = state.NewKey(CheckoutType, CheckoutBook, CheckoutSlot)

	TransactionType    = state.NewType("transaction")
	TransactionVisitor = state.NewField(TransactionType, "visitor", state.Int64, state.Required(), state.Immutable())
	TransactionAmount  = state.NewField(TransactionType, "amount", state.Cents, state.Required(), state.Immutable())
	TransactionPaidAt  = state.NewField(TransactionType, "paid_at", state.Time, state.Required(), state.Immutable())

	VisitType     = state.NewType("visit")
	VisitVisitor  = state.NewField(VisitType, "visitor", state.Int64, state.Required(), state.Immutable())
	VisitArrived  = state.NewField(VisitType, "arrived", state.Time, state.Required(), state.Immutable())
	VisitDeparted = state.NewField(VisitType, "departed", state.OptionalTime, state.WriteOnce())

	PurchaseType     = state.NewType("purchase")
	PurchaseBook     = state.NewField(PurchaseType, "book", state.Int64, state.Required(), state.Immutable())
	PurchaseQuantity = state.NewField(PurchaseType, "quantity", state.Int64, state.Required(), state.Immutable())
	PurchaseDate     = state.NewField(PurchaseType, "purchased", state.Time, state.Required(), state.Immutable())

	LibraryType      = state.NewType("library")
	LibraryOpenTime  = state.NewField(LibraryType, "open_time", state.Int64)
	LibraryCloseTime = state.NewField(LibraryType, "close_time", state.Int64)
	LibraryOpen      = state.NewField(LibraryType, "open", state.Bool)
	LibraryDay       = state.NewField(LibraryType, "day", state.Int64)
	LibrarySecond    = state.NewField(LibraryType, "second", state.Int64)
)

func init() {
	BookType.Invariant(func(v state.Values) error {
		avail, total := state.Lookup(v, BookAvailable), state.Lookup(v, BookTotal)
		if avail < 0 || avail > total {
			return errors.New("available copies must be within 0..total")
		}
		return nil
	})
	VisitorBalance.Check(nonNegative("balance"))
	CheckoutFine.Check(nonNegative("fine"))
	TransactionAmount.Check(func(c int64) error {
		if c <= 0 {
			return errors.New("amount must be positive")
		}
		return nil
	})
	PurchaseQuantity.Check(func(n int64) error {
		if n <= 0 {
			return errors.New("quantity must be positive")
		}
		return nil
	})
	LibrarySecond.Check(func(s int64) error {
		if s < 0 || s >= 86400 {
			return errors.New("second out of range")
		}
		return nil
	})
}

func nonNegative(name string) func(int64) error {
	return func(c int64) error {
		if c < 0 {
			return errors.New(name + " must not be negative")
		}
		return nil
	}
}

// Types lists every persisted entity type.
func Types() []*state.Type {
	return []*state.Type{BookType, VisitorType, CheckoutType, TransactionType, VisitType, PurchaseType, LibraryType}
}

// Book is a read-only view of a book entity.
type Book struct {
	ID        int64     `json:"id"`
	ISBN      string    `json:"isbn"`
	Title     string    `json:"title"`
	Authors   []string  `json:"authors"`
	Publisher string    `json:"publisher"`
	Published string    `json:"published"`
	Purchased time.Time `json:"purchased"`
	Total     int64     `json:"total"`
	Available int64     `json:"available"`
}

func bookView(e *state.Entity) Book {
	return Book{
		ID:        e.ID(),
		ISBN:      BookISBN.Get(e),
		Title:     BookTitle.Get(e),
		Authors:   BookAuthors.Get(e),
		Publisher: BookPublisher.Get(e),
		Published: BookPublished.Get(e),
		Purchased: BookPurchased.Get(e),
		Total:     BookTotal.Get(e),
		Available: BookAvailable.Get(e),
	}
}

// Visitor is a read-only view of a registered visitor.
type Visitor struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Address    string    `json:"address"`
	Registered time.Time `json:"registered"`
	Balance    int64     `json:"balance"`
	Visiting   bool      `json:"visiting"`
}

func visitorView(e *state.Entity) Visitor {
	return Visitor{
		ID:         e.ID(),
		Name:       VisitorName.Get(e),
		Address:    VisitorAddress.Get(e),
		Registered: VisitorRegistered.Get(e),
		Balance:    VisitorBalance.Get(e),
		Visiting:   VisitorVisiting.Get(e),
	}
}

// Checkout is a read-only view of one borrowed copy.
type Checkout struct {
	ID         int64      `json:"id"`
	VisitorID  int64      `json:"visitor_id"`
	Book       Book       `json:"book"`
	Slot       *int64     `json:"slot"`
	CheckedOut time.Time  `json:"checked_out"`
	Due        time.Time  `json:"due"`
	Returned   *time.Time `json:"returned"`
	Fine       int64      `json:"fine"`
}

// Visit is a read-only view of one stay in the library.
type Visit struct {
	ID        int64      `json:"id"`
	VisitorID int64      `json:"visitor_id"`
	Arrived   time.Time  `json:"arrived"`
	Departed  *time.Time `json:"departed"`
}

// Duration is the length of a finished visit.
func (v Visit) Duration() time.Duration {
	if v.Departed == nil {
		return 0
	}
	return v.Departed.Sub(v.Arrived)
}

func visitView(e *state.Entity) Visit {
	return Visit{
		ID:        e.ID(),
		VisitorID: VisitVisitor.Get(e),
		Arrived:   VisitArrived.Get(e),
		Departed:  VisitDeparted.Get(e),
	}
}
