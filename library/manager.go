package library

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"lbms/library/clock"
	"lbms/library/config"
	"lbms/library/state"
)

// Rules are the circulation parameters. Money is in cents.
type Rules struct {
	LoanDays      int
	MaxBooks      int
	FineThreshold int64
	FirstDayFine  int64
	WeeklyFine    int64
	MaxFine       int64
}

// RulesFromConfig converts the configured circulation settings.
func RulesFromConfig(c config.Circulation) Rules {
	return Rules{
		LoanDays:      c.LoanDays,
		MaxBooks:      c.MaxBooks,
		FineThreshold: config.Cents(c.FineThreshold),
		FirstDayFine:  config.Cents(c.FirstDayFine),
		WeeklyFine:    config.Cents(c.WeeklyFine),
		MaxFine:       config.Cents(c.MaxFine),
	}
}

// Fine is the charge for a copy returned daysLate days after its due date:
// the first-day fine plus the weekly fine for every further full week,
// capped at MaxFine.
func (r Rules) Fine(daysLate int) int64 {
	if daysLate <= 0 {
		return 0
	}
	return min(r.FirstDayFine+r.WeeklyFine*int64((daysLate-1)/7), r.MaxFine)
}

// LibraryManager is the domain façade over the store and the clock. Callers
// serialize access; the interpreter is the single writer.
type LibraryManager struct {
	store   *state.Store
	clock   *clock.Clock
	catalog *Catalog
	rules   Rules
	logger  *slog.Logger
}

// NewLibraryManager wires the façade. The store must already be initialized.
func NewLibraryManager(store *state.Store, clk *clock.Clock, catalog *Catalog, rules Rules, logger *slog.Logger) *LibraryManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &LibraryManager{store: store, clock: clk, catalog: catalog, rules: rules, logger: logger}
}

func (lm *LibraryManager) Now() time.Time      { return lm.clock.Now() }
func (lm *LibraryManager) Catalog() *Catalog   { return lm.catalog }
func (lm *LibraryManager) Rules() Rules        { return lm.rules }
func (lm *LibraryManager) Clock() *clock.Clock { return lm.clock }

// ------------------ Library record ------------------

// ClockPosition reads the persisted clock position from the library record.
func ClockPosition(store *state.Store) (day int64, second int, ok bool) {
	lib, ok := store.Query(LibraryType).First()
	if !ok {
		return 0, 0, false
	}
	return LibraryDay.Get(lib), int(LibrarySecond.Get(lib)), true
}

// EnsureLibrary creates the library record on first run and applies the
// configured opening hours.
func (lm *LibraryManager) EnsureLibrary(openTime, closeTime int) error {
	lib, ok := lm.store.Query(LibraryType).First()
	if !ok {
		b := state.NewBuilder(LibraryType)
		state.Put(b, LibraryOpenTime, int64(openTime))
		state.Put(b, LibraryCloseTime, int64(closeTime))
		state.Put(b, LibraryDay, lm.clock.Day())
		state.Put(b, LibrarySecond, int64(lm.clock.Second()))
		_, err := lm.store.Insert(b)
		return err
	}
	return errors.Join(
		LibraryOpenTime.Set(lib, int64(openTime)),
		LibraryCloseTime.Set(lib, int64(closeTime)),
	)
}

func (lm *LibraryManager) library() (*state.Entity, error) {
	lib, ok := lm.store.Query(LibraryType).First()
	if !ok {
		return nil, errors.New("library record missing")
	}
	return lib, nil
}

// IsOpen reports the open flag maintained by the clock tasks.
func (lm *LibraryManager) IsOpen() bool {
	lib, err := lm.library()
	return err == nil && LibraryOpen.Get(lib)
}

// SetOpen writes the open flag without side effects. Used at startup to
// match the flag to the restored clock.
func (lm *LibraryManager) SetOpen(open bool) error {
	lib, err := lm.library()
	if err != nil {
		return err
	}
	return LibraryOpen.Set(lib, open)
}

// OpenLibrary runs as the opening clock task.
func (lm *LibraryManager) OpenLibrary() {
	if err := lm.SetOpen(true); err != nil {
		lm.logger.Error("open library", "error", err)
		return
	}
	lm.logger.Info("library opened", "at", lm.clock.Now())
}

// CloseLibrary runs as the closing clock task: the library closes and every
// visitor still inside departs at closing time.
func (lm *LibraryManager) CloseLibrary() {
	if err := lm.SetOpen(false); err != nil {
		lm.logger.Error("close library", "error", err)
		return
	}
	departed := 0
	for v := range lm.store.Query(VisitorType).Where(state.Eq(VisitorVisiting, true)).Results() {
		if _, err := lm.depart(v); err != nil {
			lm.logger.Error("depart at closing", "visitor", v.ID(), "error", err)
			continue
		}
		departed++
	}
	lm.logger.Info("library closed", "at", lm.clock.Now(), "departed", departed)
}

// SaveClock copies the clock position into the library record.
func (lm *LibraryManager) SaveClock() error {
	lib, err := lm.library()
	if err != nil {
		return err
	}
	return errors.Join(
		LibraryDay.Set(lib, lm.clock.Day()),
		LibrarySecond.Set(lib, int64(lm.clock.Second())),
	)
}

// ------------------ Visitors ------------------

// Register creates a visitor. Name and address together must be unique.
func (lm *LibraryManager) Register(name, address string) (Visitor, error) {
	taken := lm.store.Query(VisitorType).
		Where(state.Eq(VisitorName, name), state.Eq(VisitorAddress, address)).
		Count()
	if taken > 0 {
		return Visitor{}, fail(CodeDuplicate)
	}

	b := state.NewBuilder(VisitorType)
	state.Put(b, VisitorName, name)
	state.Put(b, VisitorAddress, address)
	state.Put(b, VisitorRegistered, lm.clock.Now())
	e, err := lm.store.Insert(b)
	if errors.Is(err, state.ErrConstraintViolation) {
		return Visitor{}, fail(CodeDuplicate)
	}
	if err != nil {
		return Visitor{}, err
	}
	return visitorView(e), nil
}

// Visitor looks up a visitor by id.
func (lm *LibraryManager) Visitor(id int64) (Visitor, bool) {
	e, ok := lm.store.Get(VisitorType, id)
	if !ok {
		return Visitor{}, false
	}
	return visitorView(e), true
}

// Arrive starts a visit.
func (lm *LibraryManager) Arrive(visitorID int64) (Visit, error) {
	v, ok := lm.store.Get(VisitorType, visitorID)
	if !ok {
		return Visit{}, fail(CodeInvalidID)
	}
	if VisitorVisiting.Get(v) {
		return Visit{}, fail(CodeAlreadyVisiting)
	}
	if !lm.IsOpen() {
		return Visit{}, fail(CodeLibraryClosed)
	}

	b := state.NewBuilder(VisitType)
	state.Put(b, VisitVisitor, visitorID)
	state.Put(b, VisitArrived, lm.clock.Now())
	e, err := lm.store.Insert(b)
	if err != nil {
		return Visit{}, err
	}
	if err := VisitorVisiting.Set(v, true); err != nil {
		return Visit{}, err
	}
	return visitView(e), nil
}

// Depart ends the current visit.
func (lm *LibraryManager) Depart(visitorID int64) (Visit, error) {
	v, ok := lm.store.Get(VisitorType, visitorID)
	if !ok || !VisitorVisiting.Get(v) {
		return Visit{}, fail(CodeInvalidID)
	}
	return lm.depart(v)
}

func (lm *LibraryManager) depart(v *state.Entity) (Visit, error) {
	now := lm.clock.Now()
	open, found := lm.store.Query(VisitType).
		Where(state.Eq(VisitVisitor, v.ID()), state.Eq(VisitDeparted, nil)).
		First()
	if !found {
		return Visit{}, fmt.Errorf("visitor %d has no open visit", v.ID())
	}
	if err := VisitDeparted.Set(open, &now); err != nil {
		return Visit{}, err
	}
	if err := VisitorVisiting.Set(v, false); err != nil {
		return Visit{}, err
	}
	return visitView(open), nil
}

// ------------------ Circulation ------------------

func (lm *LibraryManager) bookByISBN(isbn string) (*state.Entity, bool) {
	return lm.store.Query(BookType).Where(state.Eq(BookISBN, isbn)).First()
}

func (lm *LibraryManager) activeCheckouts(visitorID int64) *state.Query {
	return lm.store.Query(CheckoutType).
		Where(state.Eq(CheckoutVisitor, visitorID), state.Eq(CheckoutReturned, nil))
}

func (lm *LibraryManager) checkoutView(e *state.Entity) Checkout {
	co := Checkout{
		ID:         e.ID(),
		VisitorID:  CheckoutVisitor.Get(e),
		Slot:       CheckoutSlot.Get(e),
		CheckedOut: CheckoutDate.Get(e),
		Due:        CheckoutDue.Get(e),
		Returned:   CheckoutReturned.Get(e),
		Fine:       CheckoutFine.Get(e),
	}
	if b, ok := lm.store.Get(BookType, CheckoutBook.Get(e)); ok {
		co.Book = bookView(b)
	}
	return co
}

// Borrow checks out one copy per listed ISBN. Every precondition is checked
// before the first copy is taken, so a failure leaves nothing changed.
func (lm *LibraryManager) Borrow(visitorID int64, isbns []string) ([]Checkout, error) {
	v, ok := lm.store.Get(VisitorType, visitorID)
	if !ok {
		return nil, fail(CodeInvalidVisitorID)
	}
	if bal := VisitorBalance.Get(v); bal > lm.rules.FineThreshold {
		return nil, fail(CodeOutstandingFine, state.FormatCents(bal))
	}
	if lm.activeCheckouts(visitorID).Count()+len(isbns) > lm.rules.MaxBooks {
		return nil, fail(CodeBookLimitExceeded)
	}

	books := make([]*state.Entity, len(isbns))
	wanted := map[int64]int64{}
	for i, isbn := range isbns {
		b, ok := lm.bookByISBN(isbn)
		if !ok {
			return nil, fail(CodeInvalidISBN, isbn)
		}
		wanted[b.ID()]++
		if BookAvailable.Get(b) < wanted[b.ID()] {
			return nil, fail(CodeUnavailable, isbn)
		}
		books[i] = b
	}

	now := lm.clock.Now()
	due := now.AddDate(0, 0, lm.rules.LoanDays)
	out := make([]Checkout, 0, len(books))
	for _, b := range books {
		co, err := lm.checkout(v, b, now, due)
		if err != nil {
			return out, err
		}
		out = append(out, co)
	}
	return out, nil
}

// checkout takes the lowest free copy slot of b. The {book, slot} key makes
// a concurrently taken slot fail the insert, in which case the next slot is
// tried.
func (lm *LibraryManager) checkout(v, b *state.Entity, now, due time.Time) (Checkout, error) {
	for slot := int64(0); slot < BookTotal.Get(b); slot++ {
		s := slot
		bld := state.NewBuilder(CheckoutType)
		state.Put(bld, CheckoutVisitor, v.ID())
		state.Put(bld, CheckoutBook, b.ID())
		state.Put(bld, CheckoutSlot, &s)
		state.Put(bld, CheckoutDate, now)
		state.Put(bld, CheckoutDue, due)
		e, err := lm.store.Insert(bld)
		if errors.Is(err, state.ErrConstraintViolation) {
			continue
		}
		if err != nil {
			return Checkout{}, err
		}
		if err := BookAvailable.Set(b, BookAvailable.Get(b)-1); err != nil {
			return Checkout{}, err
		}
		return lm.checkoutView(e), nil
	}
	return Checkout{}, fail(CodeUnavailable, BookISBN.Get(b))
}

// ReturnReceipt summarizes a RETURN.
type ReturnReceipt struct {
	Returned []Checkout
	Overdue  []string
	Fine     int64
}

// Return checks in one borrowed copy per listed ISBN and charges fines for
// overdue copies.
func (lm *LibraryManager) Return(visitorID int64, isbns []string) (ReturnReceipt, error) {
	v, ok := lm.store.Get(VisitorType, visitorID)
	if !ok {
		return ReturnReceipt{}, fail(CodeInvalidVisitorID)
	}

	active := lm.activeCheckouts(visitorID).All()
	taken := make(map[int64]bool, len(isbns))
	picks := make([]*state.Entity, 0, len(isbns))
	for _, isbn := range isbns {
		var pick *state.Entity
		for _, co := range active {
			if taken[co.ID()] {
				continue
			}
			if b, ok := lm.store.Get(BookType, CheckoutBook.Get(co)); ok && BookISBN.Get(b) == isbn {
				pick = co
				break
			}
		}
		if pick == nil {
			return ReturnReceipt{}, fail(CodeInvalidISBN, isbn)
		}
		taken[pick.ID()] = true
		picks = append(picks, pick)
	}

	now := lm.clock.Now()
	var receipt ReturnReceipt
	for _, co := range picks {
		fine := lm.rules.Fine(daysBetween(CheckoutDue.Get(co), now))
		if err := checkIn(co, now); err != nil {
			return receipt, err
		}
		b, ok := lm.store.Get(BookType, CheckoutBook.Get(co))
		if !ok {
			return receipt, fmt.Errorf("checkout %d references missing book", co.ID())
		}
		if err := BookAvailable.Set(b, BookAvailable.Get(b)+1); err != nil {
			return receipt, err
		}
		if fine > 0 {
			if err := CheckoutFine.Set(co, fine); err != nil {
				return receipt, err
			}
			if err := VisitorBalance.Set(v, VisitorBalance.Get(v)+fine); err != nil {
				return receipt, err
			}
			receipt.Fine += fine
			receipt.Overdue = append(receipt.Overdue, BookISBN.Get(b))
		}
		receipt.Returned = append(receipt.Returned, lm.checkoutView(co))
	}
	return receipt, nil
}

// checkIn stamps the return and frees the shelf slot. The slot is kept when
// the stamp is refused.
func checkIn(co *state.Entity, now time.Time) error {
	if err := CheckoutReturned.Set(co, &now); err != nil {
		return err
	}
	return CheckoutSlot.Set(co, nil)
}

// Borrowed lists the visitor's unreturned copies.
func (lm *LibraryManager) Borrowed(visitorID int64) ([]Checkout, error) {
	if _, ok := lm.store.Get(VisitorType, visitorID); !ok {
		return nil, fail(CodeInvalidVisitorID)
	}
	var out []Checkout
	for co := range lm.activeCheckouts(visitorID).Results() {
		out = append(out, lm.checkoutView(co))
	}
	return out, nil
}

// daysBetween counts calendar days from due to now; negative when not yet due.
func daysBetween(due, now time.Time) int {
	d := now.UTC().Truncate(24 * time.Hour).Sub(due.UTC().Truncate(24 * time.Hour))
	return int(d / (24 * time.Hour))
}

// ------------------ Purchasing ------------------

// Purchase is one line of a BUY.
type Purchase struct {
	Book     Book
	Quantity int64
}

// Buy purchases quantity copies of every listed ISBN from the catalog.
// Repeated ISBNs add up.
func (lm *LibraryManager) Buy(quantity int, isbns []string) ([]Purchase, error) {
	if quantity <= 0 {
		return nil, fail(CodeInvalidQuantity, strconv.Itoa(quantity))
	}
	var order []string
	qty := map[string]int64{}
	for _, isbn := range isbns {
		if _, ok := lm.catalog.Lookup(isbn); !ok {
			return nil, fail(CodeInvalidISBN, isbn)
		}
		if _, seen := qty[isbn]; !seen {
			order = append(order, isbn)
		}
		qty[isbn] += int64(quantity)
	}

	now := lm.clock.Now()
	out := make([]Purchase, 0, len(order))
	for _, isbn := range order {
		b, err := lm.stock(isbn, qty[isbn], now)
		if err != nil {
			return out, err
		}
		p := state.NewBuilder(PurchaseType)
		state.Put(p, PurchaseBook, b.ID())
		state.Put(p, PurchaseQuantity, qty[isbn])
		state.Put(p, PurchaseDate, now)
		if _, err := lm.store.Insert(p); err != nil {
			return out, err
		}
		out = append(out, Purchase{Book: bookView(b), Quantity: qty[isbn]})
	}
	return out, nil
}

// stock adds n copies of isbn, creating the book from its catalog entry on
// first purchase.
func (lm *LibraryManager) stock(isbn string, n int64, now time.Time) (*state.Entity, error) {
	if b, ok := lm.bookByISBN(isbn); ok {
		// Raise the total first so available never exceeds it.
		if err := BookTotal.Set(b, BookTotal.Get(b)+n); err != nil {
			return nil, err
		}
		return b, BookAvailable.Set(b, BookAvailable.Get(b)+n)
	}
	entry, _ := lm.catalog.Lookup(isbn)
	bld := state.BuilderFromFields(BookType, entry.Record())
	state.Put(bld, BookPurchased, now)
	state.Put(bld, BookTotal, n)
	state.Put(bld, BookAvailable, n)
	return lm.store.Insert(bld)
}

// ------------------ Payments ------------------

// Pay settles part or all of a visitor's balance and returns what remains.
func (lm *LibraryManager) Pay(visitorID int64, amount int64) (int64, error) {
	v, ok := lm.store.Get(VisitorType, visitorID)
	if !ok {
		return 0, fail(CodeInvalidVisitorID)
	}
	bal := VisitorBalance.Get(v)
	if amount <= 0 || amount > bal {
		return bal, fail(CodeInvalidAmount, state.FormatCents(amount), state.FormatCents(bal))
	}

	b := state.NewBuilder(TransactionType)
	state.Put(b, TransactionVisitor, visitorID)
	state.Put(b, TransactionAmount, amount)
	state.Put(b, TransactionPaidAt, lm.clock.Now())
	if _, err := lm.store.Insert(b); err != nil {
		return bal, err
	}
	if err := VisitorBalance.Set(v, bal-amount); err != nil {
		return bal, err
	}
	return bal - amount, nil
}

// ------------------ Time ------------------

// MaxAdvanceDays bounds a single ADVANCE.
const MaxAdvanceDays = 7

// Advance moves the clock, running the open and close tasks on the way.
func (lm *LibraryManager) Advance(days, hours int) error {
	if days < 0 || days > MaxAdvanceDays {
		return fail(CodeInvalidDays, strconv.Itoa(days))
	}
	if hours < 0 || hours > 23 {
		return fail(CodeInvalidHours, strconv.Itoa(hours))
	}
	return lm.clock.Advance(days, hours)
}

// ------------------ Search ------------------

// Info lists owned books matching c.
func (lm *LibraryManager) Info(c Criteria) []Book {
	var out []Book
	for e := range lm.store.Query(BookType).Results() {
		b := bookView(e)
		if c.matches(b.Title, b.Authors, b.ISBN, b.Publisher) {
			out = append(out, b)
		}
	}
	sortBooks(out, c.Sort)
	return out
}

// Search lists bookstore catalog entries matching c.
func (lm *LibraryManager) Search(c Criteria) []CatalogEntry {
	var out []CatalogEntry
	for _, e := range lm.catalog.entries {
		if c.matches(e.Title, e.Authors, e.ISBN, e.Publisher) {
			out = append(out, e)
		}
	}
	sortEntries(out, c.Sort)
	return out
}

// ------------------ Reports ------------------

// Report summarizes library activity.
type Report struct {
	Date             time.Time
	Books            int64
	Visitors         int
	AverageVisit     time.Duration
	BooksPurchased   int64
	FinesCollected   int64
	FinesOutstanding int64
}

// Report covers the last days days, or all time when days is 0. Book count
// and outstanding fines are always current totals.
func (lm *LibraryManager) Report(days int) Report {
	now := lm.clock.Now()
	var since time.Time
	if days > 0 {
		since = now.AddDate(0, 0, -days)
	}
	r := Report{Date: now}

	for b := range lm.store.Query(BookType).Results() {
		r.Books += BookTotal.Get(b)
	}
	for v := range lm.store.Query(VisitorType).Results() {
		if !VisitorRegistered.Get(v).Before(since) {
			r.Visitors++
		}
		r.FinesOutstanding += VisitorBalance.Get(v)
	}

	var total time.Duration
	var finished int64
	for e := range lm.store.Query(VisitType).Results() {
		v := visitView(e)
		if v.Departed == nil || v.Arrived.Before(since) {
			continue
		}
		total += v.Duration()
		finished++
	}
	if finished > 0 {
		r.AverageVisit = total / time.Duration(finished)
	}

	for p := range lm.store.Query(PurchaseType).Results() {
		if !PurchaseDate.Get(p).Before(since) {
			r.BooksPurchased += PurchaseQuantity.Get(p)
		}
	}
	for t := range lm.store.Query(TransactionType).Results() {
		if !TransactionPaidAt.Get(t).Before(since) {
			r.FinesCollected += TransactionAmount.Get(t)
		}
	}
	return r
}
