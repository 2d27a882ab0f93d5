package library

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lbms/library/clock"
	"lbms/library/config"
	"lbms/library/state"
	"lbms/library/storage"
)

const (
	openAt  = 8 * 3600
	closeAt = 19 * 3600

	goBook  = "9780134190440"
	cBook   = "9780131103627"
	gofBook = "9780201633610"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newManager(t *testing.T) *LibraryManager {
	t.Helper()
	store := state.NewStore(storage.NewMemory(), nil, Types()...)
	require.NoError(t, store.Initialize(context.Background()))
	clk, err := clock.New(epoch, 0, openAt)
	require.NoError(t, err)

	mgr := NewLibraryManager(store, clk, nil, RulesFromConfig(config.Default().Circulation), nil)
	require.NoError(t, mgr.EnsureLibrary(openAt, closeAt))
	require.NoError(t, mgr.SetOpen(true))
	require.NoError(t, clk.RegisterTask(openAt, mgr.OpenLibrary))
	require.NoError(t, clk.RegisterTask(closeAt, mgr.CloseLibrary))
	return mgr
}

func register(t *testing.T, mgr *LibraryManager, name string) Visitor {
	t.Helper()
	v, err := mgr.Register(name, "1 Main St")
	require.NoError(t, err)
	return v
}

func TestFine(t *testing.T) {
	r := RulesFromConfig(config.Default().Circulation)
	tests := []struct {
		days int
		want int64
	}{
		{-3, 0}, {0, 0}, {1, 1000}, {7, 1000}, {8, 1200}, {15, 1400}, {200, 3000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.Fine(tt.days), "days late %d", tt.days)
	}
}

func TestRegisterAssignsIDsAndRejectsDuplicates(t *testing.T) {
	mgr := newManager(t)

	alice := register(t, mgr, "Alice")
	bob := register(t, mgr, "Bob")
	assert.Equal(t, int64(1), alice.ID)
	assert.Equal(t, int64(2), bob.ID)
	assert.Equal(t, mgr.Now(), alice.Registered)

	_, err := mgr.Register("Alice", "1 Main St")
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = mgr.Register("Alice", "2 Side St")
	assert.NoError(t, err)
}

func TestArriveAndDepart(t *testing.T) {
	mgr := newManager(t)
	alice := register(t, mgr, "Alice")

	visit, err := mgr.Arrive(alice.ID)
	require.NoError(t, err)
	assert.Equal(t, mgr.Now(), visit.Arrived)

	_, err = mgr.Arrive(alice.ID)
	assert.ErrorIs(t, err, ErrAlreadyVisiting)
	_, err = mgr.Arrive(99)
	assert.ErrorIs(t, err, ErrInvalidID)

	require.NoError(t, mgr.Advance(0, 2))
	visit, err = mgr.Depart(alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, visit.Duration())

	_, err = mgr.Depart(alice.ID)
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestDepartWithoutOpenVisitKeepsVisitor(t *testing.T) {
	mgr := newManager(t)
	alice := register(t, mgr, "Alice")
	v, ok := mgr.store.Get(VisitorType, alice.ID)
	require.True(t, ok)
	require.NoError(t, VisitorVisiting.Set(v, true))

	_, err := mgr.Depart(alice.ID)
	require.Error(t, err)
	assert.True(t, VisitorVisiting.Get(v))
	assert.Zero(t, mgr.store.Query(VisitType).Count())
}

func TestCloseDepartsVisitorsAndRefusesArrivals(t *testing.T) {
	mgr := newManager(t)
	alice := register(t, mgr, "Alice")
	bob := register(t, mgr, "Bob")
	_, err := mgr.Arrive(alice.ID)
	require.NoError(t, err)

	require.NoError(t, mgr.Advance(0, 12))
	assert.False(t, mgr.IsOpen())
	v, _ := mgr.Visitor(alice.ID)
	assert.False(t, v.Visiting)

	_, err = mgr.Arrive(bob.ID)
	assert.ErrorIs(t, err, ErrLibraryClosed)

	report := mgr.Report(0)
	assert.Equal(t, 11*time.Hour, report.AverageVisit, "departure is stamped at closing time")

	require.NoError(t, mgr.Advance(0, 13))
	assert.True(t, mgr.IsOpen())
}

func TestBorrowAvailability(t *testing.T) {
	mgr := newManager(t)
	alice := register(t, mgr, "Alice")
	bob := register(t, mgr, "Bob")
	_, err := mgr.Buy(1, []string{goBook})
	require.NoError(t, err)

	cos, err := mgr.Borrow(alice.ID, []string{goBook})
	require.NoError(t, err)
	require.Len(t, cos, 1)
	assert.Equal(t, int64(0), *cos[0].Slot)
	assert.Nil(t, cos[0].Returned)
	assert.Equal(t, mgr.Now().AddDate(0, 0, 7), cos[0].Due)
	assert.Equal(t, int64(0), mgr.Info(Criteria{ISBN: goBook})[0].Available)

	_, err = mgr.Borrow(bob.ID, []string{goBook})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int64(0), mgr.Info(Criteria{ISBN: goBook})[0].Available)
	assert.Equal(t, 1, mgr.store.Query(CheckoutType).Count())
}

func TestBorrowIsAllOrNothing(t *testing.T) {
	mgr := newManager(t)
	alice := register(t, mgr, "Alice")
	_, err := mgr.Buy(2, []string{goBook, cBook})
	require.NoError(t, err)

	_, err = mgr.Borrow(alice.ID, []string{goBook, "0000000000000"})
	var de *DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, CodeInvalidISBN, de.Code)
	assert.Equal(t, []string{"0000000000000"}, de.Details)

	_, err = mgr.Borrow(alice.ID, []string{cBook, goBook, goBook, goBook})
	assert.ErrorIs(t, err, ErrUnavailable)

	for _, b := range mgr.Info(Criteria{}) {
		assert.Equal(t, int64(2), b.Available, b.ISBN)
	}
	assert.Zero(t, mgr.store.Query(CheckoutType).Count())

	_, err = mgr.Borrow(alice.ID, []string{goBook, goBook, cBook, cBook, gofBook, goBook})
	assert.ErrorIs(t, err, ErrBookLimitExceeded)
}

func TestReturnChargesOverdueFines(t *testing.T) {
	mgr := newManager(t)
	alice := register(t, mgr, "Alice")
	_, err := mgr.Buy(1, []string{goBook, cBook})
	require.NoError(t, err)
	_, err = mgr.Borrow(alice.ID, []string{goBook, cBook})
	require.NoError(t, err)

	_, err = mgr.Return(alice.ID, []string{gofBook})
	assert.ErrorIs(t, err, ErrInvalidISBN)

	receipt, err := mgr.Return(alice.ID, []string{goBook})
	require.NoError(t, err)
	assert.Zero(t, receipt.Fine)
	assert.Empty(t, receipt.Overdue)

	// Due after 7 days; 9 more days makes it 2 days late.
	require.NoError(t, mgr.Advance(7, 0))
	require.NoError(t, mgr.Advance(2, 0))
	receipt, err = mgr.Return(alice.ID, []string{cBook})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), receipt.Fine)
	assert.Equal(t, []string{cBook}, receipt.Overdue)

	v, _ := mgr.Visitor(alice.ID)
	assert.Equal(t, int64(1000), v.Balance)

	_, err = mgr.Borrow(alice.ID, []string{goBook})
	var de *DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, CodeOutstandingFine, de.Code)
	assert.Equal(t, []string{"10.00"}, de.Details)

	borrowed, err := mgr.Borrowed(alice.ID)
	require.NoError(t, err)
	assert.Empty(t, borrowed)
}

func TestReturnedSlotIsReused(t *testing.T) {
	mgr := newManager(t)
	alice := register(t, mgr, "Alice")
	bob := register(t, mgr, "Bob")
	_, err := mgr.Buy(2, []string{goBook})
	require.NoError(t, err)

	first, err := mgr.Borrow(alice.ID, []string{goBook})
	require.NoError(t, err)
	second, err := mgr.Borrow(bob.ID, []string{goBook})
	require.NoError(t, err)
	assert.Equal(t, int64(1), *second[0].Slot)

	_, err = mgr.Return(alice.ID, []string{goBook})
	require.NoError(t, err)
	third, err := mgr.Borrow(alice.ID, []string{goBook})
	require.NoError(t, err)
	assert.Equal(t, *first[0].Slot, *third[0].Slot)
}

func TestCheckInKeepsSlotWhenAlreadyReturned(t *testing.T) {
	mgr := newManager(t)
	alice := register(t, mgr, "Alice")
	_, err := mgr.Buy(1, []string{goBook})
	require.NoError(t, err)
	_, err = mgr.Borrow(alice.ID, []string{goBook})
	require.NoError(t, err)

	co, ok := mgr.store.Query(CheckoutType).First()
	require.True(t, ok)
	earlier := mgr.Now().Add(-time.Hour)
	require.NoError(t, CheckoutReturned.Set(co, &earlier))

	err = checkIn(co, mgr.Now())
	assert.ErrorIs(t, err, state.ErrFieldAlreadySet)
	require.NotNil(t, CheckoutSlot.Get(co))
	assert.Equal(t, int64(0), *CheckoutSlot.Get(co))
	assert.Equal(t, earlier, *CheckoutReturned.Get(co))
}

func TestPay(t *testing.T) {
	mgr := newManager(t)
	alice := register(t, mgr, "Alice")
	v, _ := mgr.store.Get(VisitorType, alice.ID)
	require.NoError(t, VisitorBalance.Set(v, 1500))

	_, err := mgr.Pay(alice.ID, 2000)
	var de *DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, []string{"20.00", "15.00"}, de.Details)
	_, err = mgr.Pay(alice.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = mgr.Pay(7, 100)
	assert.ErrorIs(t, err, ErrInvalidVisitorID)

	bal, err := mgr.Pay(alice.ID, 1250)
	require.NoError(t, err)
	assert.Equal(t, int64(250), bal)
	assert.Equal(t, int64(1250), mgr.Report(1).FinesCollected)
	assert.Equal(t, int64(250), mgr.Report(1).FinesOutstanding)
}

func TestBuyAddsCopies(t *testing.T) {
	mgr := newManager(t)
	_, err := mgr.Buy(0, []string{goBook})
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = mgr.Buy(1, []string{goBook, "123"})
	assert.ErrorIs(t, err, ErrInvalidISBN)
	assert.Empty(t, mgr.Info(Criteria{}))

	lines, err := mgr.Buy(2, []string{goBook, cBook, goBook})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, int64(4), lines[0].Quantity)
	assert.Equal(t, "The Go Programming Language", lines[0].Book.Title)

	_, err = mgr.Buy(1, []string{goBook})
	require.NoError(t, err)
	books := mgr.Info(Criteria{ISBN: goBook})
	require.Len(t, books, 1)
	assert.Equal(t, int64(5), books[0].Total)
	assert.Equal(t, int64(5), books[0].Available)
	assert.Equal(t, int64(7), mgr.Report(0).BooksPurchased)
	assert.Equal(t, int64(7), mgr.Report(0).Books)
}

func TestAdvanceBounds(t *testing.T) {
	mgr := newManager(t)
	assert.ErrorIs(t, mgr.Advance(8, 0), ErrInvalidDays)
	assert.ErrorIs(t, mgr.Advance(-1, 0), ErrInvalidDays)
	assert.ErrorIs(t, mgr.Advance(0, 24), ErrInvalidHours)
	require.NoError(t, mgr.Advance(1, 0))
	assert.Equal(t, epoch.Add(24*time.Hour+openAt*time.Second), mgr.Now())
}

func TestInfoAndSearch(t *testing.T) {
	mgr := newManager(t)
	_, err := mgr.Buy(1, []string{goBook, cBook, gofBook})
	require.NoError(t, err)
	alice := register(t, mgr, "Alice")
	_, err = mgr.Borrow(alice.ID, []string{cBook})
	require.NoError(t, err)

	kernighan := mgr.Info(Criteria{Title: "*", Authors: []string{"kernighan"}, Sort: SortTitle})
	require.Len(t, kernighan, 2)
	assert.Equal(t, cBook, kernighan[0].ISBN, "sorted by title")
	assert.Equal(t, goBook, kernighan[1].ISBN)

	byStatus := mgr.Info(Criteria{Sort: SortBookStatus})
	assert.Equal(t, cBook, byStatus[2].ISBN)

	byDate := mgr.Info(Criteria{Sort: SortPublishDate})
	assert.Equal(t, []string{cBook, gofBook, goBook}, []string{byDate[0].ISBN, byDate[1].ISBN, byDate[2].ISBN})

	found := mgr.Search(Criteria{Title: "design", Publisher: "addison"})
	require.NotEmpty(t, found)
	for _, e := range found {
		assert.Contains(t, e.Publisher, "Addison")
	}
	assert.Len(t, mgr.Search(Criteria{ISBN: goBook}), 1)
}

func TestParseSortOrder(t *testing.T) {
	o, err := ParseSortOrder("Title", false)
	require.NoError(t, err)
	assert.Equal(t, SortTitle, o)

	o, err = ParseSortOrder("*", true)
	require.NoError(t, err)
	assert.Equal(t, SortDefault, o)

	_, err = ParseSortOrder("book-status", false)
	assert.ErrorIs(t, err, ErrInvalidSortOrder)
	_, err = ParseSortOrder("random", true)
	assert.ErrorIs(t, err, ErrInvalidSortOrder)
}

func TestClockPositionSurvivesSave(t *testing.T) {
	mgr := newManager(t)
	require.NoError(t, mgr.Advance(2, 3))
	require.NoError(t, mgr.SaveClock())

	day, second, ok := ClockPosition(mgr.store)
	require.True(t, ok)
	assert.Equal(t, int64(2), day)
	assert.Equal(t, openAt+3*3600, second)
}
