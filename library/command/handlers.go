package command

import (
	"context"
	"strconv"

	"lbms/library"
	"lbms/library/clock"
	"lbms/library/state"
)

func id(n int64) string { return strconv.FormatInt(n, 10) }

// ------------------ Visitors ------------------

type registerCmd struct{ lm *library.LibraryManager }

func (registerCmd) Params() []Param { return required("name", "address") }

func (c registerCmd) Execute(_ context.Context, a Args) (Response, error) {
	v, err := c.lm.Register(a.String(0), a.String(1))
	if err != nil {
		return Response{}, err
	}
	return respond(KindRegister.String(), id(v.ID), clock.FormatDate(v.Registered)), nil
}

type arriveCmd struct{ lm *library.LibraryManager }

func (arriveCmd) Params() []Param { return required("visitor-id") }

func (c arriveCmd) Execute(_ context.Context, a Args) (Response, error) {
	visitor, err := a.Int(0)
	if err != nil {
		return Response{}, err
	}
	v, err := c.lm.Arrive(visitor)
	if err != nil {
		return Response{}, err
	}
	return respond(KindArrive.String(), id(visitor), clock.FormatDate(v.Arrived), clock.FormatTime(v.Arrived)), nil
}

type departCmd struct{ lm *library.LibraryManager }

func (departCmd) Params() []Param { return required("visitor-id") }

func (c departCmd) Execute(_ context.Context, a Args) (Response, error) {
	visitor, err := a.Int(0)
	if err != nil {
		return Response{}, err
	}
	v, err := c.lm.Depart(visitor)
	if err != nil {
		return Response{}, err
	}
	return respond(KindDepart.String(), id(visitor), clock.FormatTime(*v.Departed), clock.FormatDuration(v.Duration())), nil
}

type payCmd struct{ lm *library.LibraryManager }

func (payCmd) Params() []Param { return required("visitor-id", "amount") }

func (c payCmd) Execute(_ context.Context, a Args) (Response, error) {
	visitor, err := a.Int(0)
	if err != nil {
		return Response{}, err
	}
	amount, err := a.Cents(1)
	if err != nil {
		return Response{}, err
	}
	balance, err := c.lm.Pay(visitor, amount)
	if err != nil {
		return Response{}, err
	}
	return respond(KindPay.String(), flagSuccess, state.FormatCents(balance)), nil
}

// ------------------ Circulation ------------------

type borrowCmd struct{ lm *library.LibraryManager }

func (borrowCmd) Params() []Param { return required("visitor-id", "isbn-list") }

func (c borrowCmd) Execute(_ context.Context, a Args) (Response, error) {
	visitor, err := a.Int(0)
	if err != nil {
		return Response{}, err
	}
	checkouts, err := c.lm.Borrow(visitor, a.List(1))
	if err != nil {
		return Response{}, err
	}
	due := c.lm.Now().AddDate(0, 0, c.lm.Rules().LoanDays)
	if len(checkouts) > 0 {
		due = checkouts[0].Due
	}
	r := respond(KindBorrow.String(), clock.FormatDate(due), strconv.Itoa(len(checkouts)))
	for _, co := range checkouts {
		slot := ""
		if co.Slot != nil {
			slot = id(*co.Slot)
		}
		r = r.row(id(co.ID), co.Book.ISBN, slot)
	}
	return r, nil
}

type returnCmd struct{ lm *library.LibraryManager }

func (returnCmd) Params() []Param { return required("visitor-id", "isbn-list") }

func (c returnCmd) Execute(_ context.Context, a Args) (Response, error) {
	visitor, err := a.Int(0)
	if err != nil {
		return Response{}, err
	}
	receipt, err := c.lm.Return(visitor, a.List(1))
	if err != nil {
		return Response{}, err
	}
	if len(receipt.Overdue) == 0 {
		return respond(KindReturn.String(), flagSuccess), nil
	}
	return respond(KindReturn.String(), "overdue", state.FormatCents(receipt.Fine), Braces(receipt.Overdue)), nil
}

type borrowedCmd struct{ lm *library.LibraryManager }

func (borrowedCmd) Params() []Param { return required("visitor-id") }

func (c borrowedCmd) Execute(_ context.Context, a Args) (Response, error) {
	visitor, err := a.Int(0)
	if err != nil {
		return Response{}, err
	}
	checkouts, err := c.lm.Borrowed(visitor)
	if err != nil {
		return Response{}, err
	}
	r := respond(KindBorrowed.String(), strconv.Itoa(len(checkouts)))
	for _, co := range checkouts {
		r = r.row(id(co.ID), co.Book.ISBN, co.Book.Title, clock.FormatDate(co.CheckedOut), clock.FormatDate(co.Due))
	}
	return r, nil
}

// ------------------ Stock ------------------

type buyCmd struct{ lm *library.LibraryManager }

func (buyCmd) Params() []Param { return required("quantity", "isbn-list") }

func (c buyCmd) Execute(_ context.Context, a Args) (Response, error) {
	quantity, err := a.Int(0)
	if err != nil {
		return Response{}, err
	}
	bought, err := c.lm.Buy(int(quantity), a.List(1))
	if err != nil {
		return Response{}, err
	}
	r := respond(KindBuy.String(), flagSuccess, strconv.Itoa(len(bought)))
	for _, p := range bought {
		r = r.row(p.Book.ISBN, p.Book.Title, Braces(p.Book.Authors), p.Book.Published, id(p.Quantity))
	}
	return r, nil
}

// searchParams are shared by INFO and SEARCH.
func searchParams() []Param {
	return append(required("title"), optional("authors", "isbn", "publisher", "sort")...)
}

func criteria(a Args, owned bool) (library.Criteria, error) {
	order, err := library.ParseSortOrder(a.String(4), owned)
	if err != nil {
		return library.Criteria{}, err
	}
	var authors []string
	if s := a.String(1); s != library.Wildcard {
		authors = List(s)
	}
	return library.Criteria{
		Title:     a.String(0),
		Authors:   authors,
		ISBN:      a.String(2),
		Publisher: a.String(3),
		Sort:      order,
	}, nil
}

type infoCmd struct{ lm *library.LibraryManager }

func (infoCmd) Params() []Param { return searchParams() }

func (c infoCmd) Execute(_ context.Context, a Args) (Response, error) {
	crit, err := criteria(a, true)
	if err != nil {
		return Response{}, err
	}
	books := c.lm.Info(crit)
	r := respond(KindInfo.String(), strconv.Itoa(len(books)))
	for _, b := range books {
		r = r.row(id(b.Available), b.ISBN, b.Title, Braces(b.Authors), b.Publisher, clock.FormatDate(b.Purchased))
	}
	return r, nil
}

type searchCmd struct{ lm *library.LibraryManager }

func (searchCmd) Params() []Param { return searchParams() }

func (c searchCmd) Execute(_ context.Context, a Args) (Response, error) {
	crit, err := criteria(a, false)
	if err != nil {
		return Response{}, err
	}
	entries := c.lm.Search(crit)
	r := respond(KindSearch.String(), strconv.Itoa(len(entries)))
	for _, e := range entries {
		r = r.row(e.ISBN, e.Title, Braces(e.Authors), e.Publisher, e.Published)
	}
	return r, nil
}

// ------------------ Time and reports ------------------

type advanceCmd struct{ lm *library.LibraryManager }

func (advanceCmd) Params() []Param { return append(required("days"), optional("hours")...) }

func (c advanceCmd) Execute(_ context.Context, a Args) (Response, error) {
	days, err := a.Int(0)
	if err != nil {
		return Response{}, err
	}
	hours, err := a.IntOr(1, 0)
	if err != nil {
		return Response{}, err
	}
	if err := c.lm.Advance(int(days), int(hours)); err != nil {
		return Response{}, err
	}
	return respond(KindAdvance.String(), flagSuccess), nil
}

type datetimeCmd struct{ lm *library.LibraryManager }

func (datetimeCmd) Params() []Param { return nil }

func (c datetimeCmd) Execute(context.Context, Args) (Response, error) {
	now := c.lm.Now()
	return respond(KindDatetime.String(), clock.FormatDate(now), clock.FormatTime(now)), nil
}

type reportCmd struct{ lm *library.LibraryManager }

func (reportCmd) Params() []Param { return optional("days") }

func (c reportCmd) Execute(_ context.Context, a Args) (Response, error) {
	days, err := a.IntOr(0, 0)
	if err != nil {
		return Response{}, err
	}
	if days < 0 {
		return Response{}, a.mismatch(0)
	}
	rep := c.lm.Report(int(days))
	return respond(KindReport.String(), clock.FormatDate(rep.Date)).
		row("Number of Books: " + id(rep.Books)).
		row("Number of Visitors: " + strconv.Itoa(rep.Visitors)).
		row("Average Length of Visit: " + clock.FormatDuration(rep.AverageVisit)).
		row("Number of Books Purchased: " + id(rep.BooksPurchased)).
		row("Fines Collected: " + state.FormatCents(rep.FinesCollected)).
		row("Fines Outstanding: " + state.FormatCents(rep.FinesOutstanding)), nil
}
