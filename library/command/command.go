// Package command implements the line protocol: tokenizing requests,
// dispatching each verb to its handler and formatting responses.
package command

import (
	"context"
	"fmt"
	"strings"

	"lbms/library"
)

// Kind enumerates the protocol verbs.
type Kind int

const (
	KindRegister Kind = iota
	KindArrive
	KindDepart
	KindBorrow
	KindReturn
	KindBorrowed
	KindBuy
	KindPay
	KindAdvance
	KindDatetime
	KindInfo
	KindReport
	KindSearch
	kindCount
)

var kindNames = [kindCount]string{
	KindRegister: "register",
	KindArrive:   "arrive",
	KindDepart:   "depart",
	KindBorrow:   "borrow",
	KindReturn:   "return",
	KindBorrowed: "borrowed",
	KindBuy:      "buy",
	KindPay:      "pay",
	KindAdvance:  "advance",
	KindDatetime: "datetime",
	KindInfo:     "info",
	KindReport:   "report",
	KindSearch:   "search",
}

// String returns the lower-case verb.
func (k Kind) String() string {
	if k < 0 || k >= kindCount {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind resolves a verb, ignoring case.
func ParseKind(verb string) (Kind, bool) {
	verb = strings.ToLower(strings.TrimSpace(verb))
	for k, name := range kindNames {
		if name == verb {
			return Kind(k), true
		}
	}
	return 0, false
}

// Kinds lists every verb in declaration order.
func Kinds() []Kind {
	out := make([]Kind, kindCount)
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}

// Param is a declared argument of a verb.
type Param struct {
	Name     string
	Optional bool
}

func required(names ...string) []Param {
	out := make([]Param, len(names))
	for i, n := range names {
		out[i] = Param{Name: n}
	}
	return out
}

func optional(names ...string) []Param {
	out := required(names...)
	for i := range out {
		out[i].Optional = true
	}
	return out
}

// Handler executes one verb. Ordinary validation failures are reported as
// a *library.DomainError or *TypeMismatchError; any other error is treated
// as an internal failure.
type Handler interface {
	Params() []Param
	Execute(ctx context.Context, args Args) (Response, error)
}

// Handlers holds one handler per verb for a single server.
type Handlers struct {
	Register Handler
	Arrive   Handler
	Depart   Handler
	Borrow   Handler
	Return   Handler
	Borrowed Handler
	Buy      Handler
	Pay      Handler
	Advance  Handler
	Datetime Handler
	Info     Handler
	Report   Handler
	Search   Handler
}

// NewHandlers builds the handlers bound to lm.
func NewHandlers(lm *library.LibraryManager) *Handlers {
	return &Handlers{
		Register: registerCmd{lm},
		Arrive:   arriveCmd{lm},
		Depart:   departCmd{lm},
		Borrow:   borrowCmd{lm},
		Return:   returnCmd{lm},
		Borrowed: borrowedCmd{lm},
		Buy:      buyCmd{lm},
		Pay:      payCmd{lm},
		Advance:  advanceCmd{lm},
		Datetime: datetimeCmd{lm},
		Info:     infoCmd{lm},
		Report:   reportCmd{lm},
		Search:   searchCmd{lm},
	}
}

// For returns the handler of k.
func (h *Handlers) For(k Kind) Handler {
	switch k {
	case KindRegister:
		return h.Register
	case KindArrive:
		return h.Arrive
	case KindDepart:
		return h.Depart
	case KindBorrow:
		return h.Borrow
	case KindReturn:
		return h.Return
	case KindBorrowed:
		return h.Borrowed
	case KindBuy:
		return h.Buy
	case KindPay:
		return h.Pay
	case KindAdvance:
		return h.Advance
	case KindDatetime:
		return h.Datetime
	case KindInfo:
		return h.Info
	case KindReport:
		return h.Report
	case KindSearch:
		return h.Search
	default:
		panic(fmt.Sprintf("command: no handler for %s", k))
	}
}
