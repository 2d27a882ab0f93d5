package command

import (
	"fmt"
	"strconv"
	"strings"

	"lbms/library/state"
)

const (
	fieldSep = ","
	unitEnd  = ";"

	flagMissingParameters = "missing-parameters"
	flagTypeMismatch      = "type-mismatch"
	flagUnknownCommand    = "unknown-command"
	flagError             = "error"
	flagSuccess           = "success"

	internalErrorText = "server encountered an error"
)

// Tokenize splits a request into its verb and arguments. A trailing ';' is
// dropped; commas inside {...} do not split, so a braced list stays one
// argument.
func Tokenize(line string) (string, []string) {
	line = strings.TrimSuffix(strings.TrimSpace(line), unitEnd)
	var (
		tokens []string
		cur    strings.Builder
		depth  int
	)
	for _, r := range line {
		switch {
		case r == '{':
			depth++
		case r == '}' && depth > 0:
			depth--
		case r == ',' && depth == 0:
			tokens = append(tokens, strings.TrimSpace(cur.String()))
			cur.Reset()
			continue
		}
		cur.WriteRune(r)
	}
	tokens = append(tokens, strings.TrimSpace(cur.String()))
	return tokens[0], tokens[1:]
}

// List expands a braced list argument. A bare value is a one-item list.
func List(arg string) []string {
	arg = strings.TrimSpace(arg)
	if strings.HasPrefix(arg, "{") && strings.HasSuffix(arg, "}") {
		arg = arg[1 : len(arg)-1]
	}
	var out []string
	for _, item := range strings.Split(arg, fieldSep) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Braces renders items as a braced list.
func Braces(items []string) string {
	return "{" + strings.Join(items, fieldSep) + "}"
}

// Response is one protocol unit: a header line and optional rows.
type Response struct {
	Verb   string
	Fields []string
	Rows   [][]string
}

func respond(verb string, fields ...string) Response {
	return Response{Verb: verb, Fields: fields}
}

func (r Response) row(fields ...string) Response {
	r.Rows = append(r.Rows, fields)
	return r
}

// Lines renders the unit. With rows, the header ends with a separator and
// every row gets its own line; the last line carries the terminator.
func (r Response) Lines() []string {
	header := strings.Join(append([]string{r.Verb}, r.Fields...), fieldSep)
	if len(r.Rows) == 0 {
		return []string{header + unitEnd}
	}
	lines := make([]string, 0, len(r.Rows)+1)
	lines = append(lines, header+fieldSep)
	for _, row := range r.Rows {
		lines = append(lines, strings.Join(row, fieldSep))
	}
	lines[len(lines)-1] += unitEnd
	return lines
}

func (r Response) String() string { return strings.Join(r.Lines(), "\n") }

func missingParameters(verb string, names []string) Response {
	return respond(verb, flagMissingParameters, Braces(names))
}

func unknownCommand(input string) Response {
	return Response{Verb: strings.TrimSuffix(strings.TrimSpace(input), unitEnd), Fields: []string{flagUnknownCommand}}
}

func internalError(verb string) Response {
	return respond(verb, flagError, internalErrorText)
}

// TypeMismatchError reports an argument that does not parse.
type TypeMismatchError struct {
	Param string
	Value string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("%s: cannot parse %q", e.Param, e.Value)
}

// Args are the arguments of one request, truncated to the declared params.
type Args struct {
	params []Param
	values []string
}

// Len is the number of arguments supplied.
func (a Args) Len() int { return len(a.values) }

// Has reports whether argument i was supplied and is not empty.
func (a Args) Has(i int) bool { return i < len(a.values) && a.values[i] != "" }

// String returns argument i, or "" when absent.
func (a Args) String(i int) string {
	if i >= len(a.values) {
		return ""
	}
	return a.values[i]
}

// List returns argument i as a list.
func (a Args) List(i int) []string { return List(a.String(i)) }

// Int parses argument i as an integer.
func (a Args) Int(i int) (int64, error) {
	n, err := strconv.ParseInt(a.String(i), 10, 64)
	if err != nil {
		return 0, a.mismatch(i)
	}
	return n, nil
}

// IntOr parses argument i, returning def when it was not supplied.
func (a Args) IntOr(i int, def int64) (int64, error) {
	if !a.Has(i) {
		return def, nil
	}
	return a.Int(i)
}

// Cents parses argument i as a money amount.
func (a Args) Cents(i int) (int64, error) {
	c, err := state.ParseCents(a.String(i))
	if err != nil {
		return 0, a.mismatch(i)
	}
	return c, nil
}

func (a Args) mismatch(i int) error {
	name := fmt.Sprintf("arg%d", i+1)
	if i < len(a.params) {
		name = a.params[i].Name
	}
	return &TypeMismatchError{Param: name, Value: a.String(i)}
}

// missing names the required params that were not supplied, in declared
// order.
func missing(params []Param, values []string) []string {
	var out []string
	for i, p := range params {
		if p.Optional {
			continue
		}
		if i >= len(values) || values[i] == "" || (isList(values[i]) && len(List(values[i])) == 0) {
			out = append(out, p.Name)
		}
	}
	return out
}

func isList(v string) bool { return strings.HasPrefix(v, "{") }
