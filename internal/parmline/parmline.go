// Package parmline implements the wire grammar shared by the TT4/TT5
// server family: an event keyword followed by zero or more name=value
// parameters, where a value is a signed int, a quoted escaped string, or a
// bracketed comma-separated list of ints.
package parmline

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"git.sr.ht/~dlee/ttcom/internal/attrdict"
)

// ErrNoEventKeyword is returned when a line has no leading keyword to
// parse (e.g. it starts with "name=value").
var ErrNoEventKeyword = errors.New("parmline: no event keyword")

// ErrUnparsable is returned when the remaining text cannot be interpreted
// as a keyword, and relaxed mode was not requested.
var ErrUnparsable = errors.New("parmline: line not parsable")

var reKeyword = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]*`)
var reInt = regexp.MustCompile(`^-?[0-9]+`)
var reList = regexp.MustCompile(`^\[[^\]]*\]`)

// Param is one typed parameter in a Line: a Keyword (bare, no value), an
// Int, a String, or a List.
type Param interface {
	// Name returns the parameter's keyword (empty for the frame's leading
	// event keyword itself, which is not a Param).
	Name() string
	// String renders the wire form of this parameter, e.g. `userid=7`,
	// `nickname="bob"`, or `list=[1,2,3]`.
	String() string
	// StringValue returns the parameter's value rendered as a plain
	// string, the form stored in a Line's flattened attrdict.Dict view.
	StringValue() string
	Equal(Param) bool
}

// Keyword is a parameter with no value, used both for an event's leading
// word and for bare relaxed-mode tokens like "-m".
type Keyword struct {
	K string
}

func (p Keyword) Name() string        { return p.K }
func (p Keyword) String() string      { return p.K }
func (p Keyword) StringValue() string { return "" }
func (p Keyword) Equal(o Param) bool {
	op, ok := o.(Keyword)
	return ok && op.K == p.K
}

// Int is a signed integer parameter.
type Int struct {
	K string
	V int
}

func (p Int) Name() string        { return p.K }
func (p Int) String() string      { return fmt.Sprintf("%s=%d", p.K, p.V) }
func (p Int) StringValue() string { return strconv.Itoa(p.V) }
func (p Int) Equal(o Param) bool {
	op, ok := o.(Int)
	return ok && op.K == p.K && op.V == p.V
}

// String is a quoted, escaped string parameter. Raw holds the decoded
// value (real CR/LF/backslash); Encoded() renders the `\r`, `\n`, `\\`
// wire-escaped form used between the quotes.
type String struct {
	K   string
	Raw string
}

func (p String) Name() string { return p.K }

// Encoded returns the wire-escaped form of Raw: backslash doubled, CR and
// LF replaced by their two-character escapes.
func (p String) Encoded() string {
	r := strings.ReplaceAll(p.Raw, `\`, `\\`)
	r = strings.ReplaceAll(r, "\r", `\r`)
	r = strings.ReplaceAll(r, "\n", `\n`)
	return r
}

func (p String) String() string      { return fmt.Sprintf(`%s="%s"`, p.K, p.Encoded()) }
func (p String) StringValue() string { return p.Raw }
func (p String) Equal(o Param) bool {
	op, ok := o.(String)
	return ok && op.K == p.K && op.Raw == p.Raw
}

// decodeEncoded turns a wire-encoded string body (as captured between
// quotes, escapes still literal) into its raw/decoded form.
func decodeEncoded(encoded string) string {
	r := strings.ReplaceAll(encoded, `\\`, "\x00") // placeholder to avoid double-unescaping
	r = strings.ReplaceAll(r, `\r`, "\r")
	r = strings.ReplaceAll(r, `\n`, "\n")
	r = strings.ReplaceAll(r, "\x00", `\`)
	return r
}

// List is a bracketed comma-separated list of ints.
type List struct {
	K string
	V []int
}

func (p List) Name() string { return p.K }
func (p List) String() string {
	parts := make([]string, len(p.V))
	for i, v := range p.V {
		parts[i] = strconv.Itoa(v)
	}
	return fmt.Sprintf("%s=[%s]", p.K, strings.Join(parts, ","))
}
func (p List) StringValue() string {
	return p.String()[len(p.K)+1:]
}
func (p List) Equal(o Param) bool {
	op, ok := o.(List)
	if !ok || op.K != p.K || len(op.V) != len(p.V) {
		return false
	}
	for i := range p.V {
		if p.V[i] != op.V[i] {
			return false
		}
	}
	return true
}

// Line is a parsed protocol frame: an event keyword plus an ordered,
// typed parameter list, along with the raw source text it was parsed
// from (used verbatim by the trigger engine's whole-line match rule).
type Line struct {
	Event  string
	Params []Param
	Raw    string
}

// Equal reports structural equality: same event, same parameters in the
// same order. Used to state the codec's round-trip invariant.
func (l Line) Equal(o Line) bool {
	if l.Event != o.Event || len(l.Params) != len(o.Params) {
		return false
	}
	for i := range l.Params {
		if !l.Params[i].Equal(o.Params[i]) {
			return false
		}
	}
	return true
}

// String renders the line back to wire form. It is the Emit side of the
// codec: parse(Parse(x).String()) must equal parse(x) for any well-formed
// frame x.
func (l Line) String() string {
	var b strings.Builder
	b.WriteString(l.Event)
	for _, p := range l.Params {
		b.WriteByte(' ')
		b.WriteString(p.String())
	}
	return b.String()
}

// Get returns the named parameter if present.
func (l Line) Get(name string) (Param, bool) {
	name = strings.ToLower(name)
	for _, p := range l.Params {
		if strings.ToLower(p.Name()) == name {
			return p, true
		}
	}
	return nil, false
}

// Parms flattens Params into a plain string-valued attrdict.Dict, the
// representation event handlers and the diffing updater operate on.
func (l Line) Parms() attrdict.Dict {
	d := attrdict.New()
	for _, p := range l.Params {
		d.Set(p.Name(), p.StringValue())
	}
	return d
}

type scanner struct {
	s string
}

func (sc *scanner) next(relaxed bool) (Param, error) {
	sc.s = strings.TrimLeft(sc.s, " \t\r\n")
	if sc.s == "" {
		return nil, nil
	}
	kw := reKeyword.FindString(sc.s)
	if kw == "" {
		if !relaxed {
			return nil, fmt.Errorf("%w: remaining text %q", ErrUnparsable, sc.s)
		}
		var val string
		val, sc.s = sc.nextString(sc.s)
		kw = val
	} else {
		sc.s = sc.s[len(kw):]
	}
	if sc.s == "" || sc.s[0] != '=' {
		return Keyword{K: kw}, nil
	}
	sc.s = sc.s[1:]
	if sc.s == "" {
		return String{K: kw, Raw: ""}, nil
	}
	switch {
	case sc.s[0] == '[':
		m := reList.FindString(sc.s)
		if m == "" {
			return nil, fmt.Errorf("%w: unterminated list for %q", ErrUnparsable, kw)
		}
		sc.s = sc.s[len(m):]
		inner := m[1 : len(m)-1]
		var vals []int
		if inner != "" {
			for _, tok := range strings.Split(inner, ",") {
				n, err := strconv.Atoi(strings.TrimSpace(tok))
				if err != nil {
					return nil, fmt.Errorf("%w: bad list element %q for %q", ErrUnparsable, tok, kw)
				}
				vals = append(vals, n)
			}
		}
		return List{K: kw, V: vals}, nil
	case sc.s[0] == '-' || (sc.s[0] >= '0' && sc.s[0] <= '9'):
		m := reInt.FindString(sc.s)
		sc.s = sc.s[len(m):]
		n, err := strconv.Atoi(m)
		if err != nil {
			return nil, fmt.Errorf("%w: bad int %q for %q", ErrUnparsable, m, kw)
		}
		return Int{K: kw, V: n}, nil
	case sc.s[0] != '"' && !relaxed:
		return nil, fmt.Errorf("%w: %q requires a quoted string value", ErrUnparsable, kw)
	default:
		var encoded string
		encoded, sc.s = sc.nextString(sc.s)
		return String{K: kw, Raw: decodeEncoded(encoded)}, nil
	}
}

// nextString pulls the next (possibly quoted) string token off line,
// returning the wire-encoded value (escapes left literal) and the
// remainder of line.
func (sc *scanner) nextString(line string) (val string, rest string) {
	quoting := false
	if len(line) > 0 && line[0] == '"' {
		line = line[1:]
		quoting = true
	}
	for line != "" {
		ch := line[0]
		line = line[1:]
		if ch == '\\' {
			if line != "" {
				val += string(ch) + string(line[0])
				line = line[1:]
			} else {
				val += string(ch)
			}
			continue
		}
		if quoting {
			if ch == '"' {
				quoting = false
				break
			}
			val += string(ch)
			continue
		}
		if ch == ' ' || ch == '\t' || ch == '\r' || ch == '\n' {
			line = string(ch) + line
			break
		}
		val += string(ch)
	}
	return val, line
}

// Parse parses a frame in strict mode: the event keyword must match TT
// protocol identifier rules, and string values must be quoted.
func Parse(line string) (Line, error) {
	return parse(line, false)
}

// ParseRelaxed parses a frame in relaxed mode, for user-typed command
// lines: the event keyword may be any non-whitespace token (e.g. "-m"),
// and string values need not be quoted.
func ParseRelaxed(line string) (Line, error) {
	return parse(line, true)
}

func parse(line string, relaxed bool) (Line, error) {
	raw := strings.TrimRight(line, "\r\n")
	sc := &scanner{s: strings.TrimSpace(raw)}
	first, err := sc.next(relaxed)
	if err != nil {
		return Line{}, err
	}
	if first == nil {
		return Line{Raw: raw}, nil
	}
	kw, ok := first.(Keyword)
	if !ok {
		return Line{}, ErrNoEventKeyword
	}
	l := Line{Event: kw.K, Raw: raw}
	for {
		p, err := sc.next(relaxed)
		if err != nil {
			return Line{}, err
		}
		if p == nil {
			break
		}
		l.Params = append(l.Params, p)
	}
	return l, nil
}

// New builds a Line from an event keyword and parameters, ready for
// emission via String().
func New(event string, params ...Param) Line {
	return Line{Event: event, Params: params, Raw: ""}
}
