package command

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Kind is the type a command parameter is converted to.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	// KindRest takes the remaining text verbatim; it must be the last parameter.
	KindRest
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "text"
	case KindInt:
		return "integer"
	case KindFloat:
		return "number"
	case KindBool:
		return "yes/no"
	case KindRest:
		return "text"
	default:
		return "unknown"
	}
}

// Param declares one positional argument of a command.
type Param struct {
	Name string
	Kind Kind
	// Optional params fall back to Default when conversion fails instead of
	// reporting an ArgumentError.
	Optional bool
	Default  any
}

// ArgumentError reports an argument that could not be converted.
type ArgumentError struct {
	Param string
	Value string
	Kind  Kind
	Err   error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("Invalid value %q for %s: expected %s", e.Value, e.Param, e.Kind)
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}

var (
	trueWords  = map[string]bool{"yes": true, "true": true, "enable": true, "on": true, "1": true}
	falseWords = map[string]bool{"no": true, "false": true, "disable": true, "off": true, "0": true}
)

func validateParams(params []Param) error {
	seen := make(map[string]bool, len(params))
	for i, p := range params {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("parameter %d has no name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate parameter %q", p.Name)
		}
		seen[p.Name] = true

		if p.Kind == KindRest && i != len(params)-1 {
			return fmt.Errorf("parameter %q takes the remaining text and must be last", p.Name)
		}
	}
	return nil
}

// convertArgs maps the whitespace separated args (and the raw input for
// KindRest) onto params.
func convertArgs(params []Param, args []string, input string) (map[string]any, error) {
	values := make(map[string]any, len(params))

	for i, p := range params {
		if p.Kind == KindRest {
			rest := skipFields(input, i)
			if rest == "" && p.Default != nil {
				values[p.Name] = p.Default
			} else {
				values[p.Name] = rest
			}
			break
		}

		if i >= len(args) {
			values[p.Name] = defaultFor(p)
			continue
		}

		v, err := convert(p.Kind, args[i])
		if err != nil {
			if p.Optional {
				values[p.Name] = defaultFor(p)
				continue
			}
			return nil, &ArgumentError{Param: p.Name, Value: args[i], Kind: p.Kind, Err: err}
		}
		values[p.Name] = v
	}

	return values, nil
}

func convert(kind Kind, raw string) (any, error) {
	switch kind {
	case KindInt:
		return strconv.ParseInt(raw, 10, 64)
	case KindFloat:
		return strconv.ParseFloat(raw, 64)
	case KindBool:
		lower := strings.ToLower(raw)
		switch {
		case trueWords[lower]:
			return true, nil
		case falseWords[lower]:
			return false, nil
		default:
			return nil, fmt.Errorf("%q is not a yes/no value", raw)
		}
	default:
		return raw, nil
	}
}

func defaultFor(p Param) any {
	if p.Default != nil {
		return p.Default
	}

	switch p.Kind {
	case KindInt:
		return int64(0)
	case KindFloat:
		return float64(0)
	case KindBool:
		return false
	default:
		return ""
	}
}

// skipFields drops the first n whitespace separated fields of s.
func skipFields(s string, n int) string {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	for ; n > 0 && s != ""; n-- {
		end := strings.IndexFunc(s, unicode.IsSpace)
		if end < 0 {
			return ""
		}
		s = strings.TrimLeftFunc(s[end:], unicode.IsSpace)
	}
	return strings.TrimRightFunc(s, unicode.IsSpace)
}
