package engine

import (
	"fmt"
	"regexp"
	"strings"
)

// URIPattern is a compiled URI template. `*` segments translate to `.*` and
// `{name}` variables translate to named capture groups matching a single
// path segment.
type URIPattern struct {
	Raw string

	regex     *regexp.Regexp
	segments  int
	wildcards int
	variables int
	isExact   bool
}

var variableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// CompileURIPattern compiles a URI template into a matchable pattern
func CompileURIPattern(raw string) (*URIPattern, error) {
	if raw == "" {
		return nil, InvalidArgumentf("uri pattern must not be empty")
	}

	var sb strings.Builder
	sb.WriteString("^")

	wildcards := 0
	variables := 0

	for i := 0; i < len(raw); {
		switch raw[i] {
		case '*':
			sb.WriteString(".*")
			wildcards++
			i++
		case '{':
			end := strings.IndexByte(raw[i:], '}')
			if end < 0 {
				return nil, InvalidArgumentf("unterminated variable in uri pattern %q", raw)
			}
			name := raw[i+1 : i+end]
			if !variableNameRe.MatchString(name) {
				return nil, InvalidArgumentf("invalid variable name %q in uri pattern %q", name, raw)
			}
			fmt.Fprintf(&sb, "(?P<%s>[^/]+)", name)
			variables++
			i += end + 1
		default:
			sb.WriteString(regexp.QuoteMeta(raw[i : i+1]))
			i++
		}
	}
	sb.WriteString("$")

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, InvalidArgumentf("uri pattern %q does not compile: %v", raw, err)
	}

	segments := 0
	for _, seg := range strings.Split(raw, "/") {
		if seg != "" {
			segments++
		}
	}

	return &URIPattern{
		Raw:       raw,
		regex:     re,
		segments:  segments,
		wildcards: wildcards,
		variables: variables,
		isExact:   wildcards == 0 && variables == 0,
	}, nil
}

// Match reports whether the URI matches and returns extracted variables
func (p *URIPattern) Match(uri string) (bool, map[string]string) {
	m := p.regex.FindStringSubmatch(uri)
	if m == nil {
		return false, nil
	}

	if p.variables == 0 {
		return true, nil
	}

	vars := make(map[string]string, p.variables)
	for i, name := range p.regex.SubexpNames() {
		if i > 0 && name != "" {
			vars[name] = m[i]
		}
	}
	return true, vars
}

// IsExact reports whether the pattern contains no wildcards or variables
func (p *URIPattern) IsExact() bool {
	return p.isExact
}

// MoreSpecificThan orders patterns: exact beats templated, then more path
// segments, then fewer wildcards, then fewer variables; ties are broken by
// the longer raw string.
func (p *URIPattern) MoreSpecificThan(other *URIPattern) bool {
	if p.isExact != other.isExact {
		return p.isExact
	}
	if p.segments != other.segments {
		return p.segments > other.segments
	}
	if p.wildcards != other.wildcards {
		return p.wildcards < other.wildcards
	}
	if p.variables != other.variables {
		return p.variables < other.variables
	}
	return len(p.Raw) > len(other.Raw)
}

// MatchURI is a convenience wrapper compiling and matching in one call.
// Invalid patterns never match.
func MatchURI(pattern, uri string) bool {
	p, err := CompileURIPattern(pattern)
	if err != nil {
		return false
	}
	ok, _ := p.Match(uri)
	return ok
}
