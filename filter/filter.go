package filter

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// Options lists the regex patterns applied to a candidate message.
type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

type patterns []*regexp.Regexp

func (p patterns) match(text []byte) bool {
	for _, re := range p {
		if re.Match(text) {
			return true
		}
	}
	return false
}

// Filter decides whether a fresh message may be scanned for links. A nil
// Filter allows everything.
type Filter struct {
	includeHeader patterns
	includeBody   patterns
	excludeHeader patterns
	excludeBody   patterns
}

// New compiles opts. It returns nil when no pattern is configured.
func New(opts Options) (*Filter, error) {
	f := &Filter{}
	sets := []struct {
		name string
		src  []string
		dst  *patterns
	}{
		{"include-header", opts.IncludeHeader, &f.includeHeader},
		{"include-body", opts.IncludeBody, &f.includeBody},
		{"exclude-header", opts.ExcludeHeader, &f.excludeHeader},
		{"exclude-body", opts.ExcludeBody, &f.excludeBody},
	}
	for _, s := range sets {
		compiled, err := compile(s.src)
		if err != nil {
			return nil, fmt.Errorf("compile %s pattern: %w", s.name, err)
		}
		*s.dst = compiled
	}

	if f.including() && f.excluding() {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}
	if !f.including() && !f.excluding() {
		return nil, nil
	}
	return f, nil
}

func (f *Filter) including() bool {
	return len(f.includeHeader) > 0 || len(f.includeBody) > 0
}

func (f *Filter) excluding() bool {
	return len(f.excludeHeader) > 0 || len(f.excludeBody) > 0
}

// Allows reports whether the raw message passes the filter.
func (f *Filter) Allows(raw []byte) bool {
	if f == nil {
		return true
	}
	header, body := SplitRawMessage(raw)
	if f.including() {
		return f.includeHeader.match(header) || f.includeBody.match(body)
	}
	return !f.excludeHeader.match(header) && !f.excludeBody.match(body)
}

// SplitRawMessage splits a raw email message into header and body parts.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}

	return raw, nil
}

func compile(src []string) (patterns, error) {
	compiled := make(patterns, 0, len(src))
	for _, pattern := range src {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
