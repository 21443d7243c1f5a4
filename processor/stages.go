package processor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/openzipkin/zipkin-go/model"

	"github.com/honeycombio/intake/config"
	"github.com/honeycombio/intake/types"
)

// Redactor rewrites every tag value and annotation matching Pattern.
type Redactor struct {
	Pattern     *regexp.Regexp
	Replacement string
}

func NewRedactor(pattern, replacement string) (*Redactor, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid redaction pattern %q: %w", pattern, err)
	}
	return &Redactor{Pattern: re, Replacement: replacement}, nil
}

func (r *Redactor) Handle(span *types.Span) (*types.Span, error) {
	var out *types.Span
	for k, v := range span.Tags {
		if !r.Pattern.MatchString(v) {
			continue
		}
		if out == nil {
			out = copySpan(span)
		}
		out.Tags[k] = r.Pattern.ReplaceAllString(v, r.Replacement)
	}

	copied := false
	for i, a := range span.Annotations {
		if !r.Pattern.MatchString(a.Value) {
			continue
		}
		if out == nil {
			out = copySpan(span)
		}
		if !copied {
			out.Annotations = append([]model.Annotation(nil), span.Annotations...)
			copied = true
		}
		out.Annotations[i].Value = r.Pattern.ReplaceAllString(a.Value, r.Replacement)
	}

	if out == nil {
		return span, nil
	}
	return out, nil
}

// TagAdder sets static tags on every span. Tags already present on the span
// are left alone.
type TagAdder struct {
	Tags map[string]string
}

func (t *TagAdder) Handle(span *types.Span) (*types.Span, error) {
	var out *types.Span
	for k, v := range t.Tags {
		if _, ok := span.Tags[k]; ok {
			continue
		}
		if out == nil {
			out = copySpan(span)
		}
		out.Tags[k] = v
	}
	if out == nil {
		return span, nil
	}
	return out, nil
}

// NameDropper drops spans by name, ignoring case.
type NameDropper struct {
	names map[string]struct{}
}

func NewNameDropper(names ...string) *NameDropper {
	d := &NameDropper{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		d.names[strings.ToLower(n)] = struct{}{}
	}
	return d
}

func (d *NameDropper) Handle(span *types.Span) (*types.Span, error) {
	if _, ok := d.names[strings.ToLower(span.Name)]; ok {
		return nil, nil
	}
	return span, nil
}

// FromConfig builds a chain with one stage per configured processor, in
// order.
func FromConfig(cfgs []config.ProcessorConfig) (Chain, error) {
	chain := make(Chain, 0, len(cfgs))
	for i, c := range cfgs {
		switch strings.ToLower(c.Type) {
		case "redact":
			r, err := NewRedactor(c.Pattern, c.Replacement)
			if err != nil {
				return nil, fmt.Errorf("processor %d: %w", i, err)
			}
			chain = append(chain, r)
		case "tag":
			chain = append(chain, &TagAdder{Tags: c.Tags})
		case "drop":
			chain = append(chain, NewNameDropper(c.Names...))
		default:
			return nil, fmt.Errorf("processor %d: unknown type %q", i, c.Type)
		}
	}
	return chain, nil
}
