package idgen

import (
	"errors"
	"fmt"
	"strings"
)

// maxBaseLen caps the rendered base ID, leaving room for a dedup suffix
// before the final MaxSlugLen cap.
const maxBaseLen = 60

// ErrTemplate is returned when an ID template cannot be parsed.
var ErrTemplate = errors.New("invalid id template")

// Template is a parsed external-ID template. Literal text is emitted
// verbatim; {…} holes hold expressions in a small DSL:
//
//	slug(field)        slug of the row value (unknown field renders "")
//	a or b             left operand when non-empty, otherwise right
//	concat(a, b, ...)  non-empty parts joined with "_"
//
// Example: "partner_{slug(email) or slug(name)}".
type Template struct {
	source   string
	segments []segment
}

type segment struct {
	literal string
	expr    node // nil for literal segments
}

type node interface {
	render(row map[string]*string) string
}

type slugNode struct {
	field string
}

func (n slugNode) render(row map[string]*string) string {
	v := row[n.field]
	if v == nil {
		return ""
	}

	return Slug(*v)
}

type orNode struct {
	left, right node
}

func (n orNode) render(row map[string]*string) string {
	if v := n.left.render(row); v != "" {
		return v
	}

	return n.right.render(row)
}

type concatNode struct {
	parts []node
}

func (n concatNode) render(row map[string]*string) string {
	rendered := make([]string, 0, len(n.parts))

	for _, p := range n.parts {
		if v := p.render(row); v != "" {
			rendered = append(rendered, v)
		}
	}

	return strings.Join(rendered, "_")
}

// ParseTemplate parses an ID template once so per-row rendering is just an
// AST walk. Parse errors are fatal for the model's emit pass.
func ParseTemplate(source string) (*Template, error) {
	t := &Template{source: source}

	rest := source
	for len(rest) > 0 {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			t.segments = append(t.segments, segment{literal: rest})

			break
		}

		if open > 0 {
			t.segments = append(t.segments, segment{literal: rest[:open]})
		}

		closing := strings.IndexByte(rest[open:], '}')
		if closing < 0 {
			return nil, fmt.Errorf("%w: unclosed brace in %q", ErrTemplate, source)
		}

		exprSrc := rest[open+1 : open+closing]

		expr, err := parseExpr(exprSrc)
		if err != nil {
			return nil, err
		}

		t.segments = append(t.segments, segment{expr: expr})
		rest = rest[open+closing+1:]
	}

	return t, nil
}

// Render evaluates the template against one row. The result is uncapped;
// Tracker.Track applies the base and final length caps.
func (t *Template) Render(row map[string]*string) string {
	var b strings.Builder

	for _, seg := range t.segments {
		if seg.expr != nil {
			b.WriteString(seg.expr.render(row))

			continue
		}

		b.WriteString(seg.literal)
	}

	return b.String()
}

// String returns the original template source.
func (t *Template) String() string {
	return t.source
}

// parseExpr parses an expression hole: or-chains over calls.
func parseExpr(src string) (node, error) {
	p := &exprParser{src: src}

	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	p.skipSpace()

	if p.pos != len(p.src) {
		return nil, fmt.Errorf("%w: trailing input %q in %q", ErrTemplate, p.src[p.pos:], src)
	}

	return n, nil
}

type exprParser struct {
	src string
	pos int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *exprParser) parseOr() (node, error) {
	left, err := p.parseCall()
	if err != nil {
		return nil, err
	}

	for {
		p.skipSpace()

		if !strings.HasPrefix(p.src[p.pos:], "or ") && !strings.HasPrefix(p.src[p.pos:], "or(") {
			return left, nil
		}

		p.pos += 2

		right, err := p.parseCall()
		if err != nil {
			return nil, err
		}

		left = orNode{left: left, right: right}
	}
}

func (p *exprParser) parseCall() (node, error) {
	p.skipSpace()

	switch {
	case strings.HasPrefix(p.src[p.pos:], "slug("):
		p.pos += len("slug(")

		field, err := p.parseArg()
		if err != nil {
			return nil, err
		}

		return slugNode{field: field}, nil

	case strings.HasPrefix(p.src[p.pos:], "concat("):
		p.pos += len("concat(")

		var parts []node

		for {
			part, err := p.parseOr()
			if err != nil {
				return nil, err
			}

			parts = append(parts, part)

			p.skipSpace()

			if p.pos < len(p.src) && p.src[p.pos] == ',' {
				p.pos++

				continue
			}

			break
		}

		if p.pos >= len(p.src) || p.src[p.pos] != ')' {
			return nil, fmt.Errorf("%w: missing ) in concat", ErrTemplate)
		}

		p.pos++

		return concatNode{parts: parts}, nil

	default:
		return nil, fmt.Errorf("%w: expected slug(...) or concat(...) at %q", ErrTemplate, p.src[p.pos:])
	}
}

// parseArg consumes a field name up to the closing parenthesis. Field names
// may contain any character except ")" (Odoo-style names like stage_id/id).
func (p *exprParser) parseArg() (string, error) {
	end := strings.IndexByte(p.src[p.pos:], ')')
	if end < 0 {
		return "", fmt.Errorf("%w: missing ) after field name", ErrTemplate)
	}

	field := strings.TrimSpace(p.src[p.pos : p.pos+end])
	p.pos += end + 1

	if field == "" {
		return "", fmt.Errorf("%w: empty field name", ErrTemplate)
	}

	return field, nil
}
