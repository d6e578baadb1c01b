package dynamotest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type tokKind int

const (
	tEOF tokKind = iota
	tWord
	tLParen
	tRParen
	tComma
	tOp
	tPlus
	tMinus
)

type token struct {
	kind tokKind
	text string
}

func isWordByte(c byte) bool {
	return c == '_' || c == '#' || c == ':' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func tokenize(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tRParen, ")"})
			i++
		case c == ',':
			toks = append(toks, token{tComma, ","})
			i++
		case c == '+':
			toks = append(toks, token{tPlus, "+"})
			i++
		case c == '-':
			toks = append(toks, token{tMinus, "-"})
			i++
		case c == '=':
			toks = append(toks, token{tOp, "="})
			i++
		case c == '<':
			if i+1 < len(s) && (s[i+1] == '>' || s[i+1] == '=') {
				toks = append(toks, token{tOp, s[i : i+2]})
				i += 2
				continue
			}
			toks = append(toks, token{tOp, "<"})
			i++
		case c == '>':
			if i+1 < len(s) && s[i+1] == '=' {
				toks = append(toks, token{tOp, ">="})
				i += 2
				continue
			}
			toks = append(toks, token{tOp, ">"})
			i++
		case isWordByte(c):
			j := i
			for j < len(s) && isWordByte(s[j]) {
				j++
			}
			toks = append(toks, token{tWord, s[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("dynamotest: unexpected %q in expression %q", c, s)
		}
	}
	return append(toks, token{kind: tEOF}), nil
}

type parser struct {
	toks   []token
	pos    int
	names  map[string]string
	values map[string]types.AttributeValue
	item   map[string]types.AttributeValue
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokKind) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, fmt.Errorf("dynamotest: unexpected token %q", t.text)
	}
	return t, nil
}

func (p *parser) isKeyword(word string) bool {
	t := p.peek()
	return t.kind == tWord && strings.EqualFold(t.text, word)
}

func (p *parser) name(word string) (string, error) {
	if strings.HasPrefix(word, "#") {
		n, ok := p.names[word]
		if !ok {
			return "", fmt.Errorf("dynamotest: undefined attribute name %s", word)
		}
		return n, nil
	}
	return word, nil
}

func (p *parser) value(word string) (types.AttributeValue, error) {
	v, ok := p.values[word]
	if !ok {
		return nil, fmt.Errorf("dynamotest: undefined attribute value %s", word)
	}
	return v, nil
}

// operand resolves a placeholder value, an attribute path or if_not_exists.
// Missing attributes resolve to nil.
func (p *parser) operand() (types.AttributeValue, error) {
	t, err := p.expect(tWord)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(t.text, ":") {
		return p.value(t.text)
	}
	if t.text == "if_not_exists" {
		if _, err := p.expect(tLParen); err != nil {
			return nil, err
		}
		pathTok, err := p.expect(tWord)
		if err != nil {
			return nil, err
		}
		n, err := p.name(pathTok.text)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tComma); err != nil {
			return nil, err
		}
		fallback, err := p.operand()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tRParen); err != nil {
			return nil, err
		}
		if v, ok := p.item[n]; ok {
			return v, nil
		}
		return fallback, nil
	}
	n, err := p.name(t.text)
	if err != nil {
		return nil, err
	}
	return p.item[n], nil
}

func evalCondition(expr *string, names map[string]string, values map[string]types.AttributeValue, it map[string]types.AttributeValue) (bool, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true, nil
	}
	toks, err := tokenize(*expr)
	if err != nil {
		return false, err
	}
	p := &parser{toks: toks, names: names, values: values, item: it}
	ok, err := p.or()
	if err != nil {
		return false, err
	}
	if p.peek().kind != tEOF {
		return false, fmt.Errorf("dynamotest: trailing input in %q", *expr)
	}
	return ok, nil
}

func (p *parser) or() (bool, error) {
	left, err := p.and()
	if err != nil {
		return false, err
	}
	for p.isKeyword("OR") {
		p.next()
		right, err := p.and()
		if err != nil {
			return false, err
		}
		left = left || right
	}
	return left, nil
}

func (p *parser) and() (bool, error) {
	left, err := p.unary()
	if err != nil {
		return false, err
	}
	for p.isKeyword("AND") {
		p.next()
		right, err := p.unary()
		if err != nil {
			return false, err
		}
		left = left && right
	}
	return left, nil
}

func (p *parser) unary() (bool, error) {
	if p.isKeyword("NOT") {
		p.next()
		v, err := p.unary()
		return !v, err
	}
	if p.peek().kind == tLParen {
		p.next()
		v, err := p.or()
		if err != nil {
			return false, err
		}
		if _, err := p.expect(tRParen); err != nil {
			return false, err
		}
		return v, nil
	}
	if p.isKeyword("attribute_exists") || p.isKeyword("attribute_not_exists") {
		fn := p.next().text
		if _, err := p.expect(tLParen); err != nil {
			return false, err
		}
		t, err := p.expect(tWord)
		if err != nil {
			return false, err
		}
		n, err := p.name(t.text)
		if err != nil {
			return false, err
		}
		if _, err := p.expect(tRParen); err != nil {
			return false, err
		}
		_, exists := p.item[n]
		if fn == "attribute_exists" {
			return exists, nil
		}
		return !exists, nil
	}

	left, err := p.operand()
	if err != nil {
		return false, err
	}
	op, err := p.expect(tOp)
	if err != nil {
		return false, err
	}
	right, err := p.operand()
	if err != nil {
		return false, err
	}
	return compare(left, right, op.text)
}

func compare(a, b types.AttributeValue, op string) (bool, error) {
	if a == nil || b == nil {
		return op == "<>" && (a != nil || b != nil), nil
	}
	var c int
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return op == "<>", nil
		}
		c = strings.Compare(av.Value, bv.Value)
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return op == "<>", nil
		}
		x, err := strconv.ParseFloat(av.Value, 64)
		if err != nil {
			return false, err
		}
		y, err := strconv.ParseFloat(bv.Value, 64)
		if err != nil {
			return false, err
		}
		switch {
		case x < y:
			c = -1
		case x > y:
			c = 1
		}
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok {
			return op == "<>", nil
		}
		if op != "=" && op != "<>" {
			return false, fmt.Errorf("dynamotest: operator %s not defined for BOOL", op)
		}
		if av.Value != bv.Value {
			c = 1
		}
	default:
		return false, fmt.Errorf("dynamotest: unsupported comparison type %T", a)
	}

	switch op {
	case "=":
		return c == 0, nil
	case "<>":
		return c != 0, nil
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, fmt.Errorf("dynamotest: unknown operator %s", op)
}

func applyUpdate(expr string, names map[string]string, values map[string]types.AttributeValue, it map[string]types.AttributeValue) error {
	toks, err := tokenize(expr)
	if err != nil {
		return err
	}
	p := &parser{toks: toks, names: names, values: values, item: it}

	for p.peek().kind != tEOF {
		kw, err := p.expect(tWord)
		if err != nil {
			return err
		}
		switch strings.ToUpper(kw.text) {
		case "SET":
			err = p.clauses(p.set)
		case "ADD":
			err = p.clauses(p.add)
		case "REMOVE":
			err = p.clauses(p.remove)
		default:
			err = fmt.Errorf("dynamotest: unsupported update clause %s", kw.text)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) clauses(action func() error) error {
	for {
		if err := action(); err != nil {
			return err
		}
		if p.peek().kind != tComma {
			return nil
		}
		p.next()
	}
}

func (p *parser) target() (string, error) {
	t, err := p.expect(tWord)
	if err != nil {
		return "", err
	}
	return p.name(t.text)
}

func (p *parser) set() error {
	n, err := p.target()
	if err != nil {
		return err
	}
	if op, err := p.expect(tOp); err != nil || op.text != "=" {
		return fmt.Errorf("dynamotest: expected = in SET for %s", n)
	}
	v, err := p.operand()
	if err != nil {
		return err
	}
	if k := p.peek().kind; k == tPlus || k == tMinus {
		p.next()
		rhs, err := p.operand()
		if err != nil {
			return err
		}
		sign := 1.0
		if k == tMinus {
			sign = -1
		}
		v, err = addNumbers(v, rhs, sign)
		if err != nil {
			return err
		}
	}
	if v == nil {
		return fmt.Errorf("dynamotest: SET %s references a missing attribute", n)
	}
	p.item[n] = v
	return nil
}

func (p *parser) add() error {
	n, err := p.target()
	if err != nil {
		return err
	}
	v, err := p.operand()
	if err != nil {
		return err
	}
	cur, ok := p.item[n]
	if !ok {
		p.item[n] = v
		return nil
	}
	sum, err := addNumbers(cur, v, 1)
	if err != nil {
		return err
	}
	p.item[n] = sum
	return nil
}

func (p *parser) remove() error {
	n, err := p.target()
	if err != nil {
		return err
	}
	delete(p.item, n)
	return nil
}

func addNumbers(a, b types.AttributeValue, sign float64) (types.AttributeValue, error) {
	an, ok := a.(*types.AttributeValueMemberN)
	if !ok {
		return nil, fmt.Errorf("dynamotest: arithmetic on non-number %T", a)
	}
	bn, ok := b.(*types.AttributeValueMemberN)
	if !ok {
		return nil, fmt.Errorf("dynamotest: arithmetic on non-number %T", b)
	}
	x, err := strconv.ParseFloat(an.Value, 64)
	if err != nil {
		return nil, err
	}
	y, err := strconv.ParseFloat(bn.Value, 64)
	if err != nil {
		return nil, err
	}
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(x+sign*y, 'f', -1, 64)}, nil
}
