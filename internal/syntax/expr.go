package syntax

import (
	"strconv"

	"github.com/me/gowdl/pkg/wdl"
)

// Binary operator precedence, loosest first. Unary and postfix
// operators bind tighter than every level here.
var precedence = [][]string{
	{"||"},
	{"&&"},
	{"==", "!=", "<", "<=", ">", ">="},
	{"+", "-"},
	{"*", "/", "%"},
}

// parseExpr parses a full expression, including the prefix ternary
// form "if c then a else b".
func (ps *parse) parseExpr() (wdl.Expr, error) {
	t, err := ps.peek()
	if err != nil {
		return nil, err
	}
	if t.kind == tokIdent && t.text == "if" {
		_, _ = ps.next()
		cond, err := ps.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := ps.expectKeyword("then"); err != nil {
			return nil, err
		}
		thenE, err := ps.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := ps.expectKeyword("else"); err != nil {
			return nil, err
		}
		elseE, err := ps.parseExpr()
		if err != nil {
			return nil, err
		}
		return &wdl.ExprTernary{
			ExprBase: wdl.ExprBase{Pos: t.pos},
			Cond:     cond, Then: thenE, Else: elseE,
		}, nil
	}
	return ps.parseBinary(0)
}

func (ps *parse) parseBinary(level int) (wdl.Expr, error) {
	if level >= len(precedence) {
		return ps.parseUnary()
	}
	left, err := ps.parseBinary(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		t, err := ps.peek()
		if err != nil {
			return nil, err
		}
		if t.kind != tokPunct || !contains(precedence[level], t.text) {
			return left, nil
		}
		_, _ = ps.next()
		right, err := ps.parseBinary(level + 1)
		if err != nil {
			return nil, err
		}
		left = &wdl.ExprBinary{
			ExprBase: wdl.ExprBase{Pos: t.pos},
			Op:       t.text, Left: left, Right: right,
		}
	}
}

func contains(ops []string, op string) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}

func (ps *parse) parseUnary() (wdl.Expr, error) {
	t, err := ps.peek()
	if err != nil {
		return nil, err
	}
	if t.kind == tokPunct && (t.text == "!" || t.text == "-" || t.text == "+") {
		_, _ = ps.next()
		operand, err := ps.parseUnary()
		if err != nil {
			return nil, err
		}
		if t.text == "+" {
			return operand, nil
		}
		return &wdl.ExprUnary{
			ExprBase: wdl.ExprBase{Pos: t.pos},
			Op:       t.text, Operand: operand,
		}, nil
	}
	return ps.parsePostfix()
}

// parsePostfix parses a primary expression followed by any chain of
// indexing and member access.
func (ps *parse) parsePostfix() (wdl.Expr, error) {
	expr, err := ps.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		t, err := ps.peek()
		if err != nil {
			return nil, err
		}
		if t.kind != tokPunct {
			return expr, nil
		}
		switch t.text {
		case "[":
			_, _ = ps.next()
			index, err := ps.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := ps.expectPunct("]"); err != nil {
				return nil, err
			}
			expr = &wdl.ExprAt{
				ExprBase: wdl.ExprBase{Pos: t.pos},
				Base:     expr, Index: index,
			}
		case ".":
			_, _ = ps.next()
			name, err := ps.expectIdent()
			if err != nil {
				return nil, err
			}
			expr = &wdl.ExprGetMember{
				ExprBase: wdl.ExprBase{Pos: t.pos},
				Base:     expr, Name: name.text,
			}
		default:
			return expr, nil
		}
	}
}

func (ps *parse) parsePrimary() (wdl.Expr, error) {
	t, err := ps.next()
	if err != nil {
		return nil, err
	}
	base := wdl.ExprBase{Pos: t.pos}

	switch t.kind {
	case tokInt:
		v, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, ps.errf(t.pos, "invalid integer literal %q", t.text)
		}
		return &wdl.ExprInt{ExprBase: base, V: v}, nil

	case tokFloat:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, ps.errf(t.pos, "invalid float literal %q", t.text)
		}
		return &wdl.ExprFloat{ExprBase: base, V: v}, nil

	case tokString:
		return ps.parseInterpolatedString(t)

	case tokIdent:
		switch t.text {
		case "true":
			return &wdl.ExprBoolean{ExprBase: base, V: true}, nil
		case "false":
			return &wdl.ExprBoolean{ExprBase: base, V: false}, nil
		case "None", "null":
			return &wdl.ExprNull{ExprBase: base}, nil
		case "object":
			if _, err := ps.expectPunct("{"); err != nil {
				return nil, err
			}
			return ps.parseObjectLiteral(base, "")
		}
		nxt, err := ps.peek()
		if err != nil {
			return nil, err
		}
		if nxt.kind == tokPunct {
			switch nxt.text {
			case "(":
				_, _ = ps.next()
				args, err := ps.parseArgs()
				if err != nil {
					return nil, err
				}
				return &wdl.ExprApply{ExprBase: base, Func: t.text, Args: args}, nil
			case "{":
				// Struct literal: TypeName { member: expr, ... }.
				_, _ = ps.next()
				return ps.parseObjectLiteral(base, t.text)
			}
		}
		return &wdl.ExprIdent{ExprBase: base, Name: t.text}, nil

	case tokPunct:
		switch t.text {
		case "(":
			first, err := ps.parseExpr()
			if err != nil {
				return nil, err
			}
			if ok, err := ps.acceptPunct(","); err != nil {
				return nil, err
			} else if ok {
				right, err := ps.parseExpr()
				if err != nil {
					return nil, err
				}
				if _, err := ps.expectPunct(")"); err != nil {
					return nil, err
				}
				return &wdl.ExprPair{ExprBase: base, Left: first, Right: right}, nil
			}
			if _, err := ps.expectPunct(")"); err != nil {
				return nil, err
			}
			return first, nil

		case "[":
			var items []wdl.Expr
			for {
				if ok, err := ps.acceptPunct("]"); err != nil {
					return nil, err
				} else if ok {
					return &wdl.ExprArray{ExprBase: base, Items: items}, nil
				}
				item, err := ps.parseExpr()
				if err != nil {
					return nil, err
				}
				items = append(items, item)
				if _, err := ps.acceptPunct(","); err != nil {
					return nil, err
				}
			}

		case "{":
			var entries []wdl.ExprMapEntry
			for {
				if ok, err := ps.acceptPunct("}"); err != nil {
					return nil, err
				} else if ok {
					return &wdl.ExprMap{ExprBase: base, Entries: entries}, nil
				}
				key, err := ps.parseExpr()
				if err != nil {
					return nil, err
				}
				if _, err := ps.expectPunct(":"); err != nil {
					return nil, err
				}
				val, err := ps.parseExpr()
				if err != nil {
					return nil, err
				}
				entries = append(entries, wdl.ExprMapEntry{Key: key, Value: val})
				if _, err := ps.acceptPunct(","); err != nil {
					return nil, err
				}
			}
		}
	}
	return nil, ps.errf(t.pos, "expected expression, got %q", t.text)
}

func (ps *parse) parseArgs() ([]wdl.Expr, error) {
	var args []wdl.Expr
	for {
		if ok, err := ps.acceptPunct(")"); err != nil {
			return nil, err
		} else if ok {
			return args, nil
		}
		arg, err := ps.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if _, err := ps.acceptPunct(","); err != nil {
			return nil, err
		}
	}
}

// parseObjectLiteral parses the members of a struct/object literal;
// the opening brace is already consumed.
func (ps *parse) parseObjectLiteral(base wdl.ExprBase, typeName string) (wdl.Expr, error) {
	var members []wdl.ExprObjectField
	for {
		if ok, err := ps.acceptPunct("}"); err != nil {
			return nil, err
		} else if ok {
			return &wdl.ExprObject{ExprBase: base, TypeName: typeName, Members: members}, nil
		}
		name, err := ps.expectIdent()
		if err != nil {
			return nil, err
		}
		if _, err := ps.expectPunct(":"); err != nil {
			return nil, err
		}
		val, err := ps.parseExpr()
		if err != nil {
			return nil, err
		}
		members = append(members, wdl.ExprObjectField{Name: name.text, Value: val})
		if _, err := ps.acceptPunct(","); err != nil {
			return nil, err
		}
	}
}

// parseInterpolatedString parses a quoted string whose parts may
// include placeholders.
func (ps *parse) parseInterpolatedString(start token) (wdl.Expr, error) {
	var parts []wdl.StringPart
	for {
		part, err := ps.lex.scanStringPart(start.quote)
		if err != nil {
			return nil, err
		}
		switch part.kind {
		case partLiteral:
			parts = append(parts, wdl.StringPart{Literal: part.text})
		case partPlaceholder:
			ph, err := ps.parsePlaceholder(part.pos)
			if err != nil {
				return nil, err
			}
			parts = append(parts, wdl.StringPart{Placeholder: ph})
		case partEnd:
			return &wdl.ExprString{ExprBase: wdl.ExprBase{Pos: start.pos}, Parts: parts}, nil
		}
	}
}
