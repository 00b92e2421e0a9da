package syntax

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/me/gowdl/pkg/wdl"
)

// SupportedVersions lists the WDL version statements the parser
// accepts.
var SupportedVersions = []string{"draft-2", "1.0", "1.1", "development"}

// Parser converts WDL source text into the typed AST of pkg/wdl.
type Parser struct {
	logger *slog.Logger
}

// New creates a Parser with the given logger.
func New(logger *slog.Logger) *Parser {
	return &Parser{logger: logger.With("component", "parser")}
}

// ParseDocument parses one WDL source file. The returned document has
// imports unresolved and expressions unchecked; internal/check
// finishes the frontend.
func (p *Parser) ParseDocument(uri string, source []byte) (*wdl.Document, error) {
	ps := &parse{lex: newLexer(uri, string(source))}

	version, explicit, err := ps.parseVersion()
	if err != nil {
		return nil, err
	}
	if !explicit {
		p.logger.Warn("missing version statement, defaulting to draft-2", "uri", uri)
	}
	supported := false
	for _, v := range SupportedVersions {
		if v == version {
			supported = true
			break
		}
	}
	if !supported {
		return nil, wdl.Errorf(wdl.KindSyntaxError, ps.lex.pos(), "unsupported WDL version %q", version)
	}
	ps.version = version

	doc := &wdl.Document{
		URI:     uri,
		Version: version,
		Source:  string(source),
		Pos:     wdl.Pos{URI: uri, Line: 1, Column: 1},
	}

	for {
		t, err := ps.next()
		if err != nil {
			return nil, err
		}
		if t.kind == tokEOF {
			break
		}
		if t.kind != tokIdent {
			return nil, ps.errf(t.pos, "expected import, struct, task, or workflow; got %q", t.text)
		}
		switch t.text {
		case "import":
			imp, err := ps.parseImport(t.pos)
			if err != nil {
				return nil, err
			}
			doc.Imports = append(doc.Imports, imp)
		case "struct":
			st, err := ps.parseStruct(t.pos)
			if err != nil {
				return nil, err
			}
			doc.Structs = append(doc.Structs, st)
		case "task":
			task, err := ps.parseTask(t.pos)
			if err != nil {
				return nil, err
			}
			doc.Tasks = append(doc.Tasks, task)
		case "workflow":
			if doc.Workflow != nil {
				return nil, ps.errf(t.pos, "document contains more than one workflow")
			}
			wf, err := ps.parseWorkflow(t.pos)
			if err != nil {
				return nil, err
			}
			doc.Workflow = wf
		default:
			return nil, ps.errf(t.pos, "expected import, struct, task, or workflow; got %q", t.text)
		}
	}
	return doc, nil
}

// parse holds the recursive-descent state for one document.
type parse struct {
	lex     *lexer
	version string
}

func (ps *parse) errf(pos wdl.Pos, format string, args ...any) error {
	return wdl.Errorf(wdl.KindSyntaxError, pos, format, args...)
}

func (ps *parse) next() (token, error) { return ps.lex.next() }

func (ps *parse) peek() (token, error) {
	t, err := ps.lex.next()
	if err != nil {
		return t, err
	}
	ps.lex.push(t)
	return t, nil
}

func (ps *parse) expectPunct(text string) (token, error) {
	t, err := ps.next()
	if err != nil {
		return t, err
	}
	if t.kind != tokPunct || t.text != text {
		return t, ps.errf(t.pos, "expected %q, got %q", text, t.text)
	}
	return t, nil
}

func (ps *parse) expectIdent() (token, error) {
	t, err := ps.next()
	if err != nil {
		return t, err
	}
	if t.kind != tokIdent {
		return t, ps.errf(t.pos, "expected identifier, got %q", t.text)
	}
	return t, nil
}

func (ps *parse) expectKeyword(kw string) (token, error) {
	t, err := ps.expectIdent()
	if err != nil {
		return t, err
	}
	if t.text != kw {
		return t, ps.errf(t.pos, "expected %q, got %q", kw, t.text)
	}
	return t, nil
}

// acceptPunct consumes the token when it matches.
func (ps *parse) acceptPunct(text string) (bool, error) {
	t, err := ps.peek()
	if err != nil {
		return false, err
	}
	if t.kind == tokPunct && t.text == text {
		_, _ = ps.next()
		return true, nil
	}
	return false, nil
}

func (ps *parse) acceptIdent(kw string) (bool, error) {
	t, err := ps.peek()
	if err != nil {
		return false, err
	}
	if t.kind == tokIdent && t.text == kw {
		_, _ = ps.next()
		return true, nil
	}
	return false, nil
}

// parseVersion reads the version statement, tolerating leading
// comments. Returns the version and whether it was explicit.
func (ps *parse) parseVersion() (string, bool, error) {
	t, err := ps.peek()
	if err != nil {
		return "", false, err
	}
	if t.kind != tokIdent || t.text != "version" {
		return "draft-2", false, nil
	}
	_, _ = ps.next()
	// The version word may lex as float (1.0), ident, or
	// ident-minus-int (draft-2); read raw to end of word.
	word, err := ps.readVersionWord()
	if err != nil {
		return "", false, err
	}
	return word, true, nil
}

func (ps *parse) readVersionWord() (string, error) {
	l := ps.lex
	for l.peekRune() == ' ' || l.peekRune() == '\t' {
		l.nextRune()
	}
	pos := l.pos()
	var b strings.Builder
	for {
		r := l.peekRune()
		if r == 0 || r == ' ' || r == '\t' || r == '\r' || r == '\n' || r == '#' {
			break
		}
		b.WriteRune(l.nextRune())
	}
	if b.Len() == 0 {
		return "", ps.errf(pos, "version statement requires a version")
	}
	return b.String(), nil
}

func (ps *parse) parseImport(pos wdl.Pos) (*wdl.Import, error) {
	t, err := ps.next()
	if err != nil {
		return nil, err
	}
	if t.kind != tokString {
		return nil, ps.errf(t.pos, "import requires a quoted URI")
	}
	uri, err := ps.parsePlainString(t)
	if err != nil {
		return nil, err
	}
	imp := &wdl.Import{Pos: pos, URI: uri}
	if ok, err := ps.acceptIdent("as"); err != nil {
		return nil, err
	} else if ok {
		name, err := ps.expectIdent()
		if err != nil {
			return nil, err
		}
		imp.Namespace = name.text
	}
	if imp.Namespace == "" {
		base := uri
		if i := strings.LastIndexByte(base, '/'); i >= 0 {
			base = base[i+1:]
		}
		imp.Namespace = strings.TrimSuffix(base, ".wdl")
	}
	for {
		ok, err := ps.acceptIdent("alias")
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		src, err := ps.expectIdent()
		if err != nil {
			return nil, err
		}
		if _, err := ps.expectKeyword("as"); err != nil {
			return nil, err
		}
		dst, err := ps.expectIdent()
		if err != nil {
			return nil, err
		}
		imp.Aliases = append(imp.Aliases, [2]string{src.text, dst.text})
	}
	return imp, nil
}

// parsePlainString parses a string literal that may not contain
// placeholders (import URIs, placeholder option values).
func (ps *parse) parsePlainString(start token) (string, error) {
	var b strings.Builder
	for {
		part, err := ps.lex.scanStringPart(start.quote)
		if err != nil {
			return "", err
		}
		switch part.kind {
		case partLiteral:
			b.WriteString(part.text)
		case partPlaceholder:
			return "", ps.errf(part.pos, "placeholder not allowed in this string")
		case partEnd:
			return b.String(), nil
		}
	}
}

func (ps *parse) parseStruct(pos wdl.Pos) (*wdl.StructTypeDef, error) {
	name, err := ps.expectIdent()
	if err != nil {
		return nil, err
	}
	if _, err := ps.expectPunct("{"); err != nil {
		return nil, err
	}
	st := &wdl.StructTypeDef{Pos: pos, Name: name.text}
	for {
		if ok, err := ps.acceptPunct("}"); err != nil {
			return nil, err
		} else if ok {
			return st, nil
		}
		ty, err := ps.parseType()
		if err != nil {
			return nil, err
		}
		mname, err := ps.expectIdent()
		if err != nil {
			return nil, err
		}
		st.Members = append(st.Members, wdl.StructMember{Name: mname.text, Type: ty})
	}
}

// parseType parses a type expression with its quantifiers.
func (ps *parse) parseType() (wdl.Type, error) {
	t, err := ps.expectIdent()
	if err != nil {
		return nil, err
	}
	var ty wdl.Type
	switch t.text {
	case "Boolean":
		ty = wdl.Boolean{}
	case "Int":
		ty = wdl.Int{}
	case "Float":
		ty = wdl.Float{}
	case "String":
		ty = wdl.StringType{}
	case "File":
		ty = wdl.File{}
	case "Directory":
		ty = wdl.Directory{}
	case "Object":
		ty = wdl.Object{}
	case "Array":
		if _, err := ps.expectPunct("["); err != nil {
			return nil, err
		}
		item, err := ps.parseType()
		if err != nil {
			return nil, err
		}
		if _, err := ps.expectPunct("]"); err != nil {
			return nil, err
		}
		arr := wdl.Array{Item: item}
		if ok, err := ps.acceptPunct("+"); err != nil {
			return nil, err
		} else if ok {
			arr.Nonempty = true
		}
		ty = arr
	case "Map":
		if _, err := ps.expectPunct("["); err != nil {
			return nil, err
		}
		key, err := ps.parseType()
		if err != nil {
			return nil, err
		}
		if _, err := ps.expectPunct(","); err != nil {
			return nil, err
		}
		val, err := ps.parseType()
		if err != nil {
			return nil, err
		}
		if _, err := ps.expectPunct("]"); err != nil {
			return nil, err
		}
		ty = wdl.Map{Key: key, Value: val}
	case "Pair":
		if _, err := ps.expectPunct("["); err != nil {
			return nil, err
		}
		left, err := ps.parseType()
		if err != nil {
			return nil, err
		}
		if _, err := ps.expectPunct(","); err != nil {
			return nil, err
		}
		right, err := ps.parseType()
		if err != nil {
			return nil, err
		}
		if _, err := ps.expectPunct("]"); err != nil {
			return nil, err
		}
		ty = wdl.Pair{Left: left, Right: right}
	default:
		// Struct type by name, resolved by the typechecker.
		ty = wdl.StructInstance{Name: t.text}
	}
	if ok, err := ps.acceptPunct("?"); err != nil {
		return nil, err
	} else if ok {
		ty = ty.WithOptional(true)
	}
	return ty, nil
}

// parseDecl parses "type name (= expr)?"; the leading type token is
// already known to be a type when called.
func (ps *parse) parseDecl() (*wdl.Decl, error) {
	start, err := ps.peek()
	if err != nil {
		return nil, err
	}
	env := false
	if start.kind == tokIdent && start.text == "env" {
		_, _ = ps.next()
		env = true
		start, err = ps.peek()
		if err != nil {
			return nil, err
		}
	}
	ty, err := ps.parseType()
	if err != nil {
		return nil, err
	}
	name, err := ps.expectIdent()
	if err != nil {
		return nil, err
	}
	decl := &wdl.Decl{Pos: start.pos, Type: ty, Name: name.text, Env: env}
	if ok, err := ps.acceptPunct("="); err != nil {
		return nil, err
	} else if ok {
		expr, err := ps.parseExpr()
		if err != nil {
			return nil, err
		}
		decl.Expr = expr
	}
	return decl, nil
}

// declStarts reports whether the token could begin a declaration in
// the current context (a type name, or the env modifier).
func declStarts(t token) bool {
	if t.kind != tokIdent {
		return false
	}
	switch t.text {
	case "call", "scatter", "if", "input", "output", "command", "runtime",
		"meta", "parameter_meta", "hints", "version", "import", "task", "workflow", "struct":
		return false
	}
	return true
}

func (ps *parse) parseDeclBlock() ([]*wdl.Decl, error) {
	if _, err := ps.expectPunct("{"); err != nil {
		return nil, err
	}
	var decls []*wdl.Decl
	for {
		if ok, err := ps.acceptPunct("}"); err != nil {
			return nil, err
		} else if ok {
			return decls, nil
		}
		d, err := ps.parseDecl()
		if err != nil {
			return nil, err
		}
		decls = append(decls, d)
	}
}

func (ps *parse) parseTask(pos wdl.Pos) (*wdl.Task, error) {
	name, err := ps.expectIdent()
	if err != nil {
		return nil, err
	}
	if _, err := ps.expectPunct("{"); err != nil {
		return nil, err
	}
	task := &wdl.Task{Pos: pos, Name: name.text}
	sawInputSection := false
	for {
		t, err := ps.peek()
		if err != nil {
			return nil, err
		}
		if t.kind == tokPunct && t.text == "}" {
			_, _ = ps.next()
			if task.Command == nil {
				return nil, ps.errf(pos, "task %s has no command", task.Name)
			}
			return task, nil
		}
		if t.kind != tokIdent {
			return nil, ps.errf(t.pos, "unexpected %q in task body", t.text)
		}
		switch t.text {
		case "input":
			_, _ = ps.next()
			sawInputSection = true
			decls, err := ps.parseDeclBlock()
			if err != nil {
				return nil, err
			}
			task.Inputs = append(task.Inputs, decls...)
		case "command":
			_, _ = ps.next()
			cmd, err := ps.parseCommand(t.pos)
			if err != nil {
				return nil, err
			}
			task.Command = cmd
		case "output":
			_, _ = ps.next()
			decls, err := ps.parseDeclBlock()
			if err != nil {
				return nil, err
			}
			task.Outputs = append(task.Outputs, decls...)
		case "runtime":
			_, _ = ps.next()
			entries, err := ps.parseRuntimeBlock()
			if err != nil {
				return nil, err
			}
			task.Runtime = append(task.Runtime, entries...)
		case "meta":
			_, _ = ps.next()
			m, err := ps.parseMetaBlock()
			if err != nil {
				return nil, err
			}
			task.Meta = m
		case "parameter_meta":
			_, _ = ps.next()
			m, err := ps.parseMetaBlock()
			if err != nil {
				return nil, err
			}
			task.ParamMeta = m
		case "hints":
			_, _ = ps.next()
			m, err := ps.parseMetaBlock()
			if err != nil {
				return nil, err
			}
			task.Hints = m
		default:
			if !declStarts(t) {
				return nil, ps.errf(t.pos, "unexpected %q in task body", t.text)
			}
			d, err := ps.parseDecl()
			if err != nil {
				return nil, err
			}
			// In draft-2, bare declarations before the command are the
			// task's inputs; elsewhere they are post-input
			// declarations.
			if ps.version == "draft-2" && !sawInputSection && task.Command == nil {
				task.Inputs = append(task.Inputs, d)
			} else {
				task.PostInputs = append(task.PostInputs, d)
			}
		}
	}
}

func (ps *parse) parseRuntimeBlock() ([]wdl.RuntimeEntry, error) {
	if _, err := ps.expectPunct("{"); err != nil {
		return nil, err
	}
	var entries []wdl.RuntimeEntry
	for {
		if ok, err := ps.acceptPunct("}"); err != nil {
			return nil, err
		} else if ok {
			return entries, nil
		}
		key, err := ps.expectIdent()
		if err != nil {
			return nil, err
		}
		if _, err := ps.expectPunct(":"); err != nil {
			return nil, err
		}
		expr, err := ps.parseExpr()
		if err != nil {
			return nil, err
		}
		entries = append(entries, wdl.RuntimeEntry{Key: key.text, Expr: expr})
	}
}

// parseMetaBlock parses meta/parameter_meta/hints into plain Go
// values; the contents are JSON-like literals, not expressions.
func (ps *parse) parseMetaBlock() (map[string]any, error) {
	if _, err := ps.expectPunct("{"); err != nil {
		return nil, err
	}
	out := make(map[string]any)
	for {
		if ok, err := ps.acceptPunct("}"); err != nil {
			return nil, err
		} else if ok {
			return out, nil
		}
		key, err := ps.expectIdent()
		if err != nil {
			return nil, err
		}
		if _, err := ps.expectPunct(":"); err != nil {
			return nil, err
		}
		v, err := ps.parseMetaValue()
		if err != nil {
			return nil, err
		}
		out[key.text] = v
		// Entries may be comma-separated.
		if _, err := ps.acceptPunct(","); err != nil {
			return nil, err
		}
	}
}

func (ps *parse) parseMetaValue() (any, error) {
	t, err := ps.next()
	if err != nil {
		return nil, err
	}
	switch t.kind {
	case tokString:
		return ps.parsePlainString(t)
	case tokInt:
		return strconv.ParseInt(t.text, 10, 64)
	case tokFloat:
		return strconv.ParseFloat(t.text, 64)
	case tokIdent:
		switch t.text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null":
			return nil, nil
		}
		return nil, ps.errf(t.pos, "invalid meta value %q", t.text)
	case tokPunct:
		switch t.text {
		case "-":
			v, err := ps.parseMetaValue()
			if err != nil {
				return nil, err
			}
			switch n := v.(type) {
			case int64:
				return -n, nil
			case float64:
				return -n, nil
			}
			return nil, ps.errf(t.pos, "invalid negated meta value")
		case "[":
			var items []any
			for {
				if ok, err := ps.acceptPunct("]"); err != nil {
					return nil, err
				} else if ok {
					return items, nil
				}
				v, err := ps.parseMetaValue()
				if err != nil {
					return nil, err
				}
				items = append(items, v)
				if _, err := ps.acceptPunct(","); err != nil {
					return nil, err
				}
			}
		case "{":
			obj := make(map[string]any)
			for {
				if ok, err := ps.acceptPunct("}"); err != nil {
					return nil, err
				} else if ok {
					return obj, nil
				}
				key, err := ps.expectIdent()
				if err != nil {
					return nil, err
				}
				if _, err := ps.expectPunct(":"); err != nil {
					return nil, err
				}
				v, err := ps.parseMetaValue()
				if err != nil {
					return nil, err
				}
				obj[key.text] = v
				if _, err := ps.acceptPunct(","); err != nil {
					return nil, err
				}
			}
		}
	}
	return nil, ps.errf(t.pos, "invalid meta value")
}

// parseCommand parses a command block in either brace or heredoc form
// into an ExprString template, applying common-indent stripping to the
// literal text.
func (ps *parse) parseCommand(pos wdl.Pos) (*wdl.ExprString, error) {
	t, err := ps.next()
	if err != nil {
		return nil, err
	}
	heredoc := false
	switch {
	case t.kind == tokPunct && t.text == "<<<":
		heredoc = true
	case t.kind == tokPunct && t.text == "{":
	default:
		return nil, ps.errf(t.pos, "expected { or <<< after command")
	}

	var parts []wdl.StringPart
	depth := 0
	for {
		part, err := ps.lex.scanCommandPart(heredoc, &depth)
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
			return &wdl.ExprString{
				ExprBase: wdl.ExprBase{Pos: pos},
				Parts:    stripTemplateIndent(parts),
			}, nil
		}
	}
}

// parsePlaceholder parses placeholder options and the expression,
// consuming the closing brace.
func (ps *parse) parsePlaceholder(pos wdl.Pos) (*wdl.Placeholder, error) {
	ph := &wdl.Placeholder{Pos: pos}
	for {
		t, err := ps.peek()
		if err != nil {
			return nil, err
		}
		if t.kind != tokIdent {
			break
		}
		switch t.text {
		case "sep", "default", "true", "false":
		default:
			goto expr
		}
		// Lookahead for '=': otherwise the ident is the expression.
		_, _ = ps.next()
		eq, err := ps.next()
		if err != nil {
			return nil, err
		}
		if eq.kind == tokPunct && eq.text == "=" {
			vt, err := ps.next()
			if err != nil {
				return nil, err
			}
			if vt.kind != tokString {
				return nil, ps.errf(vt.pos, "placeholder option %s requires a string", t.text)
			}
			val, err := ps.parsePlainString(vt)
			if err != nil {
				return nil, err
			}
			ph.Options = append(ph.Options, wdl.PlaceholderOption{Name: t.text, Value: val})
			continue
		}
		ps.lex.push(eq)
		ps.lex.push(t)
		break
	}
expr:
	expr, err := ps.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := ps.expectPunct("}"); err != nil {
		return nil, err
	}
	ph.Expr = expr
	return ph, nil
}

// stripTemplateIndent applies multi-line un-indent normalization to
// the literal parts of a command or triple-quoted template. The
// common prefix is computed over non-empty lines that begin in
// literal text; lines opening with a placeholder keep their text.
func stripTemplateIndent(parts []wdl.StringPart) []wdl.StringPart {
	// Collect line starts from literal parts.
	prefix := ""
	first := true
	atLineStart := true
	for _, p := range parts {
		if p.Placeholder != nil {
			atLineStart = false
			continue
		}
		lines := strings.Split(p.Literal, "\n")
		for i, line := range lines {
			starts := atLineStart || i > 0
			if !starts || strings.TrimSpace(line) == "" {
				continue
			}
			indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
			if first {
				prefix = indent
				first = false
			} else {
				prefix = commonPrefix(prefix, indent)
			}
		}
		atLineStart = strings.HasSuffix(p.Literal, "\n")
	}

	out := make([]wdl.StringPart, 0, len(parts))
	atLineStart = true
	for i, p := range parts {
		if p.Placeholder != nil {
			out = append(out, p)
			atLineStart = false
			continue
		}
		text := p.Literal
		if i == 0 {
			text = strings.TrimPrefix(text, "\n")
			if strings.HasPrefix(text, "\r\n") {
				text = text[2:]
			}
		}
		if prefix != "" {
			lines := strings.Split(text, "\n")
			for j := range lines {
				if j > 0 || atLineStart {
					lines[j] = strings.TrimPrefix(lines[j], prefix)
				}
			}
			text = strings.Join(lines, "\n")
		}
		if i == len(parts)-1 {
			text = strings.TrimRight(text, " \t")
		}
		out = append(out, wdl.StringPart{Literal: text})
		atLineStart = strings.HasSuffix(p.Literal, "\n")
	}
	return out
}

func (ps *parse) parseWorkflow(pos wdl.Pos) (*wdl.Workflow, error) {
	name, err := ps.expectIdent()
	if err != nil {
		return nil, err
	}
	if _, err := ps.expectPunct("{"); err != nil {
		return nil, err
	}
	wf := &wdl.Workflow{Pos: pos, Name: name.text}
	for {
		t, err := ps.peek()
		if err != nil {
			return nil, err
		}
		if t.kind == tokPunct && t.text == "}" {
			_, _ = ps.next()
			return wf, nil
		}
		if t.kind != tokIdent {
			return nil, ps.errf(t.pos, "unexpected %q in workflow body", t.text)
		}
		switch t.text {
		case "input":
			_, _ = ps.next()
			decls, err := ps.parseDeclBlock()
			if err != nil {
				return nil, err
			}
			wf.Inputs = append(wf.Inputs, decls...)
		case "output":
			_, _ = ps.next()
			decls, err := ps.parseDeclBlock()
			if err != nil {
				return nil, err
			}
			wf.Outputs = append(wf.Outputs, decls...)
			wf.HasOutput = true
		case "meta":
			_, _ = ps.next()
			m, err := ps.parseMetaBlock()
			if err != nil {
				return nil, err
			}
			wf.Meta = m
		case "parameter_meta":
			_, _ = ps.next()
			m, err := ps.parseMetaBlock()
			if err != nil {
				return nil, err
			}
			wf.ParamMeta = m
		default:
			node, err := ps.parseWorkflowNode()
			if err != nil {
				return nil, err
			}
			wf.Body = append(wf.Body, node)
		}
	}
}

func (ps *parse) parseWorkflowNode() (wdl.WorkflowNode, error) {
	t, err := ps.peek()
	if err != nil {
		return nil, err
	}
	if t.kind != tokIdent {
		return nil, ps.errf(t.pos, "unexpected %q in workflow body", t.text)
	}
	switch t.text {
	case "call":
		_, _ = ps.next()
		return ps.parseCall(t.pos)
	case "scatter":
		_, _ = ps.next()
		return ps.parseScatter(t.pos)
	case "if":
		_, _ = ps.next()
		return ps.parseConditional(t.pos)
	default:
		if !declStarts(t) {
			return nil, ps.errf(t.pos, "unexpected %q in workflow body", t.text)
		}
		return ps.parseDecl()
	}
}

func (ps *parse) parseCall(pos wdl.Pos) (*wdl.Call, error) {
	first, err := ps.expectIdent()
	if err != nil {
		return nil, err
	}
	callee := first.text
	for {
		if ok, err := ps.acceptPunct("."); err != nil {
			return nil, err
		} else if !ok {
			break
		}
		part, err := ps.expectIdent()
		if err != nil {
			return nil, err
		}
		callee += "." + part.text
	}
	call := &wdl.Call{Pos: pos, Callee: callee}
	if ok, err := ps.acceptIdent("as"); err != nil {
		return nil, err
	} else if ok {
		alias, err := ps.expectIdent()
		if err != nil {
			return nil, err
		}
		call.Alias = alias.text
	}
	for {
		ok, err := ps.acceptIdent("after")
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		dep, err := ps.expectIdent()
		if err != nil {
			return nil, err
		}
		call.Afters = append(call.Afters, dep.text)
	}
	if ok, err := ps.acceptPunct("{"); err != nil {
		return nil, err
	} else if !ok {
		return call, nil
	}
	// Optional "input:" prelude (required before WDL 1.2).
	if ok, err := ps.acceptIdent("input"); err != nil {
		return nil, err
	} else if ok {
		if _, err := ps.expectPunct(":"); err != nil {
			return nil, err
		}
	}
	for {
		if ok, err := ps.acceptPunct("}"); err != nil {
			return nil, err
		} else if ok {
			return call, nil
		}
		name, err := ps.expectIdent()
		if err != nil {
			return nil, err
		}
		var expr wdl.Expr
		if ok, err := ps.acceptPunct("="); err != nil {
			return nil, err
		} else if ok {
			expr, err = ps.parseExpr()
			if err != nil {
				return nil, err
			}
		} else {
			// Shorthand: bind the input to the like-named value.
			expr = &wdl.ExprIdent{ExprBase: wdl.ExprBase{Pos: name.pos}, Name: name.text}
		}
		call.Inputs = append(call.Inputs, wdl.CallInput{Name: name.text, Expr: expr})
		if _, err := ps.acceptPunct(","); err != nil {
			return nil, err
		}
	}
}

func (ps *parse) parseScatter(pos wdl.Pos) (*wdl.Scatter, error) {
	if _, err := ps.expectPunct("("); err != nil {
		return nil, err
	}
	name, err := ps.expectIdent()
	if err != nil {
		return nil, err
	}
	if _, err := ps.expectKeyword("in"); err != nil {
		return nil, err
	}
	coll, err := ps.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := ps.expectPunct(")"); err != nil {
		return nil, err
	}
	body, err := ps.parseSectionBody()
	if err != nil {
		return nil, err
	}
	return &wdl.Scatter{Pos: pos, Name: name.text, Collection: coll, Body: body}, nil
}

func (ps *parse) parseConditional(pos wdl.Pos) (*wdl.Conditional, error) {
	if _, err := ps.expectPunct("("); err != nil {
		return nil, err
	}
	pred, err := ps.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := ps.expectPunct(")"); err != nil {
		return nil, err
	}
	body, err := ps.parseSectionBody()
	if err != nil {
		return nil, err
	}
	return &wdl.Conditional{Pos: pos, Predicate: pred, Body: body}, nil
}

func (ps *parse) parseSectionBody() ([]wdl.WorkflowNode, error) {
	if _, err := ps.expectPunct("{"); err != nil {
		return nil, err
	}
	var body []wdl.WorkflowNode
	for {
		if ok, err := ps.acceptPunct("}"); err != nil {
			return nil, err
		} else if ok {
			return body, nil
		}
		node, err := ps.parseWorkflowNode()
		if err != nil {
			return nil, err
		}
		body = append(body, node)
	}
}
