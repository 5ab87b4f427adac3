// Package evaluator implements C10: a restricted evaluator for small,
// trusted text-processing scripts run against a caller-supplied context
// string (§4.10). The host project and its evaluated scripts are both
// Go, and no third-party sandboxed-script engine appears anywhere in the
// example pack (see DESIGN.md), so the evaluator is a small
// tree-walking interpreter over a restricted subset of Go statements and
// expressions, built on the standard library's go/parser and go/ast —
// never a real compiler, never a security boundary against a determined
// adversary (§9: "a thin guardrail, not a sandbox").
package evaluator

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"sort"
	"strconv"
	"strings"
)

// Result is Execute's return shape (§4.10, §6.3 sandbox command).
type Result struct {
	Success bool
	Output  string
	Error   string
}

// denyTokens is the static deny-list scanned over raw source text before
// any parsing happens (§4.10, §7 kind 6).
var denyTokens = []string{
	"import ", "exec(", "eval(", "compile(", "__",
	"open(", "file(", "input(", "globals(", "locals(", "vars(",
	"getattr", "setattr", "delattr", "subprocess", "os.", "sys.",
}

// Limits configures the evaluator's resource caps (§4.10).
type Limits struct {
	PrintCap int // default ~50,000 chars
	RangeCap int // default ~100,000
}

// DefaultLimits matches spec.md's literal defaults.
func DefaultLimits() Limits {
	return Limits{PrintCap: 50000, RangeCap: 100000}
}

// Execute runs code against contextText under limits, implementing
// §4.10's whitelist/deny-list/cap contract. It never panics: any
// interpreter-internal failure is converted into a {success: false}
// Result.
func Execute(code, contextText string, limits Limits) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{Success: false, Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	if tok, ok := deniedToken(code); ok {
		return Result{Success: false, Error: fmt.Sprintf("disallowed token in source: %q", tok)}
	}

	fset := token.NewFileSet()
	wrapped := "package __sandbox\nfunc __eval() {\n" + code + "\n}\n"
	file, err := parser.ParseFile(fset, "sandbox.go", wrapped, 0)
	if err != nil {
		return Result{Success: false, Error: "parse error: " + err.Error()}
	}

	var body *ast.BlockStmt
	for _, decl := range file.Decls {
		if fd, ok := decl.(*ast.FuncDecl); ok && fd.Name.Name == "__eval" {
			body = fd.Body
		}
	}
	if body == nil {
		return Result{Success: false, Error: "no evaluable statements found"}
	}

	interp := newInterpreter(limits)
	interp.scope.set("context", contextText)

	flow := interp.execBlock(body, interp.scope)
	if flow.kind == flowError {
		return Result{Success: false, Output: interp.output.String(), Error: flow.err.Error()}
	}
	return Result{Success: true, Output: interp.output.String()}
}

// deniedToken reports the first deny-listed token literally present in
// code, case-sensitive per §4.10 (the listed tokens are Go/Python
// syntax fragments, not prose).
func deniedToken(code string) (string, bool) {
	for _, t := range denyTokens {
		if strings.Contains(code, t) {
			return t, true
		}
	}
	return "", false
}

// --- scope ---

type scope struct {
	vars   map[string]any
	parent *scope
}

func newScope(parent *scope) *scope {
	return &scope{vars: make(map[string]any), parent: parent}
}

func (s *scope) get(name string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func (s *scope) set(name string, v any) {
	s.vars[name] = v
}

// setExisting assigns to the nearest enclosing scope that already
// declares name (Go "=" semantics); falls back to declaring locally if
// never found, which is lenient but never unsafe.
func (s *scope) setExisting(name string, v any) {
	for cur := s; cur != nil; cur = cur.parent {
		if _, ok := cur.vars[name]; ok {
			cur.vars[name] = v
			return
		}
	}
	s.vars[name] = v
}

// --- interpreter ---

type interpreter struct {
	scope  *scope
	output strings.Builder
	limits Limits
}

func newInterpreter(limits Limits) *interpreter {
	return &interpreter{scope: newScope(nil), limits: limits}
}

// control-flow signal propagated out of exec* via a small result struct
// rather than panics, so a script's own error handling never gets
// confused with interpreter plumbing.
type flowKind int

const (
	flowNone flowKind = iota
	flowBreak
	flowContinue
	flowReturn
	flowError
)

type flow struct {
	kind flowKind
	err  error
}

func (it *interpreter) execBlock(b *ast.BlockStmt, sc *scope) flow {
	inner := newScope(sc)
	for _, stmt := range b.List {
		if f := it.execStmt(stmt, inner); f.kind != flowNone {
			return f
		}
	}
	return flow{}
}

func (it *interpreter) execStmt(stmt ast.Stmt, sc *scope) flow {
	switch s := stmt.(type) {
	case *ast.ExprStmt:
		if _, err := it.eval(s.X, sc); err != nil {
			return flow{kind: flowError, err: err}
		}
		return flow{}

	case *ast.AssignStmt:
		return it.execAssign(s, sc)

	case *ast.DeclStmt:
		return it.execDecl(s, sc)

	case *ast.IfStmt:
		return it.execIf(s, sc)

	case *ast.ForStmt:
		return it.execFor(s, sc)

	case *ast.RangeStmt:
		return it.execRange(s, sc)

	case *ast.BlockStmt:
		return it.execBlock(s, sc)

	case *ast.BranchStmt:
		switch s.Tok {
		case token.BREAK:
			return flow{kind: flowBreak}
		case token.CONTINUE:
			return flow{kind: flowContinue}
		}
		return flow{kind: flowError, err: fmt.Errorf("unsupported branch statement")}

	case *ast.ReturnStmt:
		return flow{kind: flowReturn}

	case *ast.IncDecStmt:
		return it.execIncDec(s, sc)

	default:
		return flow{kind: flowError, err: fmt.Errorf("unsupported statement %T", stmt)}
	}
}

func (it *interpreter) execIncDec(s *ast.IncDecStmt, sc *scope) flow {
	ident, ok := s.X.(*ast.Ident)
	if !ok {
		return flow{kind: flowError, err: fmt.Errorf("unsupported inc/dec target")}
	}
	v, ok := sc.get(ident.Name)
	if !ok {
		return flow{kind: flowError, err: fmt.Errorf("undefined: %s", ident.Name)}
	}
	n, ok := asInt(v)
	if !ok {
		return flow{kind: flowError, err: fmt.Errorf("%s is not numeric", ident.Name)}
	}
	if s.Tok == token.INC {
		n++
	} else {
		n--
	}
	sc.setExisting(ident.Name, n)
	return flow{}
}

func (it *interpreter) execDecl(s *ast.DeclStmt, sc *scope) flow {
	gd, ok := s.Decl.(*ast.GenDecl)
	if !ok || gd.Tok != token.VAR {
		return flow{kind: flowError, err: fmt.Errorf("unsupported declaration")}
	}
	for _, spec := range gd.Specs {
		vs, ok := spec.(*ast.ValueSpec)
		if !ok {
			continue
		}
		for i, name := range vs.Names {
			var v any
			if i < len(vs.Values) {
				val, err := it.eval(vs.Values[i], sc)
				if err != nil {
					return flow{kind: flowError, err: err}
				}
				v = val
			}
			sc.set(name.Name, v)
		}
	}
	return flow{}
}

func (it *interpreter) execAssign(s *ast.AssignStmt, sc *scope) flow {
	if len(s.Lhs) != len(s.Rhs) && s.Tok != token.DEFINE {
		return flow{kind: flowError, err: fmt.Errorf("unsupported multi-assign shape")}
	}

	values := make([]any, len(s.Rhs))
	for i, rhs := range s.Rhs {
		if len(s.Lhs) == len(s.Rhs) {
			v, err := it.evalAssignRHS(s.Lhs[i], rhs, s.Tok, sc)
			if err != nil {
				return flow{kind: flowError, err: err}
			}
			values[i] = v
			continue
		}
		v, err := it.eval(rhs, sc)
		if err != nil {
			return flow{kind: flowError, err: err}
		}
		values[i] = v
	}

	for i, lhs := range s.Lhs {
		if err := it.assignTo(lhs, values[i], s.Tok, sc); err != nil {
			return flow{kind: flowError, err: err}
		}
	}
	return flow{}
}

// evalAssignRHS evaluates rhs, applying compound-assignment operators
// (+=, -=, ...) against lhs's current value when tok isn't := or =.
func (it *interpreter) evalAssignRHS(lhs, rhs ast.Expr, tok token.Token, sc *scope) (any, error) {
	rv, err := it.eval(rhs, sc)
	if err != nil {
		return nil, err
	}
	if tok == token.DEFINE || tok == token.ASSIGN {
		return rv, nil
	}
	ident, ok := lhs.(*ast.Ident)
	if !ok {
		return nil, fmt.Errorf("unsupported compound-assign target")
	}
	cur, ok := sc.get(ident.Name)
	if !ok {
		return nil, fmt.Errorf("undefined: %s", ident.Name)
	}
	op := compoundOp(tok)
	return applyBinary(op, cur, rv)
}

func compoundOp(tok token.Token) token.Token {
	switch tok {
	case token.ADD_ASSIGN:
		return token.ADD
	case token.SUB_ASSIGN:
		return token.SUB
	case token.MUL_ASSIGN:
		return token.MUL
	case token.QUO_ASSIGN:
		return token.QUO
	case token.REM_ASSIGN:
		return token.REM
	default:
		return token.ILLEGAL
	}
}

func (it *interpreter) assignTo(lhs ast.Expr, v any, tok token.Token, sc *scope) error {
	switch l := lhs.(type) {
	case *ast.Ident:
		if l.Name == "_" {
			return nil
		}
		if tok == token.DEFINE {
			sc.set(l.Name, v)
		} else {
			sc.setExisting(l.Name, v)
		}
		return nil
	case *ast.IndexExpr:
		container, err := it.eval(l.X, sc)
		if err != nil {
			return err
		}
		idx, err := it.eval(l.Index, sc)
		if err != nil {
			return err
		}
		switch c := container.(type) {
		case map[string]any:
			key, ok := idx.(string)
			if !ok {
				return fmt.Errorf("map key must be a string")
			}
			c[key] = v
			return nil
		default:
			return fmt.Errorf("unsupported index-assign target")
		}
	default:
		return fmt.Errorf("unsupported assignment target %T", lhs)
	}
}

func (it *interpreter) execIf(s *ast.IfStmt, sc *scope) flow {
	inner := newScope(sc)
	if s.Init != nil {
		if f := it.execStmt(s.Init, inner); f.kind != flowNone {
			return f
		}
	}
	cond, err := it.eval(s.Cond, inner)
	if err != nil {
		return flow{kind: flowError, err: err}
	}
	b, ok := cond.(bool)
	if !ok {
		return flow{kind: flowError, err: fmt.Errorf("if condition is not boolean")}
	}
	if b {
		return it.execBlock(s.Body, inner)
	}
	if s.Else != nil {
		return it.execStmt(s.Else, inner)
	}
	return flow{}
}

func (it *interpreter) execFor(s *ast.ForStmt, sc *scope) flow {
	inner := newScope(sc)
	if s.Init != nil {
		if f := it.execStmt(s.Init, inner); f.kind != flowNone {
			return f
		}
	}
	iterations := 0
	for {
		iterations++
		if iterations > it.limits.RangeCap {
			return flow{kind: flowError, err: fmt.Errorf("loop exceeded range cap of %d", it.limits.RangeCap)}
		}
		if s.Cond != nil {
			cond, err := it.eval(s.Cond, inner)
			if err != nil {
				return flow{kind: flowError, err: err}
			}
			b, ok := cond.(bool)
			if !ok {
				return flow{kind: flowError, err: fmt.Errorf("for condition is not boolean")}
			}
			if !b {
				return flow{}
			}
		}
		f := it.execBlock(s.Body, inner)
		switch f.kind {
		case flowError, flowReturn:
			return f
		case flowBreak:
			return flow{}
		}
		if s.Post != nil {
			if f := it.execStmt(s.Post, inner); f.kind != flowNone {
				return f
			}
		}
		if s.Cond == nil && s.Post == nil {
			return flow{kind: flowError, err: fmt.Errorf("infinite loop with no condition")}
		}
	}
}

func (it *interpreter) execRange(s *ast.RangeStmt, sc *scope) flow {
	x, err := it.eval(s.X, sc)
	if err != nil {
		return flow{kind: flowError, err: err}
	}

	iterate := func(key, val any) flow {
		inner := newScope(sc)
		if s.Key != nil {
			if ident, ok := s.Key.(*ast.Ident); ok && ident.Name != "_" {
				inner.set(ident.Name, key)
			}
		}
		if s.Value != nil {
			if ident, ok := s.Value.(*ast.Ident); ok && ident.Name != "_" {
				inner.set(ident.Name, val)
			}
		}
		return it.execBlock(s.Body, inner)
	}

	switch c := x.(type) {
	case []any:
		if len(c) > it.limits.RangeCap {
			return flow{kind: flowError, err: fmt.Errorf("range exceeded cap of %d", it.limits.RangeCap)}
		}
		for i, v := range c {
			f := iterate(int64(i), v)
			if f.kind == flowBreak {
				break
			}
			if f.kind == flowError || f.kind == flowReturn {
				return f
			}
		}
	case string:
		runes := []rune(c)
		if len(runes) > it.limits.RangeCap {
			return flow{kind: flowError, err: fmt.Errorf("range exceeded cap of %d", it.limits.RangeCap)}
		}
		for i, r := range runes {
			f := iterate(int64(i), string(r))
			if f.kind == flowBreak {
				break
			}
			if f.kind == flowError || f.kind == flowReturn {
				return f
			}
		}
	case map[string]any:
		keys := make([]string, 0, len(c))
		for k := range c {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			f := iterate(k, c[k])
			if f.kind == flowBreak {
				break
			}
			if f.kind == flowError || f.kind == flowReturn {
				return f
			}
		}
	default:
		return flow{kind: flowError, err: fmt.Errorf("cannot range over %T", x)}
	}
	return flow{}
}

// --- expressions ---

func (it *interpreter) eval(expr ast.Expr, sc *scope) (any, error) {
	switch e := expr.(type) {
	case *ast.BasicLit:
		return evalBasicLit(e)

	case *ast.Ident:
		return it.evalIdent(e, sc)

	case *ast.ParenExpr:
		return it.eval(e.X, sc)

	case *ast.UnaryExpr:
		return it.evalUnary(e, sc)

	case *ast.BinaryExpr:
		return it.evalBinary(e, sc)

	case *ast.CallExpr:
		return it.evalCall(e, sc)

	case *ast.IndexExpr:
		return it.evalIndex(e, sc)

	case *ast.SliceExpr:
		return it.evalSlice(e, sc)

	case *ast.CompositeLit:
		return it.evalComposite(e, sc)

	default:
		return nil, fmt.Errorf("unsupported expression %T", expr)
	}
}

func evalBasicLit(e *ast.BasicLit) (any, error) {
	switch e.Kind {
	case token.INT:
		n, err := strconv.ParseInt(e.Value, 0, 64)
		if err != nil {
			return nil, err
		}
		return n, nil
	case token.FLOAT:
		f, err := strconv.ParseFloat(e.Value, 64)
		if err != nil {
			return nil, err
		}
		return f, nil
	case token.STRING:
		s, err := strconv.Unquote(e.Value)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported literal kind %v", e.Kind)
	}
}

func (it *interpreter) evalIdent(e *ast.Ident, sc *scope) (any, error) {
	switch e.Name {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "nil":
		return nil, nil
	}
	if v, ok := sc.get(e.Name); ok {
		return v, nil
	}
	return nil, fmt.Errorf("undefined: %s", e.Name)
}

func (it *interpreter) evalUnary(e *ast.UnaryExpr, sc *scope) (any, error) {
	v, err := it.eval(e.X, sc)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case token.SUB:
		switch n := v.(type) {
		case int64:
			return -n, nil
		case float64:
			return -n, nil
		}
		return nil, fmt.Errorf("unary - on non-numeric")
	case token.NOT:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("unary ! on non-boolean")
		}
		return !b, nil
	default:
		return nil, fmt.Errorf("unsupported unary operator %v", e.Op)
	}
}

func (it *interpreter) evalBinary(e *ast.BinaryExpr, sc *scope) (any, error) {
	// Short-circuit && and || before evaluating the right side.
	if e.Op == token.LAND || e.Op == token.LOR {
		l, err := it.eval(e.X, sc)
		if err != nil {
			return nil, err
		}
		lb, ok := l.(bool)
		if !ok {
			return nil, fmt.Errorf("logical operator on non-boolean")
		}
		if e.Op == token.LAND && !lb {
			return false, nil
		}
		if e.Op == token.LOR && lb {
			return true, nil
		}
		r, err := it.eval(e.Y, sc)
		if err != nil {
			return nil, err
		}
		rb, ok := r.(bool)
		if !ok {
			return nil, fmt.Errorf("logical operator on non-boolean")
		}
		return rb, nil
	}

	l, err := it.eval(e.X, sc)
	if err != nil {
		return nil, err
	}
	r, err := it.eval(e.Y, sc)
	if err != nil {
		return nil, err
	}
	return applyBinary(e.Op, l, r)
}

func applyBinary(op token.Token, l, r any) (any, error) {
	switch op {
	case token.EQL:
		return fmt.Sprint(l) == fmt.Sprint(r) && sameType(l, r), nil
	case token.NEQ:
		v, err := applyBinary(token.EQL, l, r)
		if err != nil {
			return nil, err
		}
		return !v.(bool), nil
	}

	if ls, ok := l.(string); ok {
		rs, ok := r.(string)
		if !ok {
			return nil, fmt.Errorf("type mismatch in string operation")
		}
		switch op {
		case token.ADD:
			return ls + rs, nil
		case token.LSS:
			return ls < rs, nil
		case token.LEQ:
			return ls <= rs, nil
		case token.GTR:
			return ls > rs, nil
		case token.GEQ:
			return ls >= rs, nil
		default:
			return nil, fmt.Errorf("unsupported string operator %v", op)
		}
	}

	lf, lok := asFloat(l)
	rf, rok := asFloat(r)
	if !lok || !rok {
		return nil, fmt.Errorf("unsupported operand types")
	}
	_, lIsInt := asInt(l)
	_, rIsInt := asInt(r)
	bothInt := lIsInt && rIsInt

	switch op {
	case token.ADD:
		if bothInt {
			li, _ := asInt(l)
			ri, _ := asInt(r)
			return li + ri, nil
		}
		return lf + rf, nil
	case token.SUB:
		if bothInt {
			li, _ := asInt(l)
			ri, _ := asInt(r)
			return li - ri, nil
		}
		return lf - rf, nil
	case token.MUL:
		if bothInt {
			li, _ := asInt(l)
			ri, _ := asInt(r)
			return li * ri, nil
		}
		return lf * rf, nil
	case token.QUO:
		if bothInt {
			li, _ := asInt(l)
			ri, _ := asInt(r)
			if ri == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return li / ri, nil
		}
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	case token.REM:
		li, _ := asInt(l)
		ri, _ := asInt(r)
		if ri == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return li % ri, nil
	case token.LSS:
		return lf < rf, nil
	case token.LEQ:
		return lf <= rf, nil
	case token.GTR:
		return lf > rf, nil
	case token.GEQ:
		return lf >= rf, nil
	default:
		return nil, fmt.Errorf("unsupported operator %v", op)
	}
}

func sameType(a, b any) bool {
	switch a.(type) {
	case int64:
		_, ok := b.(int64)
		return ok
	case float64:
		_, ok := b.(float64)
		return ok
	case string:
		_, ok := b.(string)
		return ok
	case bool:
		_, ok := b.(bool)
		return ok
	}
	return a == nil && b == nil
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func (it *interpreter) evalIndex(e *ast.IndexExpr, sc *scope) (any, error) {
	container, err := it.eval(e.X, sc)
	if err != nil {
		return nil, err
	}
	idx, err := it.eval(e.Index, sc)
	if err != nil {
		return nil, err
	}
	switch c := container.(type) {
	case []any:
		i, ok := asInt(idx)
		if !ok || i < 0 || int(i) >= len(c) {
			return nil, fmt.Errorf("index out of range")
		}
		return c[i], nil
	case string:
		i, ok := asInt(idx)
		if !ok || i < 0 || int(i) >= len(c) {
			return nil, fmt.Errorf("index out of range")
		}
		return string(c[i]), nil
	case map[string]any:
		key, ok := idx.(string)
		if !ok {
			return nil, fmt.Errorf("map key must be a string")
		}
		return c[key], nil
	default:
		return nil, fmt.Errorf("cannot index %T", container)
	}
}

func (it *interpreter) evalSlice(e *ast.SliceExpr, sc *scope) (any, error) {
	container, err := it.eval(e.X, sc)
	if err != nil {
		return nil, err
	}
	low, high := 0, -1
	if e.Low != nil {
		v, err := it.eval(e.Low, sc)
		if err != nil {
			return nil, err
		}
		n, _ := asInt(v)
		low = int(n)
	}
	switch c := container.(type) {
	case []any:
		if high < 0 {
			high = len(c)
		} else {
			v, err := it.eval(e.High, sc)
			if err != nil {
				return nil, err
			}
			n, _ := asInt(v)
			high = int(n)
		}
		if low < 0 || high > len(c) || low > high {
			return nil, fmt.Errorf("slice bounds out of range")
		}
		out := make([]any, high-low)
		copy(out, c[low:high])
		return out, nil
	case string:
		if e.High != nil {
			v, err := it.eval(e.High, sc)
			if err != nil {
				return nil, err
			}
			n, _ := asInt(v)
			high = int(n)
		} else {
			high = len(c)
		}
		if low < 0 || high > len(c) || low > high {
			return nil, fmt.Errorf("slice bounds out of range")
		}
		return c[low:high], nil
	default:
		return nil, fmt.Errorf("cannot slice %T", container)
	}
}

func (it *interpreter) evalComposite(e *ast.CompositeLit, sc *scope) (any, error) {
	// Restricted to untyped-looking []T{...} and map[string]T{...}
	// literals; anything naming an external type is rejected by the
	// whitelist rather than resolved.
	switch t := e.Type.(type) {
	case *ast.ArrayType:
		out := make([]any, 0, len(e.Elts))
		for _, elt := range e.Elts {
			v, err := it.eval(elt, sc)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case *ast.MapType:
		out := make(map[string]any, len(e.Elts))
		for _, elt := range e.Elts {
			kv, ok := elt.(*ast.KeyValueExpr)
			if !ok {
				return nil, fmt.Errorf("unsupported map literal entry")
			}
			k, err := it.eval(kv.Key, sc)
			if err != nil {
				return nil, err
			}
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("map key must be a string literal")
			}
			v, err := it.eval(kv.Value, sc)
			if err != nil {
				return nil, err
			}
			out[key] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported composite literal type")
	}
}
