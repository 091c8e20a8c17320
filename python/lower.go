package python

import (
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/siftlang/sift"
)

// lowerer converts one parsed tree into the program model. Node identities
// are allocated sequentially per unit.
type lowerer struct {
	src    []byte
	module string
	seq    int
}

func (l *lowerer) text(n *sitter.Node) string {
	return n.Content(l.src)
}

func (l *lowerer) info(n *sitter.Node) sift.NodeInfo {
	l.seq++
	return sift.NodeInfo{ID: l.seq, Line: int(n.StartPoint().Row) + 1}
}

func (l *lowerer) lowerModule(root *sitter.Node) *sift.ProgramUnit {
	unit := &sift.ProgramUnit{Module: l.module}
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		switch child.Type() {
		case "function_definition":
			unit.Functions = append(unit.Functions, l.lowerFunction(child, ""))
		case "decorated_definition":
			if def := child.ChildByFieldName("definition"); def != nil {
				switch def.Type() {
				case "function_definition":
					unit.Functions = append(unit.Functions, l.lowerFunction(def, ""))
				case "class_definition":
					unit.Functions = append(unit.Functions, l.lowerClass(def)...)
				}
			}
		case "class_definition":
			unit.Functions = append(unit.Functions, l.lowerClass(child)...)
		case "import_statement", "import_from_statement", "future_import_statement":
			imp := l.lowerImport(child)
			unit.Imports = append(unit.Imports, imp)
			unit.Body = append(unit.Body, imp)
		default:
			unit.Body = append(unit.Body, l.lowerStmt(child)...)
		}
	}
	return unit
}

// lowerClass flattens a class body into its methods.
func (l *lowerer) lowerClass(n *sitter.Node) []*sift.FunctionDef {
	class := l.text(n.ChildByFieldName("name"))
	body := n.ChildByFieldName("body")
	if body == nil {
		return nil
	}
	var fns []*sift.FunctionDef
	for i := 0; i < int(body.NamedChildCount()); i++ {
		child := body.NamedChild(i)
		if child.Type() == "decorated_definition" {
			if def := child.ChildByFieldName("definition"); def != nil {
				child = def
			}
		}
		if child.Type() == "function_definition" {
			fns = append(fns, l.lowerFunction(child, class))
		}
	}
	return fns
}

func (l *lowerer) lowerFunction(n *sitter.Node, class string) *sift.FunctionDef {
	name := l.text(n.ChildByFieldName("name"))
	params := l.lowerParams(n.ChildByFieldName("parameters"))
	body := l.lowerBody(n.ChildByFieldName("body"))
	line := int(n.StartPoint().Row) + 1

	qualified := l.module + "." + name
	if class != "" {
		qualified = l.module + "." + class + "." + name
	}

	scope := sift.NewScope(nil)
	for _, param := range params {
		scope.Declare(param, line)
	}
	declareAssigned(scope, body)

	fn := &sift.FunctionDef{
		Name:          name,
		QualifiedName: qualified,
		Module:        l.module,
		Class:         class,
		Params:        params,
		Body:          body,
		Scope:         scope,
		Line:          line,
		EndLine:       int(n.EndPoint().Row) + 1,
		Complexity:    sift.CyclomaticComplexity(body),
	}
	fn.CFG = sift.BuildCFG(fn)
	return fn
}

func (l *lowerer) lowerParams(n *sitter.Node) []string {
	if n == nil {
		return nil
	}
	var params []string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "identifier":
			params = append(params, l.text(child))
		case "typed_parameter":
			if id := firstNamedOfType(child, "identifier"); id != nil {
				params = append(params, l.text(id))
			}
		case "default_parameter", "typed_default_parameter":
			if id := child.ChildByFieldName("name"); id != nil {
				params = append(params, l.text(id))
			}
		case "list_splat_pattern", "dictionary_splat_pattern":
			if id := firstNamedOfType(child, "identifier"); id != nil {
				params = append(params, l.text(id))
			}
		}
	}
	return params
}

func (l *lowerer) lowerBody(n *sitter.Node) []sift.Stmt {
	if n == nil {
		return nil
	}
	var body []sift.Stmt
	for i := 0; i < int(n.NamedChildCount()); i++ {
		body = append(body, l.lowerStmt(n.NamedChild(i))...)
	}
	return body
}

func (l *lowerer) lowerStmt(n *sitter.Node) []sift.Stmt {
	switch n.Type() {
	case "expression_statement":
		var out []sift.Stmt
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			switch child.Type() {
			case "assignment":
				out = append(out, l.lowerAssign(child)...)
			case "augmented_assignment":
				out = append(out, l.lowerAugAssign(child)...)
			default:
				out = append(out, &sift.ExprStmt{NodeInfo: l.info(child), X: l.lowerExpr(child)})
			}
		}
		return out

	case "return_statement":
		stmt := &sift.ReturnStmt{NodeInfo: l.info(n)}
		if n.NamedChildCount() > 0 {
			stmt.Value = l.lowerExpr(n.NamedChild(0))
		}
		return []sift.Stmt{stmt}

	case "raise_statement":
		stmt := &sift.RaiseStmt{NodeInfo: l.info(n)}
		if n.NamedChildCount() > 0 {
			stmt.X = l.lowerExpr(n.NamedChild(0))
		}
		return []sift.Stmt{stmt}

	case "pass_statement":
		return []sift.Stmt{&sift.PassStmt{NodeInfo: l.info(n)}}
	case "break_statement":
		return []sift.Stmt{&sift.BreakStmt{NodeInfo: l.info(n)}}
	case "continue_statement":
		return []sift.Stmt{&sift.ContinueStmt{NodeInfo: l.info(n)}}

	case "if_statement":
		return []sift.Stmt{l.lowerIf(n)}

	case "while_statement":
		stmt := &sift.WhileStmt{
			NodeInfo: l.info(n),
			Cond:     l.lowerExpr(n.ChildByFieldName("condition")),
			Body:     l.lowerBody(n.ChildByFieldName("body")),
		}
		out := []sift.Stmt{stmt}
		// A loop else runs when the loop exits normally; approximate by
		// running it after the loop.
		if alt := n.ChildByFieldName("alternative"); alt != nil {
			out = append(out, l.lowerBody(alt.ChildByFieldName("body"))...)
		}
		return out

	case "for_statement":
		stmt := &sift.ForStmt{
			NodeInfo: l.info(n),
			Target:   l.loopTarget(n.ChildByFieldName("left")),
			Iter:     l.lowerExpr(n.ChildByFieldName("right")),
			Body:     l.lowerBody(n.ChildByFieldName("body")),
		}
		out := []sift.Stmt{stmt}
		if alt := n.ChildByFieldName("alternative"); alt != nil {
			out = append(out, l.lowerBody(alt.ChildByFieldName("body"))...)
		}
		return out

	case "try_statement":
		stmt := &sift.TryStmt{
			NodeInfo: l.info(n),
			Body:     l.lowerBody(n.ChildByFieldName("body")),
		}
		var finally []sift.Stmt
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			switch child.Type() {
			case "except_clause", "except_group_clause":
				if block := lastNamedOfType(child, "block"); block != nil {
					stmt.Handler = append(stmt.Handler, l.lowerBody(block)...)
				}
			case "finally_clause":
				if block := lastNamedOfType(child, "block"); block != nil {
					finally = l.lowerBody(block)
				}
			case "else_clause":
				if block := child.ChildByFieldName("body"); block != nil {
					stmt.Body = append(stmt.Body, l.lowerBody(block)...)
				}
			}
		}
		return append([]sift.Stmt{stmt}, finally...)

	case "with_statement":
		// Context managers are not modeled; evaluate the items for effect
		// and inline the body.
		var out []sift.Stmt
		if clause := firstNamedOfType(n, "with_clause"); clause != nil {
			for i := 0; i < int(clause.NamedChildCount()); i++ {
				item := clause.NamedChild(i)
				if value := item.ChildByFieldName("value"); value != nil {
					out = append(out, &sift.ExprStmt{NodeInfo: l.info(value), X: l.lowerExpr(value)})
				}
			}
		}
		return append(out, l.lowerBody(n.ChildByFieldName("body"))...)

	case "import_statement", "import_from_statement", "future_import_statement":
		return []sift.Stmt{l.lowerImport(n)}

	case "assert_statement":
		if n.NamedChildCount() == 0 {
			return nil
		}
		cond := n.NamedChild(0)
		return []sift.Stmt{&sift.ExprStmt{NodeInfo: l.info(cond), X: l.lowerExpr(cond)}}

	case "function_definition", "class_definition", "decorated_definition",
		"global_statement", "nonlocal_statement", "delete_statement":
		// Nested definitions and scope declarations are not modeled.
		return nil

	default:
		return []sift.Stmt{&sift.ExprStmt{
			NodeInfo: l.info(n),
			X:        &sift.OpaqueExpr{NodeInfo: l.info(n), Reason: n.Type()},
		}}
	}
}

func (l *lowerer) lowerIf(n *sitter.Node) *sift.IfStmt {
	stmt := &sift.IfStmt{
		NodeInfo: l.info(n),
		Cond:     l.lowerExpr(n.ChildByFieldName("condition")),
		Then:     l.lowerBody(n.ChildByFieldName("consequence")),
	}
	// Elif chains nest in Else; the final else closes the innermost.
	tail := stmt
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "elif_clause":
			next := &sift.IfStmt{
				NodeInfo: l.info(child),
				Cond:     l.lowerExpr(child.ChildByFieldName("condition")),
				Then:     l.lowerBody(child.ChildByFieldName("consequence")),
			}
			tail.Else = []sift.Stmt{next}
			tail = next
		case "else_clause":
			tail.Else = l.lowerBody(child.ChildByFieldName("body"))
		}
	}
	return stmt
}

// lowerAssign splits multi-target and tuple assignments into one statement
// per simple target.
func (l *lowerer) lowerAssign(n *sitter.Node) []sift.Stmt {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	if left == nil || right == nil {
		// Bare annotation (x: int) declares without assigning.
		return nil
	}

	// Chained assignment (a = b = v) nests on the right.
	if right.Type() == "assignment" {
		inner := l.lowerAssign(right)
		var value sift.Node
		if target := right.ChildByFieldName("left"); target != nil && target.Type() == "identifier" {
			value = &sift.NameExpr{NodeInfo: l.info(target), Name: l.text(target)}
		} else {
			value = &sift.OpaqueExpr{NodeInfo: l.info(right), Reason: "chained assignment"}
		}
		return append(inner, l.assignTo(n, left, value)...)
	}

	if left.Type() == "pattern_list" || left.Type() == "tuple_pattern" {
		var out []sift.Stmt
		for i := 0; i < int(left.NamedChildCount()); i++ {
			target := left.NamedChild(i)
			value := &sift.OpaqueExpr{NodeInfo: l.info(right), Reason: "tuple element"}
			out = append(out, l.assignTo(n, target, value)...)
		}
		return out
	}
	return l.assignTo(n, left, l.lowerExpr(right))
}

func (l *lowerer) assignTo(n, target *sitter.Node, value sift.Node) []sift.Stmt {
	return []sift.Stmt{&sift.AssignStmt{
		NodeInfo: l.info(n),
		Target:   l.lowerTarget(target),
		Value:    value,
	}}
}

func (l *lowerer) lowerTarget(n *sitter.Node) sift.Node {
	switch n.Type() {
	case "identifier":
		return &sift.NameExpr{NodeInfo: l.info(n), Name: l.text(n)}
	case "attribute":
		return l.lowerExpr(n)
	case "subscript":
		return l.lowerExpr(n)
	default:
		return &sift.OpaqueExpr{NodeInfo: l.info(n), Reason: n.Type()}
	}
}

var augOps = map[string]sift.BinaryOp{
	"+=": sift.ADD, "-=": sift.SUB, "*=": sift.MUL,
	"/=": sift.DIV, "//=": sift.FLOORDIV, "%=": sift.MOD,
}

func (l *lowerer) lowerAugAssign(n *sitter.Node) []sift.Stmt {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	opNode := n.ChildByFieldName("operator")
	if left == nil || right == nil || opNode == nil {
		return nil
	}
	op, ok := augOps[l.text(opNode)]
	if !ok {
		// Unmodeled operator (**=, |=, ...); the target becomes opaque.
		return l.assignTo(n, left, &sift.OpaqueExpr{NodeInfo: l.info(n), Reason: "augmented " + l.text(opNode)})
	}
	return []sift.Stmt{&sift.AugAssignStmt{
		NodeInfo: l.info(n),
		Target:   l.lowerTarget(left),
		Op:       op,
		Value:    l.lowerExpr(right),
	}}
}

var binOps = map[string]sift.BinaryOp{
	"+": sift.ADD, "-": sift.SUB, "*": sift.MUL,
	"/": sift.DIV, "//": sift.FLOORDIV, "%": sift.MOD,
}

var cmpOps = map[string]sift.BinaryOp{
	"<": sift.LT, "<=": sift.LE, ">": sift.GT, ">=": sift.GE,
	"==": sift.EQ, "!=": sift.NE,
}

func (l *lowerer) lowerExpr(n *sitter.Node) sift.Node {
	if n == nil {
		return &sift.OpaqueExpr{NodeInfo: sift.NodeInfo{}, Reason: "missing"}
	}
	switch n.Type() {
	case "identifier":
		return &sift.NameExpr{NodeInfo: l.info(n), Name: l.text(n)}

	case "integer":
		text := strings.ReplaceAll(l.text(n), "_", "")
		value, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			return &sift.OpaqueExpr{NodeInfo: l.info(n), Reason: "integer literal"}
		}
		return &sift.ConstExpr{NodeInfo: l.info(n), Kind: sift.ConstInt, Int: value}

	case "float":
		text := strings.ReplaceAll(l.text(n), "_", "")
		value, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return &sift.OpaqueExpr{NodeInfo: l.info(n), Reason: "float literal"}
		}
		return &sift.ConstExpr{NodeInfo: l.info(n), Kind: sift.ConstReal, Real: value}

	case "string":
		return l.lowerString(n)

	case "concatenated_string":
		var sb strings.Builder
		for i := 0; i < int(n.NamedChildCount()); i++ {
			part := l.lowerExpr(n.NamedChild(i))
			c, ok := part.(*sift.ConstExpr)
			if !ok || c.Kind != sift.ConstStr {
				return &sift.OpaqueExpr{NodeInfo: l.info(n), Reason: "concatenated string"}
			}
			sb.WriteString(c.Str)
		}
		return &sift.ConstExpr{NodeInfo: l.info(n), Kind: sift.ConstStr, Str: sb.String()}

	case "true":
		return &sift.ConstExpr{NodeInfo: l.info(n), Kind: sift.ConstBool, Bool: true}
	case "false":
		return &sift.ConstExpr{NodeInfo: l.info(n), Kind: sift.ConstBool}
	case "none":
		return &sift.ConstExpr{NodeInfo: l.info(n), Kind: sift.ConstNone}

	case "binary_operator":
		opNode := n.ChildByFieldName("operator")
		op, ok := binOps[l.text(opNode)]
		if !ok {
			return &sift.OpaqueExpr{NodeInfo: l.info(n), Reason: "operator " + l.text(opNode)}
		}
		return &sift.BinExpr{
			NodeInfo: l.info(n),
			Op:       op,
			X:        l.lowerExpr(n.ChildByFieldName("left")),
			Y:        l.lowerExpr(n.ChildByFieldName("right")),
		}

	case "comparison_operator":
		return l.lowerComparison(n)

	case "boolean_operator":
		op := sift.AND
		if l.text(n.ChildByFieldName("operator")) == "or" {
			op = sift.OR
		}
		values := l.flattenBoolOp(n, op)
		return &sift.BoolOpExpr{NodeInfo: l.info(n), Op: op, Values: values}

	case "not_operator":
		return &sift.UnaryNode{
			NodeInfo: l.info(n),
			Op:       sift.UnaryNot,
			X:        l.lowerExpr(n.ChildByFieldName("argument")),
		}

	case "unary_operator":
		arg := n.ChildByFieldName("argument")
		switch l.text(n.ChildByFieldName("operator")) {
		case "-":
			return &sift.UnaryNode{NodeInfo: l.info(n), Op: sift.UnaryNeg, X: l.lowerExpr(arg)}
		case "+":
			return l.lowerExpr(arg)
		default:
			return &sift.OpaqueExpr{NodeInfo: l.info(n), Reason: "unary operator"}
		}

	case "call":
		call := &sift.CallExpr{
			NodeInfo: l.info(n),
			Func:     l.lowerExpr(n.ChildByFieldName("function")),
		}
		if args := n.ChildByFieldName("arguments"); args != nil {
			for i := 0; i < int(args.NamedChildCount()); i++ {
				arg := args.NamedChild(i)
				if arg.Type() == "keyword_argument" {
					arg = arg.ChildByFieldName("value")
				}
				call.Args = append(call.Args, l.lowerExpr(arg))
			}
		}
		return call

	case "attribute":
		return &sift.AttrExpr{
			NodeInfo: l.info(n),
			X:        l.lowerExpr(n.ChildByFieldName("object")),
			Attr:     l.text(n.ChildByFieldName("attribute")),
		}

	case "subscript":
		return &sift.IndexExpr{
			NodeInfo: l.info(n),
			X:        l.lowerExpr(n.ChildByFieldName("value")),
			Index:    l.lowerExpr(n.ChildByFieldName("subscript")),
		}

	case "parenthesized_expression":
		if n.NamedChildCount() > 0 {
			return l.lowerExpr(n.NamedChild(0))
		}
		return &sift.OpaqueExpr{NodeInfo: l.info(n), Reason: "empty parens"}

	case "list", "tuple", "set":
		list := &sift.ListExpr{NodeInfo: l.info(n)}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			list.Elems = append(list.Elems, l.lowerExpr(n.NamedChild(i)))
		}
		return list

	case "await":
		if n.NamedChildCount() > 0 {
			return l.lowerExpr(n.NamedChild(0))
		}
		return &sift.OpaqueExpr{NodeInfo: l.info(n), Reason: "await"}

	default:
		return &sift.OpaqueExpr{NodeInfo: l.info(n), Reason: n.Type()}
	}
}

// lowerString extracts the literal value. Interpolated strings are opaque.
func (l *lowerer) lowerString(n *sitter.Node) sift.Node {
	var sb strings.Builder
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "string_content", "escape_sequence":
			sb.WriteString(l.text(child))
		case "interpolation":
			return &sift.OpaqueExpr{NodeInfo: l.info(n), Reason: "f-string"}
		}
	}
	return &sift.ConstExpr{NodeInfo: l.info(n), Kind: sift.ConstStr, Str: sb.String()}
}

// lowerComparison normalizes a chain (a < b < c) into a conjunction of
// adjacent pairs.
func (l *lowerer) lowerComparison(n *sitter.Node) sift.Node {
	var operands []*sitter.Node
	var ops []sift.BinaryOp
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child.IsNamed() {
			operands = append(operands, child)
			continue
		}
		op, ok := cmpOps[child.Type()]
		if !ok {
			// in, not in, is, is not are not modeled.
			return &sift.OpaqueExpr{NodeInfo: l.info(n), Reason: "comparison " + child.Type()}
		}
		ops = append(ops, op)
	}
	if len(ops) == 0 || len(operands) != len(ops)+1 {
		return &sift.OpaqueExpr{NodeInfo: l.info(n), Reason: "comparison"}
	}

	pairs := make([]sift.Node, len(ops))
	for i, op := range ops {
		pairs[i] = &sift.BinExpr{
			NodeInfo: l.info(n),
			Op:       op,
			X:        l.lowerExpr(operands[i]),
			Y:        l.lowerExpr(operands[i+1]),
		}
	}
	if len(pairs) == 1 {
		return pairs[0]
	}
	return &sift.BoolOpExpr{NodeInfo: l.info(n), Op: sift.AND, Values: pairs}
}

// flattenBoolOp collapses nested chains of the same connective.
func (l *lowerer) flattenBoolOp(n *sitter.Node, op sift.BinaryOp) []sift.Node {
	var values []sift.Node
	for _, field := range []string{"left", "right"} {
		child := n.ChildByFieldName(field)
		if child == nil {
			continue
		}
		if child.Type() == "boolean_operator" {
			childOp := sift.AND
			if l.text(child.ChildByFieldName("operator")) == "or" {
				childOp = sift.OR
			}
			if childOp == op {
				values = append(values, l.flattenBoolOp(child, op)...)
				continue
			}
		}
		values = append(values, l.lowerExpr(child))
	}
	return values
}

func (l *lowerer) lowerImport(n *sitter.Node) *sift.ImportStmt {
	stmt := &sift.ImportStmt{NodeInfo: l.info(n)}
	module := n.ChildByFieldName("module_name")
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if module != nil && child.StartByte() == module.StartByte() {
			continue // "from X import ..." does not bind X
		}
		switch child.Type() {
		case "dotted_name":
			name := l.text(child)
			if n.Type() == "import_statement" {
				// "import a.b" binds a.
				name, _, _ = strings.Cut(name, ".")
			}
			stmt.Names = append(stmt.Names, name)
		case "aliased_import":
			if alias := child.ChildByFieldName("alias"); alias != nil {
				stmt.Names = append(stmt.Names, l.text(alias))
			}
		case "wildcard_import":
			// Binds unknowable names.
		}
	}
	return stmt
}

// loopTarget returns the bound name of a for target, or the first name of a
// destructuring pattern.
func (l *lowerer) loopTarget(n *sitter.Node) string {
	if n == nil {
		return "_"
	}
	if n.Type() == "identifier" {
		return l.text(n)
	}
	if id := firstNamedOfType(n, "identifier"); id != nil {
		return l.text(id)
	}
	return "_"
}

// declareAssigned records every assigned name in the function scope.
func declareAssigned(scope *sift.Scope, body []sift.Stmt) {
	sift.WalkBody(body, func(n sift.Node) bool {
		switch n := n.(type) {
		case *sift.AssignStmt:
			if name, ok := n.Target.(*sift.NameExpr); ok {
				scope.Declare(name.Name, n.Pos())
			}
		case *sift.AugAssignStmt:
			if name, ok := n.Target.(*sift.NameExpr); ok {
				scope.Declare(name.Name, n.Pos())
			}
		case *sift.ForStmt:
			if n.Target != "" && n.Target != "_" {
				scope.Declare(n.Target, n.Pos())
			}
		}
		return true
	})
}

func firstNamedOfType(n *sitter.Node, typ string) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if child := n.NamedChild(i); child.Type() == typ {
			return child
		}
	}
	return nil
}

func lastNamedOfType(n *sitter.Node, typ string) *sitter.Node {
	for i := int(n.NamedChildCount()) - 1; i >= 0; i-- {
		if child := n.NamedChild(i); child.Type() == typ {
			return child
		}
	}
	return nil
}
