package pyast

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// ComponentKind classifies a top-level component of a Python module.
type ComponentKind string

const (
	KindImport   ComponentKind = "import"
	KindConstant ComponentKind = "constant"
	KindFunction ComponentKind = "function"
	KindClass    ComponentKind = "class"
	KindRaw      ComponentKind = "raw"
)

// Component is a named top-level unit of a Python module. Source spans
// the full node text including decorators.
type Component struct {
	Name       string
	Kind       ComponentKind
	Source     string
	StartLine  int
	EndLine    int
	Complexity int
	Async      bool
}

// ExtractComponents splits a Python module into its top-level
// components: imports, module constants, functions and classes. When
// the source does not parse, the whole text is returned as a single
// raw component so callers never lose content.
func ExtractComponents(code string) []Component {
	parser := newParser()
	defer parser.Close()

	content := []byte(code)
	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil || tree.RootNode().HasError() {
		if tree != nil {
			tree.Close()
		}
		return []Component{rawComponent(code)}
	}
	defer tree.Close()

	root := tree.RootNode()
	getText := func(n *sitter.Node) string { return n.Content(content) }

	var components []Component
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)

		switch child.Type() {
		case "import_statement", "import_from_statement", "future_import_statement":
			components = append(components, makeComponent(child, importName(child, getText), KindImport, getText))

		case "expression_statement":
			// Module-level NAME = value assignments become constants
			if name, ok := assignmentName(child, getText); ok {
				components = append(components, makeComponent(child, name, KindConstant, getText))
			}

		case "function_definition":
			c := makeComponent(child, fieldName(child, getText), KindFunction, getText)
			c.Async = strings.HasPrefix(c.Source, "async ")
			components = append(components, c)

		case "class_definition":
			components = append(components, makeComponent(child, fieldName(child, getText), KindClass, getText))

		case "decorated_definition":
			if def := child.ChildByFieldName("definition"); def != nil {
				kind := KindFunction
				if def.Type() == "class_definition" {
					kind = KindClass
				}
				// Span the whole decorated node so decorators travel
				// with the definition
				c := makeComponent(child, fieldName(def, getText), kind, getText)
				c.Async = strings.Contains(c.Source, "async def ")
				components = append(components, c)
			}
		}
	}

	return components
}

// Functions returns the function components of a module, used for
// example mining during context preparation.
func Functions(code string) []Component {
	var funcs []Component
	for _, c := range ExtractComponents(code) {
		if c.Kind == KindFunction {
			funcs = append(funcs, c)
		}
	}
	return funcs
}

func rawComponent(code string) Component {
	return Component{
		Name:      "__unparsed__",
		Kind:      KindRaw,
		Source:    code,
		StartLine: 1,
		EndLine:   strings.Count(code, "\n") + 1,
	}
}

func makeComponent(node *sitter.Node, name string, kind ComponentKind, getText func(*sitter.Node) string) Component {
	return Component{
		Name:       name,
		Kind:       kind,
		Source:     getText(node),
		StartLine:  int(node.StartPoint().Row) + 1,
		EndLine:    int(node.EndPoint().Row) + 1,
		Complexity: complexity(node),
	}
}

// fieldName returns the text of a node's "name" field.
func fieldName(node *sitter.Node, getText func(*sitter.Node) string) string {
	if n := node.ChildByFieldName("name"); n != nil {
		return getText(n)
	}
	return ""
}

// importName derives a stable name for an import statement so fusion
// can dedupe imports across parents.
func importName(node *sitter.Node, getText func(*sitter.Node) string) string {
	if node.Type() == "import_from_statement" || node.Type() == "future_import_statement" {
		if m := node.ChildByFieldName("module_name"); m != nil {
			return "from " + getText(m)
		}
		return strings.TrimSpace(getText(node))
	}

	var names []string
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			names = append(names, getText(child))
		case "aliased_import":
			if n := child.ChildByFieldName("name"); n != nil {
				names = append(names, getText(n))
			}
		}
	}
	if len(names) == 0 {
		return strings.TrimSpace(getText(node))
	}
	return strings.Join(names, ", ")
}

// assignmentName extracts the target name of a simple module-level
// assignment. Returns false for bare expressions (docstrings, calls).
func assignmentName(stmt *sitter.Node, getText func(*sitter.Node) string) (string, bool) {
	if stmt.NamedChildCount() == 0 {
		return "", false
	}
	expr := stmt.NamedChild(0)
	if expr.Type() != "assignment" {
		return "", false
	}
	left := expr.ChildByFieldName("left")
	if left == nil {
		return "", false
	}
	switch left.Type() {
	case "identifier":
		return getText(left), true
	case "pattern_list":
		var names []string
		for i := 0; i < int(left.NamedChildCount()); i++ {
			names = append(names, getText(left.NamedChild(i)))
		}
		return strings.Join(names, ", "), true
	}
	return "", false
}

// complexity counts branching statements in a subtree. Used by the
// fusion scoring heuristic to penalize overly dense components.
func complexity(node *sitter.Node) int {
	count := 0
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			switch child.Type() {
			case "if_statement", "for_statement", "while_statement", "try_statement":
				count++
			}
			walk(child)
		}
	}
	walk(node)
	return count
}
