// Package pyast provides Tree-sitter backed analysis of Python source:
// syntax validation and decomposition into top-level components for the
// fusion engine.
package pyast

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// newParser returns a parser configured for the Python grammar.
func newParser() *sitter.Parser {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	return parser
}

// SyntaxError describes a parse diagnostic at a source line.
type SyntaxError struct {
	Line    int
	Message string
}

func (e SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// Check parses source and returns one diagnostic per ERROR or missing
// node in the tree. An empty slice means the source is syntactically
// valid Python.
func Check(code string) []SyntaxError {
	parser := newParser()
	defer parser.Close()

	content := []byte(code)
	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return []SyntaxError{{Line: 1, Message: err.Error()}}
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return nil
	}

	var errs []SyntaxError
	collectErrors(root, &errs)
	if len(errs) == 0 {
		// Tree reports an error but no ERROR node surfaced in the walk
		errs = append(errs, SyntaxError{Line: int(root.StartPoint().Row) + 1, Message: "invalid syntax"})
	}
	return errs
}

// Valid reports whether code parses without diagnostics.
func Valid(code string) bool {
	return len(Check(code)) == 0
}

func collectErrors(node *sitter.Node, errs *[]SyntaxError) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		line := int(child.StartPoint().Row) + 1
		switch {
		case child.Type() == "ERROR":
			*errs = append(*errs, SyntaxError{Line: line, Message: "invalid syntax"})
		case child.IsMissing():
			*errs = append(*errs, SyntaxError{Line: line, Message: fmt.Sprintf("missing %s", child.Type())})
		}
		if child.HasError() {
			collectErrors(child, errs)
		}
	}
}
