// Package completion answers code completion requests from the names
// visible in a notebook, Python keywords and builtins.
package completion

import (
	"sort"
	"strings"
	"unicode"

	"github.com/GriffinCanCode/notebookd/internal/domain/format"
	"github.com/GriffinCanCode/notebookd/internal/domain/notebook"
	"github.com/GriffinCanCode/notebookd/internal/protocol"
)

// MaxOptions caps the number of options in one result.
const MaxOptions = 100

// Option types.
const (
	TypeKeyword  = "keyword"
	TypeFunction = "function"
	TypeVariable = "variable"
)

var keywords = []string{
	"False", "None", "True", "and", "as", "assert", "async", "await", "break",
	"class", "continue", "def", "del", "elif", "else", "except", "finally",
	"for", "from", "global", "if", "import", "in", "is", "lambda", "nonlocal",
	"not", "or", "pass", "raise", "return", "try", "while", "with", "yield",
}

var builtins = []string{
	"abs", "all", "any", "ascii", "bin", "bool", "breakpoint", "bytearray",
	"bytes", "callable", "chr", "classmethod", "compile", "complex", "delattr",
	"dict", "dir", "divmod", "enumerate", "eval", "exec", "filter", "float",
	"format", "frozenset", "getattr", "globals", "hasattr", "hash", "help",
	"hex", "id", "input", "int", "isinstance", "issubclass", "iter", "len",
	"list", "locals", "map", "max", "memoryview", "min", "next", "object",
	"oct", "open", "ord", "pow", "print", "property", "range", "repr",
	"reversed", "round", "set", "setattr", "slice", "sorted", "staticmethod",
	"str", "sum", "super", "tuple", "type", "vars", "zip",
}

// Complete builds the completion result for document, the cell text up to
// the cursor. Attribute access yields no options.
func Complete(req protocol.CodeCompletionRequest, cells []notebook.Cell) protocol.CompletionResult {
	prefix, attribute := trailingIdentifier(req.Document)
	result := protocol.CompletionResult{
		CompletionID: req.ID,
		PrefixLength: len(prefix),
		Options:      []protocol.CompletionOption{},
	}
	if attribute || prefix == "" {
		return result
	}

	candidates := make(map[string]protocol.CompletionOption)
	add := func(name, typ, info string) {
		if !strings.HasPrefix(name, prefix) || name == prefix {
			return
		}
		if _, ok := candidates[name]; !ok {
			candidates[name] = protocol.CompletionOption{Name: name, Type: typ, CompletionInfo: info}
		}
	}

	for _, c := range cells {
		if c.ID == req.CellID {
			continue
		}
		names, err := format.Scan(c.Code)
		if err != nil {
			continue
		}
		for _, d := range names.Defs {
			add(d, TypeVariable, "defined in cell "+c.ID.String())
		}
	}
	for _, name := range localNames(req.Document) {
		add(name, TypeVariable, "")
	}
	for _, k := range keywords {
		add(k, TypeKeyword, "")
	}
	for _, b := range builtins {
		add(b, TypeFunction, "builtin")
	}

	options := make([]protocol.CompletionOption, 0, len(candidates))
	for _, o := range candidates {
		options = append(options, o)
	}
	sort.Slice(options, func(i, j int) bool {
		if rank(options[i]) != rank(options[j]) {
			return rank(options[i]) < rank(options[j])
		}
		return options[i].Name < options[j].Name
	})
	if len(options) > MaxOptions {
		options = options[:MaxOptions]
	}
	result.Options = options
	return result
}

func rank(o protocol.CompletionOption) int {
	switch o.Type {
	case TypeVariable:
		return 0
	case TypeFunction:
		return 1
	default:
		return 2
	}
}

func isIdent(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// trailingIdentifier returns the identifier being typed at the end of doc
// and whether it follows a dot.
func trailingIdentifier(doc string) (string, bool) {
	runes := []rune(doc)
	i := len(runes)
	for i > 0 && isIdent(runes[i-1]) {
		i--
	}
	prefix := string(runes[i:])
	if prefix != "" && unicode.IsDigit([]rune(prefix)[0]) {
		return "", false
	}
	return prefix, i > 0 && runes[i-1] == '.'
}

// localNames collects identifiers assigned or defined in the partial
// document. It tolerates code that does not tokenize.
func localNames(doc string) []string {
	if names, err := format.Scan(doc); err == nil {
		return names.Defs
	}
	var out []string
	for _, line := range strings.Split(doc, "\n") {
		line = strings.TrimSpace(line)
		for _, kw := range []string{"def ", "class "} {
			if strings.HasPrefix(line, kw) {
				name := strings.TrimPrefix(line, kw)
				if j := strings.IndexFunc(name, func(r rune) bool { return !isIdent(r) }); j > 0 {
					out = append(out, name[:j])
				}
			}
		}
		if lhs, _, ok := strings.Cut(line, "="); ok && !strings.ContainsAny(lhs, "=<>!([") {
			lhs = strings.TrimSpace(lhs)
			if lhs != "" && strings.IndexFunc(lhs, func(r rune) bool { return !isIdent(r) }) < 0 {
				out = append(out, lhs)
			}
		}
	}
	return out
}
