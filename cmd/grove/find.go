package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aproctor/grove"
	"github.com/aproctor/grove/langtab"
	"github.com/aproctor/grove/sitterraw"
)

var findCmd = &cobra.Command{
	Use:   "find <file> <name>",
	Short: "Find a symbol's definitions and references in one file",
	Long:  "Parses the file, builds its symbol index, and prints every definition, reference, and plain occurrence of the named symbol.",
	Args:  cobra.ExactArgs(2),
	RunE:  runFind,
}

func runFind(cmd *cobra.Command, args []string) error {
	path, name := args[0], args[1]

	content, err := os.ReadFile(path)
	if err != nil {
		return outputError("find", fmt.Errorf("reading %s: %w", path, err))
	}
	lang, ok := langtab.LanguageForFile(path)
	if !ok {
		return outputError("find", fmt.Errorf("no symbol table for %s", path))
	}
	table, ok := langtab.ForLanguage(lang)
	if !ok {
		return outputError("find", fmt.Errorf("no symbol table for language %q", lang))
	}
	parse, ok := sitterraw.Parser(lang)
	if !ok {
		return outputError("find", fmt.Errorf("unsupported language %q", lang))
	}

	raw, err := parse(cmd.Context(), content)
	if err != nil {
		return outputError("find", err)
	}
	tree, err := grove.Encode(raw, content, grove.NewInternPool())
	if err != nil {
		return outputError("find", err)
	}
	ix := grove.BuildIndex(tree, table)

	result := CLIFind{Path: path, Name: name}
	if pos, ok := ix.FindDefinition(name); ok {
		result.Definitions = append(result.Definitions, hitAt(tree, content, name, "definition", pos))
	}
	for _, pos := range ix.FindReferences(name) {
		result.References = append(result.References, hitAt(tree, content, name, "reference", pos))
	}
	for _, pos := range ix.FindSymbol(name) {
		result.Occurrences = append(result.Occurrences, hitAt(tree, content, name, "occurrence", pos))
	}

	total := len(result.Definitions) + len(result.References) + len(result.Occurrences)
	return outputResult(CLIResult{Command: "find", Results: result, TotalCount: &total})
}

// hitAt resolves one index position into a CLI hit with line and column.
func hitAt(t *grove.Tree, src []byte, name, role string, pos uint32) CLISymbolHit {
	hit := CLISymbolHit{Name: name, Role: role, Pos: pos}
	n, ok := t.NodeAt(pos)
	if !ok {
		return hit
	}
	hit.Kind = n.Kind()
	hit.StartByte = n.StartByte()
	hit.EndByte = n.EndByte()
	hit.StartLine, hit.StartCol = lineCol(src, n.StartByte())
	return hit
}
