package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aproctor/grove"
	"github.com/aproctor/grove/langtab"
	"github.com/aproctor/grove/sitterraw"
)

var (
	flagLanguage string
	flagSummary  bool
)

var parseCmd = &cobra.Command{
	Use:   "parse <file>",
	Short: "Parse one file and dump its flat tree",
	Long:  "Parses a file with tree-sitter, encodes it into grove's flat pre-order form, and prints the node table.",
	Args:  cobra.ExactArgs(1),
	RunE:  runParse,
}

func init() {
	parseCmd.Flags().StringVar(&flagLanguage, "language", "", "override language detection (e.g. rust)")
	parseCmd.Flags().BoolVar(&flagSummary, "summary", false, "print counts only, omit node rows")
}

func runParse(cmd *cobra.Command, args []string) error {
	path := args[0]

	content, err := os.ReadFile(path)
	if err != nil {
		return outputError("parse", fmt.Errorf("reading %s: %w", path, err))
	}

	lang := flagLanguage
	if lang == "" {
		var ok bool
		if lang, ok = langtab.LanguageForFile(path); !ok {
			return outputError("parse", fmt.Errorf("cannot detect language of %s, use --language", path))
		}
	}
	parse, ok := sitterraw.Parser(lang)
	if !ok {
		return outputError("parse", fmt.Errorf("unsupported language %q", lang))
	}

	raw, err := parse(cmd.Context(), content)
	if err != nil {
		return outputError("parse", err)
	}
	pool := grove.NewInternPool()
	tree, err := grove.Encode(raw, content, pool)
	if err != nil {
		return outputError("parse", err)
	}

	result := CLIParse{
		Path:     path,
		Language: lang,
		Bytes:    len(content),
		Nodes:    tree.Len(),
		Interned: pool.Len(),
	}
	if !flagSummary {
		result.Tree = dumpNodes(tree, content)
	}
	return outputResult(CLIResult{Command: "parse", Results: result})
}

// dumpNodes flattens a tree into CLI rows, pre-order with depths.
func dumpNodes(t *grove.Tree, src []byte) []CLINode {
	type frame struct {
		n     grove.NodeView
		depth int
	}
	out := make([]CLINode, 0, t.Len())
	if t.Len() == 0 {
		return out
	}
	stack := []frame{{n: t.Root()}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		line, col := lineCol(src, f.n.StartByte())
		out = append(out, CLINode{
			Pos:       f.n.Pos(),
			Depth:     f.depth,
			Kind:      f.n.Kind(),
			Field:     f.n.FieldName(),
			StartByte: f.n.StartByte(),
			EndByte:   f.n.EndByte(),
			StartLine: line,
			StartCol:  col,
			Named:     f.n.IsNamed(),
			Error:     f.n.IsError(),
			Missing:   f.n.IsMissing(),
			Subtree:   f.n.SubtreeSize(),
		})

		children := f.n.Children()
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{n: children[i], depth: f.depth + 1})
		}
	}
	return out
}
