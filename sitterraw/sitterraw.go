// Package sitterraw adapts tree-sitter parse results to grove's RawTree
// interface, with builtin grammars for the languages grove classifies out
// of the box.
package sitterraw

import (
	"context"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"

	"github.com/aproctor/grove"
	"github.com/aproctor/grove/langtab"
)

// langToGrammar maps canonical language names to tree-sitter Language
// objects. Lazily initialized on first call via sync.Once.
var (
	langToGrammar map[string]*sitter.Language
	grammarsOnce  sync.Once
)

func initGrammars() {
	grammarsOnce.Do(func() {
		langToGrammar = map[string]*sitter.Language{
			"go":         golang.GetLanguage(),
			"rust":       rust.GetLanguage(),
			"python":     python.GetLanguage(),
			"javascript": javascript.GetLanguage(),
		}
	})
}

// GrammarForLanguage returns the tree-sitter grammar for a canonical
// language name. Returns (nil, false) if the language is not supported.
func GrammarForLanguage(lang string) (*sitter.Language, bool) {
	initGrammars()
	l, ok := langToGrammar[lang]
	return l, ok
}

// Parser returns a grove.ParseFunc that parses source with the named
// language's grammar. Each call runs a fresh parser, so the returned func
// is safe for concurrent use.
func Parser(language string) (grove.ParseFunc, bool) {
	lang, ok := GrammarForLanguage(language)
	if !ok {
		return nil, false
	}
	return func(ctx context.Context, source []byte) (grove.RawTree, error) {
		parser := sitter.NewParser()
		defer parser.Close()
		parser.SetLanguage(lang)

		t, err := parser.ParseCtx(ctx, nil, source)
		if err != nil {
			return nil, fmt.Errorf("tree-sitter parse: %w", err)
		}
		return Wrap(t), nil
	}, true
}

// ParserForFile returns a grove.ParseFunc chosen by path's extension.
func ParserForFile(path string) (grove.ParseFunc, bool) {
	lang, ok := langtab.LanguageForFile(path)
	if !ok {
		return nil, false
	}
	return Parser(lang)
}

// Wrap adapts an already parsed tree. The wrapper holds the tree live;
// tree-sitter's finalizer reclaims the underlying C object once the
// wrapper is unreachable.
func Wrap(t *sitter.Tree) grove.RawTree {
	return tree{t: t}
}

type tree struct {
	t *sitter.Tree
}

func (w tree) Root() grove.RawNode {
	return node{n: w.t.RootNode(), t: w.t}
}

// node wraps one tree-sitter node. The tree pointer rides along so nodes
// keep the parse result reachable.
type node struct {
	n *sitter.Node
	t *sitter.Tree
}

func (w node) Kind() string      { return w.n.Type() }
func (w node) StartByte() uint32 { return w.n.StartByte() }
func (w node) EndByte() uint32   { return w.n.EndByte() }
func (w node) IsNamed() bool     { return w.n.IsNamed() }
func (w node) IsMissing() bool   { return w.n.IsMissing() }
func (w node) IsExtra() bool     { return w.n.IsExtra() }
func (w node) IsError() bool     { return w.n.IsError() }

func (w node) ChildCount() int { return int(w.n.ChildCount()) }

func (w node) Child(i int) grove.RawNode {
	return node{n: w.n.Child(i), t: w.t}
}

func (w node) FieldNameForChild(i int) string {
	return w.n.FieldNameForChild(i)
}
