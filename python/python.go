// Package python parses Python source with tree-sitter and lowers it into
// the sift program model.
package python

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
	"go.uber.org/zap"

	"github.com/siftlang/sift"
)

// parserPool reuses tree-sitter parsers across files.
var parserPool = sync.Pool{
	New: func() interface{} {
		parser := sitter.NewParser()
		parser.SetLanguage(python.GetLanguage())
		return parser
	},
}

// Parser lowers Python source files into program units.
type Parser struct {
	logger *zap.Logger
}

// NewParser returns a parser. A nil logger disables logging.
func NewParser(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger}
}

// ParseDir walks root and parses every .py file beneath it. Unreadable or
// unparsable files are skipped, not fatal. Hidden directories and
// __pycache__ are not descended into.
func (p *Parser) ParseDir(ctx context.Context, root string) ([]*sift.ProgramUnit, []sift.SkippedFile, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || name == "__pycache__") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".py") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(paths)
	return p.parseAll(ctx, root, paths)
}

// ParseFiles parses the given .py files. The module name of each unit is
// derived from its path alone.
func (p *Parser) ParseFiles(ctx context.Context, paths []string) ([]*sift.ProgramUnit, []sift.SkippedFile, error) {
	return p.parseAll(ctx, "", paths)
}

func (p *Parser) parseAll(ctx context.Context, root string, paths []string) ([]*sift.ProgramUnit, []sift.SkippedFile, error) {
	var units []*sift.ProgramUnit
	var skipped []sift.SkippedFile
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		unit, err := p.parseFile(ctx, root, path)
		if err != nil {
			p.logger.Warn("file skipped", zap.String("path", path), zap.Error(err))
			skipped = append(skipped, sift.SkippedFile{Path: path, Reason: err.Error()})
			continue
		}
		units = append(units, unit)
	}
	return units, skipped, nil
}

// ParseFile parses a single file.
func (p *Parser) ParseFile(ctx context.Context, path string) (*sift.ProgramUnit, error) {
	return p.parseFile(ctx, "", path)
}

func (p *Parser) parseFile(ctx context.Context, root, path string) (*sift.ProgramUnit, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return p.ParseSource(ctx, ModuleName(root, path), path, src)
}

// ParseSource parses src and lowers it into a unit named module.
func (p *Parser) ParseSource(ctx context.Context, module, path string, src []byte) (*sift.ProgramUnit, error) {
	parser := parserPool.Get().(*sitter.Parser)
	defer parserPool.Put(parser)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	rootNode := tree.RootNode()
	if rootNode.HasError() {
		return nil, fmt.Errorf("parse %s: syntax error", path)
	}

	l := &lowerer{src: src, module: module}
	unit := l.lowerModule(rootNode)
	unit.Path = path
	unit.Lines = bytes.Count(src, []byte("\n")) + 1
	return unit, nil
}

// ModuleName derives the dotted module name of path relative to root. An
// empty root uses the path as-is.
func ModuleName(root, path string) string {
	name := path
	if root != "" {
		if rel, err := filepath.Rel(root, path); err == nil {
			name = rel
		}
	}
	name = strings.TrimSuffix(name, ".py")
	name = strings.TrimSuffix(name, string(filepath.Separator)+"__init__")
	name = strings.ReplaceAll(name, string(filepath.Separator), ".")
	return strings.TrimPrefix(name, ".")
}
