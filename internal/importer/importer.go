package importer

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/engramdev/engram/internal/engine"
)

// Result summarizes a bulk import run.
type Result struct {
	Files      int
	Imported   int
	Duplicates int
	Failed     int
}

// Importer walks a directory of Markdown files and stores every statement
// through the engine, so imported text goes through the same duplicate
// detection as interactively stored memories.
type Importer struct {
	engine *engine.MemoryEngine
}

// New creates an importer on top of the engine.
func New(eng *engine.MemoryEngine) *Importer {
	return &Importer{engine: eng}
}

// ImportDir imports every .md file under root. Files that fail to parse or
// store are counted and logged, not fatal; the walk itself failing is.
func (i *Importer) ImportDir(ctx context.Context, root string) (*Result, error) {
	result := &Result{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		result.Files++
		i.importFile(ctx, path, rel, result)
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("import walk failed: %w", err)
	}

	log.Printf("import finished: %d files, %d stored, %d duplicates, %d failed",
		result.Files, result.Imported, result.Duplicates, result.Failed)
	return result, nil
}

func (i *Importer) importFile(ctx context.Context, path, rel string, result *Result) {
	content, err := os.ReadFile(path)
	if err != nil {
		log.Printf("WARNING: cannot read %s: %v", rel, err)
		result.Failed++
		return
	}

	parsed, err := ParseFile(content, rel)
	if err != nil {
		log.Printf("WARNING: cannot parse %s: %v", rel, err)
		result.Failed++
		return
	}

	for _, statement := range parsed.Statements {
		stored, err := i.engine.Store(ctx, statement, parsed.Language, parsed.Location)
		if err != nil {
			log.Printf("WARNING: failed to store statement from %s: %v", rel, err)
			result.Failed++
			continue
		}
		if stored.Duplicate {
			result.Duplicates++
		} else {
			result.Imported++
		}
	}
}
