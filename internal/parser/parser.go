// Package parser implements the SQLParser component: template rendering,
// ref/source/variable extraction, column-level lineage, and a
// (path, content_hash)-keyed cache so unchanged files are never
// re-rendered or re-parsed.
package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"sqlorch/internal/errs"
	"sqlorch/internal/types"
)

// Parser renders and parses *.sql model files.
type Parser struct {
	log *zap.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry // keyed by file path
}

type cacheEntry struct {
	contentHash string
	model       *types.ParsedModel
}

// New returns a Parser that logs through log (nil is treated as a no-op
// logger).
func New(log *zap.Logger) *Parser {
	if log == nil {
		log = zap.NewNop()
	}
	return &Parser{log: log, cache: make(map[string]cacheEntry)}
}

var (
	configLineRe    = regexp.MustCompile(`(?im)^--\s*config:\s*(.*)$`)
	dependsOnLineRe = regexp.MustCompile(`(?im)^--\s*depends_on:\s*(.*)$`)
	variableRe      = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// ParseFile renders and parses the model at path, using the
// (path, content_hash) cache: a changed hash invalidates the prior entry.
func (p *Parser) ParseFile(path string) (*types.ParsedModel, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.ModelNotFound(path)
		}
		return nil, errs.New(errs.KindParse, fmt.Sprintf("read model file %s", path), err)
	}

	hash := contentHash(string(raw))

	p.mu.RLock()
	entry, ok := p.cache[path]
	p.mu.RUnlock()
	if ok && entry.contentHash == hash {
		return entry.model, nil
	}

	model, err := p.parse(path, string(raw), hash)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[path] = cacheEntry{contentHash: hash, model: model}
	p.mu.Unlock()

	return model, nil
}

// ParseDirectory parses every *.sql file under dir. A single file's AST
// failure does not abort the directory-level parse: it is logged and
// omitted from the result map (graceful per-file degradation).
func (p *Parser) ParseDirectory(dir string) (map[string]*types.ParsedModel, error) {
	models := make(map[string]*types.ParsedModel)

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}

		m, parseErr := p.ParseFile(path)
		if parseErr != nil {
			p.log.Warn("skipping model with parse error", zap.String("path", path), zap.Error(parseErr))
			return nil
		}
		models[m.Name] = m
		return nil
	})
	if err != nil {
		return nil, errs.New(errs.KindParse, fmt.Sprintf("walk models directory %s", dir), err)
	}
	return models, nil
}

func (p *Parser) parse(path, raw, hash string) (*types.ParsedModel, error) {
	name := modelNameFromPath(path)

	config, staticDeps := parseHeaderComments(raw)

	td := &templateData{
		Refs:    make(map[string]struct{}),
		Sources: make(map[sourceKey]struct{}),
		Name:    name,
	}
	rendered, err := renderTemplate(name, raw, td)
	if err != nil {
		return nil, errs.ForModel(errs.KindParse, name, "render template", err)
	}

	variables := make(map[string]struct{})
	for _, m := range variableRe.FindAllStringSubmatch(rendered, -1) {
		variables[m[1]] = struct{}{}
	}

	sourceSet := make(map[types.SourceRef]struct{}, len(td.Sources))
	for k := range td.Sources {
		sourceSet[types.SourceRef{SourceName: k.Source, TableName: k.Table}] = struct{}{}
	}

	lineage := extractLineage(name, rendered)
	for ref := range td.Refs {
		lineage.DependsOn[ref] = struct{}{}
	}

	model := &types.ParsedModel{
		Name:            name,
		FilePath:        path,
		RawSource:       raw,
		RenderedSource:  rendered,
		Variables:       variables,
		Refs:            td.Refs,
		Sources:         sourceSet,
		Config:          config,
		StaticDependsOn: staticDeps,
		Lineage:         lineage,
		ContentHash:     hash,
	}

	if _, isRef := model.Refs[model.Name]; isRef {
		return nil, errs.ForModel(errs.KindParse, model.Name, "model cannot ref itself", nil)
	}

	return model, nil
}

// parseHeaderComments scans the leading "-- config: k=v, k=v" and
// "-- depends_on: a, b" header lines, accumulating inline config
// overrides and static dependencies.
func parseHeaderComments(raw string) (config map[string]string, dependsOn []string) {
	config = make(map[string]string)

	if m := configLineRe.FindStringSubmatch(raw); m != nil {
		for _, pair := range strings.Split(m[1], ",") {
			kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
			if len(kv) == 2 {
				config[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
			}
		}
	}

	if m := dependsOnLineRe.FindStringSubmatch(raw); m != nil {
		for _, dep := range strings.Split(m[1], ",") {
			dep = strings.TrimSpace(dep)
			if dep != "" {
				dependsOn = append(dependsOn, dep)
			}
		}
	}

	return config, dependsOn
}

// modelNameFromPath derives a model's identifier from its file path: the
// base name without the .sql extension.
func modelNameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// contentHash returns a deterministic hash of raw source, used as both
// the cache key and ParsedModel.ContentHash.
func contentHash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
