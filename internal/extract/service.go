// Package extract runs the whole pipeline for one document: it resolves the
// atlas, loads the observed blocks and page images, aligns and matches,
// gathers every other candidate source and fuses them into one value per
// field.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/a3tai/mcp-form-atlas/internal/acroform"
	"github.com/a3tai/mcp-form-atlas/internal/atlas"
	"github.com/a3tai/mcp-form-atlas/internal/blocks"
	"github.com/a3tai/mcp-form-atlas/internal/config"
	"github.com/a3tai/mcp-form-atlas/internal/descriptions"
	"github.com/a3tai/mcp-form-atlas/internal/fusion"
	"github.com/a3tai/mcp-form-atlas/internal/match"
	"github.com/a3tai/mcp-form-atlas/internal/raster"
	"github.com/a3tai/mcp-form-atlas/internal/security"
	"github.com/a3tai/mcp-form-atlas/internal/sources"
)

// DefaultLowConfidence is the fused confidence under which a field is
// listed for review.
const DefaultLowConfidence = 0.60

// Options configures a Service.
type Options struct {
	ServerName string
	Version    string
	// Registry resolves document types. Manifests with an atlas_path work
	// without one.
	Registry *atlas.Registry
	Match    match.Config
	Rules    []match.ValidityRule
	Fusion   fusion.Config
	Pairing  sources.PairingConfig
	// EmptyRatio is the ink fraction under which an unmarked checkbox is
	// reported as "Off".
	EmptyRatio    float64
	LowConfidence float64
	// Paths confines every file a request touches. Nil allows any path.
	Paths       *security.PathValidator
	MaxFileSize int64
	Metrics     *Metrics
	Logger      *zap.Logger
}

// DefaultOptions returns options with the reference thresholds and no
// registry, path restriction or metrics.
func DefaultOptions() Options {
	return Options{
		Match:         match.DefaultConfig(),
		Fusion:        fusion.DefaultConfig(),
		Pairing:       sources.DefaultPairingConfig(),
		EmptyRatio:    config.DefaultEmptyRatio,
		LowConfidence: DefaultLowConfidence,
		MaxFileSize:   config.DefaultMaxFileSize,
	}
}

// Service extracts documents. It is safe for concurrent use.
type Service struct {
	opts    Options
	matcher *match.Matcher
	pairer  *sources.Pairer
	forms   *acroform.Reader
	logger  *zap.Logger
}

// NewService creates a Service.
func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.LowConfidence <= 0 {
		opts.LowConfidence = DefaultLowConfidence
	}
	matchOpts := []match.Option{match.WithLogger(opts.Logger.Named("match"))}
	if len(opts.Rules) > 0 {
		matchOpts = append(matchOpts, match.WithRules(opts.Rules...))
	}
	return &Service{
		opts:    opts,
		matcher: match.NewMatcher(opts.Match, matchOpts...),
		pairer:  sources.NewPairer(opts.Pairing, match.NewLabeler(opts.Match.LabelVocabulary)),
		forms:   acroform.NewReader(opts.Logger.Named("acroform")),
		logger:  opts.Logger,
	}
}

// FromConfig builds a Service from the server configuration. Requests are
// confined to the document and atlas directories.
func FromConfig(cfg *config.Config, registry *atlas.Registry, metrics *Metrics, logger *zap.Logger) (*Service, error) {
	paths, err := security.NewPathValidator(cfg.DocDirectory, cfg.AtlasDirectory)
	if err != nil {
		return nil, err
	}
	opts := DefaultOptions()
	opts.ServerName = cfg.ServerName
	opts.Version = cfg.Version
	opts.Registry = registry
	opts.Match = cfg.MatchConfig()
	opts.Rules = match.ACORDRules()
	opts.Fusion = cfg.FusionConfig()
	opts.EmptyRatio = cfg.Thresholds.EmptyRatio
	opts.Paths = paths
	opts.MaxFileSize = cfg.MaxFileSize
	opts.Metrics = metrics
	opts.Logger = logger
	return NewService(opts), nil
}

// Extract loads the manifest at req.Path and extracts the document.
func (s *Service) Extract(ctx context.Context, req ExtractRequest) (*Result, error) {
	m, err := s.loadManifest(req.Path)
	if err != nil {
		s.opts.Metrics.failed()
		return nil, err
	}
	return s.ExtractManifest(ctx, m)
}

// ExtractManifest extracts the document a manifest describes. Inputs that
// supplement the observed blocks (AcroForm values, candidate files) are
// skipped with a warning when unreadable.
func (s *Service) ExtractManifest(ctx context.Context, m *Manifest) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	logger := s.logger.With(zap.String("run_id", runID), zap.String("document", m.Name()))

	res, err := s.extract(ctx, m, logger)
	if err != nil {
		s.opts.Metrics.failed()
		logger.Warn("extraction failed", zap.Error(err))
		return nil, err
	}
	res.RunID = runID
	res.ElapsedMS = time.Since(start).Milliseconds()
	s.opts.Metrics.observe(res)

	logger.Info("extraction complete",
		zap.String("atlas", res.DocumentType),
		zap.Int("fields", len(res.Fields)),
		zap.Int("disagreements", len(res.Disagreements)),
		zap.Int("low_confidence", len(res.LowConfidence)),
		zap.Float64("alignment_quality", res.Alignment.Quality),
		zap.Int64("elapsed_ms", res.ElapsedMS))
	return res, nil
}

func (s *Service) extract(ctx context.Context, m *Manifest, logger *zap.Logger) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkPaths(m); err != nil {
		return nil, err
	}
	a, err := s.atlasFor(m)
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("atlas", a.DocumentType))

	pages, doc, err := observe(m, a)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	images := raster.NewPageSet(m.Images, logger)
	al := s.matcher.Calibrate(a, pages)
	pos := s.matcher.MatchAligned(a, pages, images, al)
	for _, off := range al.Offsets {
		if off.LowQuality {
			logger.Debug("no anchor matched on page", zap.Int("page", off.Page))
		}
	}

	res := &Result{
		Document:     m.Name(),
		DocumentType: a.DocumentType,
		Positional:   pos.Meta,
		Alignment:    al,
	}
	engine := fusion.NewEngine(s.opts.Fusion)
	add := func(set sources.CandidateSet) {
		if set.Len() == 0 {
			return
		}
		set.AddTo(engine)
		res.Sources = append(res.Sources, SourceCount{Source: set.Source, Fields: set.Len()})
	}

	positional := sources.NewCandidateSet(fusion.SourcePositional)
	for name, v := range pos.Values {
		positional.Fields[name] = v
		positional.Confidences[name] = pos.Meta[name].Confidence
	}
	add(positional)

	empty := sources.NewCandidateSet(fusion.SourcePixelEmpty)
	empty.Fields = match.ConfidentlyEmpty(pos, s.opts.EmptyRatio)
	add(empty)

	paired := s.pairer.Pair(a, pages)
	if doc != nil {
		paired.Merge(sources.FromDocumentAI(doc, a, s.opts.Pairing.DefaultConfidence))
	}
	add(paired)

	if m.AcroFormPDF != "" {
		set, err := sources.ReadAcroForm(s.forms, m.AcroFormPDF, a)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("acroform: %v", err))
			logger.Warn("acroform values unavailable", zap.Error(err))
		} else {
			add(set)
		}
	}
	for _, path := range m.Sources {
		sets, err := sources.LoadFile(path)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("sources: %v", err))
			logger.Warn("candidate file unavailable", zap.String("path", path), zap.Error(err))
			continue
		}
		for _, set := range sets {
			add(set)
		}
	}
	for _, set := range m.Candidates {
		add(set)
	}

	res.Fields, res.Metadata = engine.Fuse()
	res.Disagreements = engine.Disagreements()
	res.LowConfidence = engine.LowConfidenceFields(s.opts.LowConfidence)
	return res, nil
}

// Align reports the page alignment of the document a manifest describes.
func (s *Service) Align(ctx context.Context, req AlignRequest) (*AlignResult, error) {
	m, err := s.loadManifest(req.Path)
	if err != nil {
		return nil, err
	}
	return s.AlignManifest(ctx, m)
}

// AlignManifest reports the page alignment for a loaded manifest.
func (s *Service) AlignManifest(ctx context.Context, m *Manifest) (*AlignResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.checkPaths(m); err != nil {
		return nil, err
	}
	if !m.HasObservations() {
		return nil, fmt.Errorf("%w: alignment needs observed blocks", ErrNoInput)
	}
	a, err := s.atlasFor(m)
	if err != nil {
		return nil, err
	}
	pages, _, err := observe(m, a)
	if err != nil {
		return nil, err
	}
	return &AlignResult{
		Document:     m.Name(),
		DocumentType: a.DocumentType,
		Pages:        len(pages),
		Blocks:       pages.Count(),
		Alignment:    s.matcher.Calibrate(a, pages),
	}, nil
}

// Fuse merges candidate sets with the configured weights.
func (s *Service) Fuse(req FuseRequest) (*FuseResult, error) {
	threshold := req.LowConfidence
	if threshold <= 0 {
		threshold = s.opts.LowConfidence
	}
	return Fuse(s.opts.Fusion, req.Candidates, threshold)
}

// Fuse merges candidate sets without any geometry.
func Fuse(cfg fusion.Config, sets []sources.CandidateSet, lowConfidence float64) (*FuseResult, error) {
	if len(sets) == 0 {
		return nil, ErrNoInput
	}
	engine := fusion.NewEngine(cfg)
	for i, set := range sets {
		if set.Source == "" {
			return nil, fmt.Errorf("candidate set %d has no source", i)
		}
		set.AddTo(engine)
	}
	values, meta := engine.Fuse()
	return &FuseResult{
		Fields:        values,
		Metadata:      meta,
		Disagreements: engine.Disagreements(),
		LowConfidence: engine.LowConfidenceFields(lowConfidence),
	}, nil
}

// AtlasList summarizes every atlas in the registry directory. Files that
// fail to load are reported instead of failing the listing.
func (s *Service) AtlasList() (*AtlasListResult, error) {
	if s.opts.Registry == nil {
		return nil, errors.New("no atlas directory configured")
	}
	types, err := s.opts.Registry.List()
	if err != nil {
		return nil, err
	}
	res := &AtlasListResult{Directory: s.opts.Registry.Dir(), Atlases: []atlas.Summary{}}
	for _, t := range types {
		a, err := s.opts.Registry.Get(t)
		if err != nil {
			if res.Broken == nil {
				res.Broken = map[string]string{}
			}
			res.Broken[t] = err.Error()
			continue
		}
		res.Atlases = append(res.Atlases, a.Summarize())
	}
	return res, nil
}

// AtlasInfo describes one atlas.
func (s *Service) AtlasInfo(req AtlasInfoRequest) (*AtlasInfoResult, error) {
	if s.opts.Registry == nil {
		return nil, errors.New("no atlas directory configured")
	}
	a, err := s.opts.Registry.Get(req.DocumentType)
	if err != nil {
		return nil, err
	}
	return &AtlasInfoResult{
		Summary: a.Summarize(),
		Fields:  a.Fields,
		Anchors: a.Anchors,
		Rules:   a.Rules,
	}, nil
}

// ServerInfo returns server information and usage guidance.
func (s *Service) ServerInfo(_ context.Context) (*ServerInfoResult, error) {
	res := &ServerInfoResult{
		ServerName:    s.opts.ServerName,
		Version:       s.opts.Version,
		MaxFileSize:   s.opts.MaxFileSize,
		Atlases:       []string{},
		SourceWeights: s.opts.Fusion.EffectiveWeights(),
		SupportedFormats: []string{
			"atlas: .json .yaml .yml",
			"blocks: .json",
			"hocr: .hocr .html",
			"docai: Document AI JSON",
			"pdf: text layer and AcroForm values",
			"images: .png .jpg .gif .tif .bmp .webp",
		},
		UsageGuidance: usageGuidance,
	}
	if s.opts.Paths != nil {
		res.Directories = s.opts.Paths.Roots()
	}
	if s.opts.Registry != nil {
		res.AtlasDirectory = s.opts.Registry.Dir()
		if types, err := s.opts.Registry.List(); err == nil {
			res.Atlases = types
		}
	}
	for _, name := range descriptions.GetAllToolNames() {
		usage := descriptions.ToolUsage[name]
		res.AvailableTools = append(res.AvailableTools, ToolInfo{
			Name:        name,
			Description: descriptions.GetToolDescription(name),
			Usage:       usage[0],
			Parameters:  usage[1],
		})
	}
	return res, nil
}

const usageGuidance = `Write a manifest (JSON or YAML) naming the document_type (or atlas_path), ` +
	`the observed blocks (blocks, hocr, docai or pdf), page images and any extra candidate sources. ` +
	`Run form_align first when results look shifted, then form_extract. ` +
	`Review fields listed under low_confidence and disagreements.`

func (s *Service) loadManifest(path string) (*Manifest, error) {
	var err error
	if s.opts.Paths != nil {
		path, err = s.opts.Paths.ResolveFile(path, s.opts.MaxFileSize)
	} else {
		path, err = filepath.Abs(path)
	}
	if err != nil {
		return nil, err
	}
	return LoadManifest(path)
}

func (s *Service) checkPaths(m *Manifest) error {
	if s.opts.Paths == nil {
		return nil
	}
	for _, p := range m.paths() {
		if _, err := s.opts.Paths.ResolveFile(p, s.opts.MaxFileSize); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) atlasFor(m *Manifest) (*atlas.Atlas, error) {
	if m.AtlasPath != "" {
		a, err := atlas.LoadFile(m.AtlasPath)
		if err != nil {
			return nil, err
		}
		if m.DocumentType != "" && a.DocumentType != m.DocumentType {
			return nil, fmt.Errorf("%s declares document_type %q, manifest wants %q",
				m.AtlasPath, a.DocumentType, m.DocumentType)
		}
		return a, nil
	}
	if s.opts.Registry == nil {
		return nil, fmt.Errorf("%w: no atlas directory configured for %s", atlas.ErrNotFound, m.DocumentType)
	}
	return s.opts.Registry.Get(m.DocumentType)
}

// observe loads the observed blocks. A Document AI file is returned as well
// so its form fields can be used even when another input supplies geometry.
func observe(m *Manifest, a *atlas.Atlas) (blocks.Pages, *documentaipb.Document, error) {
	scale := m.Scale
	if scale == 0 {
		scale = 1
	}
	var doc *documentaipb.Document
	if m.DocAI != "" {
		d, err := blocks.LoadDocumentAI(m.DocAI)
		if err != nil {
			return nil, nil, err
		}
		doc = d
	}

	switch {
	case m.Blocks != "":
		pages, err := blocks.LoadFile(m.Blocks)
		if err != nil {
			return nil, nil, err
		}
		return pages.Scale(scale), doc, nil
	case m.HOCR != "":
		pages, err := blocks.LoadHOCR(m.HOCR, blocks.HOCROptions{Granularity: m.Granularity, Scale: scale})
		return pages, doc, err
	case doc != nil:
		return blocks.FromDocumentAI(doc, blocks.DocAIOptions{Granularity: m.Granularity, Scale: scale}), doc, nil
	case m.PDF != "":
		pages, err := blocks.FromPDF(m.PDF, a.Resolution())
		return pages, doc, err
	}
	return nil, doc, nil
}
