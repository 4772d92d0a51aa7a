// Package acroform reads interactive form fields from PDF documents with
// pdfcpu. It reports each terminal field with its value and every widget
// rectangle, resolved to the page the widget is drawn on.
package acroform

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"go.uber.org/zap"

	"github.com/a3tai/mcp-form-atlas/internal/geometry"
)

// Kind is the AcroForm field type.
type Kind string

const (
	KindText      Kind = "text"
	KindCheckbox  Kind = "checkbox"
	KindRadio     Kind = "radio"
	KindChoice    Kind = "choice"
	KindButton    Kind = "button"
	KindSignature Kind = "signature"
	KindUnknown   Kind = "unknown"
)

// Field flag bits (PDF 32000-1, 12.7.3.1 and 12.7.4.2.1).
const (
	flagReadOnly   = 1 << 0
	flagRequired   = 1 << 1
	flagRadio      = 1 << 15
	flagPushbutton = 1 << 16
)

// Widget is one on-page appearance of a field in PDF user space.
type Widget struct {
	Page     int             `json:"page"` // 0-indexed
	Rect     types.Rectangle `json:"-"`
	MediaBox types.Rectangle `json:"-"`
}

// PixelRect converts the widget rectangle to top-left origin pixels at dpi.
func (w Widget) PixelRect(dpi float64) geometry.Rect {
	scale := dpi / 72.0
	top := w.MediaBox.UR.Y
	left := w.MediaBox.LL.X
	return geometry.Rect{
		X0: (w.Rect.LL.X - left) * scale,
		Y0: (top - w.Rect.UR.Y) * scale,
		X1: (w.Rect.UR.X - left) * scale,
		Y1: (top - w.Rect.LL.Y) * scale,
	}
}

// Field is a terminal form field.
type Field struct {
	Name     string   `json:"name"`
	Kind     Kind     `json:"kind"`
	Value    string   `json:"value,omitempty"`
	Options  []string `json:"options,omitempty"`
	ReadOnly bool     `json:"read_only,omitempty"`
	Required bool     `json:"required,omitempty"`
	Widgets  []Widget `json:"widgets,omitempty"`
}

// Checked reports whether a checkbox or radio field carries an on state.
func (f Field) Checked() bool {
	if f.Kind != KindCheckbox && f.Kind != KindRadio {
		return false
	}
	return f.Value != "" && !strings.EqualFold(f.Value, "Off")
}

// Reader extracts form fields using pdfcpu.
type Reader struct {
	logger *zap.Logger
}

// NewReader creates a Reader. A nil logger disables logging.
func NewReader(logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{logger: logger}
}

// ReadFile extracts all terminal fields from the PDF at path.
func (r *Reader) ReadFile(path string) ([]Field, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF file: %w", err)
	}
	defer file.Close()

	fields, err := r.Read(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fields, nil
}

// Read extracts all terminal fields from rs.
func (r *Reader) Read(rs io.ReadSeeker) ([]Field, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(rs, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF context: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("failed to ensure page count: %w", err)
	}

	w := &walker{ctx: ctx, logger: r.logger}
	w.indexPages()
	return w.fields()
}

type pageInfo struct {
	index    int
	mediaBox types.Rectangle
}

type walker struct {
	ctx    *model.Context
	logger *zap.Logger
	// object number of a page or widget annotation -> page
	pageByObj   map[int]pageInfo
	annotToPage map[int]pageInfo
	out         []Field
}

func (w *walker) indexPages() {
	w.pageByObj = make(map[int]pageInfo)
	w.annotToPage = make(map[int]pageInfo)

	for i := 1; i <= w.ctx.PageCount; i++ {
		pageDict, pageRef, inherited, err := w.ctx.PageDict(i, false)
		if err != nil || pageDict == nil {
			w.logger.Debug("skipping unreadable page", zap.Int("page", i), zap.Error(err))
			continue
		}

		info := pageInfo{index: i - 1, mediaBox: *types.NewRectangle(0, 0, 612, 792)}
		if inherited != nil && inherited.MediaBox != nil {
			info.mediaBox = *inherited.MediaBox
		}
		if pageRef != nil {
			w.pageByObj[pageRef.ObjectNumber.Value()] = info
		}

		annotsObj, found := pageDict.Find("Annots")
		if !found {
			continue
		}
		annots, err := w.ctx.DereferenceArray(annotsObj)
		if err != nil {
			continue
		}
		for _, a := range annots {
			if ref, ok := a.(types.IndirectRef); ok {
				w.annotToPage[ref.ObjectNumber.Value()] = info
			}
		}
	}
}

func (w *walker) fields() ([]Field, error) {
	rootDict, err := w.ctx.Catalog()
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog: %w", err)
	}

	acroFormObj, found := rootDict.Find("AcroForm")
	if !found {
		w.logger.Debug("no AcroForm dictionary in document")
		return nil, nil
	}
	acroFormDict, err := w.ctx.DereferenceDict(acroFormObj)
	if err != nil {
		return nil, fmt.Errorf("failed to dereference AcroForm: %w", err)
	}
	if acroFormDict == nil {
		return nil, nil
	}

	fieldsObj, found := acroFormDict.Find("Fields")
	if !found {
		return nil, nil
	}
	fieldsArray, err := w.ctx.DereferenceArray(fieldsObj)
	if err != nil {
		return nil, fmt.Errorf("failed to dereference Fields array: %w", err)
	}

	for i, ref := range fieldsArray {
		if err := w.visit(ref, "", inheritable{}, i); err != nil {
			w.logger.Debug("skipping field", zap.Int("index", i), zap.Error(err))
		}
	}
	return w.out, nil
}

// inheritable carries the attributes a child field inherits from its parent.
type inheritable struct {
	ft    string
	flags int
	value types.Object
}

func (w *walker) visit(obj types.Object, parentName string, inh inheritable, index int) error {
	dict, err := w.ctx.DereferenceDict(obj)
	if err != nil {
		return fmt.Errorf("failed to dereference field: %w", err)
	}
	if dict == nil {
		return nil
	}

	name := parentName
	if tObj, found := dict.Find("T"); found {
		if partial, err := w.ctx.DereferenceStringOrHexLiteral(tObj, model.V10, nil); err == nil && partial != "" {
			if name == "" {
				name = partial
			} else {
				name = name + "." + partial
			}
		}
	}
	if name == "" {
		name = fmt.Sprintf("field_%d", index)
	}

	if ftObj, found := dict.Find("FT"); found {
		if ft, err := w.ctx.DereferenceName(ftObj, model.V10, nil); err == nil {
			inh.ft = string(ft)
		}
	}
	if ffObj, found := dict.Find("Ff"); found {
		if ff, err := w.ctx.DereferenceInteger(ffObj); err == nil && ff != nil {
			inh.flags = int(*ff)
		}
	}
	if vObj, found := dict.Find("V"); found {
		inh.value = vObj
	}

	// Kids carrying their own T are child fields; the rest are widgets.
	var widgets []types.Object
	hasWidgetSelf := false
	if _, found := dict.Find("Rect"); found {
		hasWidgetSelf = true
		widgets = append(widgets, obj)
	}
	if kidsObj, found := dict.Find("Kids"); found {
		kids, err := w.ctx.DereferenceArray(kidsObj)
		if err == nil {
			var childFields []types.Object
			for _, kid := range kids {
				kd, err := w.ctx.DereferenceDict(kid)
				if err != nil || kd == nil {
					continue
				}
				if _, isField := kd.Find("T"); isField {
					childFields = append(childFields, kid)
				} else {
					widgets = append(widgets, kid)
				}
			}
			for j, child := range childFields {
				if err := w.visit(child, name, inh, j); err != nil {
					w.logger.Debug("skipping child field", zap.String("parent", name), zap.Error(err))
				}
			}
			if len(childFields) > 0 && len(widgets) == 0 && !hasWidgetSelf {
				return nil
			}
		}
	}

	field := Field{
		Name:     name,
		Kind:     kindOf(inh.ft, inh.flags),
		ReadOnly: inh.flags&flagReadOnly != 0,
		Required: inh.flags&flagRequired != 0,
	}
	if inh.value != nil {
		field.Value = w.value(inh.value, field.Kind)
	}
	if field.Kind == KindChoice || field.Kind == KindRadio {
		field.Options = w.options(dict)
	}
	for _, wo := range widgets {
		if wd, ok := w.widget(wo); ok {
			field.Widgets = append(field.Widgets, wd)
		}
	}

	w.logger.Debug("extracted field", zap.String("field", field.Name), zap.String("kind", string(field.Kind)))
	w.out = append(w.out, field)
	return nil
}

func kindOf(ft string, flags int) Kind {
	switch ft {
	case "Btn":
		switch {
		case flags&flagRadio != 0:
			return KindRadio
		case flags&flagPushbutton != 0:
			return KindButton
		}
		return KindCheckbox
	case "Tx":
		return KindText
	case "Ch":
		return KindChoice
	case "Sig":
		return KindSignature
	default:
		return KindUnknown
	}
}

func (w *walker) value(obj types.Object, kind Kind) string {
	switch kind {
	case KindCheckbox, KindRadio:
		if name, err := w.ctx.DereferenceName(obj, model.V10, nil); err == nil {
			return string(name)
		}
	case KindChoice:
		if s, err := w.ctx.DereferenceStringOrHexLiteral(obj, model.V10, nil); err == nil {
			return s
		}
		if arr, err := w.ctx.DereferenceArray(obj); err == nil {
			var values []string
			for _, item := range arr {
				if s, err := w.ctx.DereferenceStringOrHexLiteral(item, model.V10, nil); err == nil {
					values = append(values, s)
				}
			}
			return strings.Join(values, ", ")
		}
	default:
		if s, err := w.ctx.DereferenceStringOrHexLiteral(obj, model.V10, nil); err == nil {
			return s
		}
	}
	return ""
}

func (w *walker) options(dict types.Dict) []string {
	optObj, found := dict.Find("Opt")
	if !found {
		return nil
	}
	optArray, err := w.ctx.DereferenceArray(optObj)
	if err != nil {
		return nil
	}

	var options []string
	for _, opt := range optArray {
		// Either a text string or an [export display] pair.
		if s, err := w.ctx.DereferenceStringOrHexLiteral(opt, model.V10, nil); err == nil {
			options = append(options, s)
		} else if arr, err := w.ctx.DereferenceArray(opt); err == nil && len(arr) >= 2 {
			if s, err := w.ctx.DereferenceStringOrHexLiteral(arr[1], model.V10, nil); err == nil {
				options = append(options, s)
			}
		}
	}
	return options
}

func (w *walker) widget(obj types.Object) (Widget, bool) {
	dict, err := w.ctx.DereferenceDict(obj)
	if err != nil || dict == nil {
		return Widget{}, false
	}
	rectObj, found := dict.Find("Rect")
	if !found {
		return Widget{}, false
	}
	arr, err := w.ctx.DereferenceArray(rectObj)
	if err != nil || len(arr) != 4 {
		return Widget{}, false
	}
	var c [4]float64
	for i, v := range arr {
		f, err := w.ctx.DereferenceNumber(v)
		if err != nil {
			return Widget{}, false
		}
		c[i] = f
	}

	info, ok := w.pageOf(obj, dict)
	if !ok {
		return Widget{}, false
	}
	return Widget{
		Page:     info.index,
		Rect:     *types.NewRectangle(min(c[0], c[2]), min(c[1], c[3]), max(c[0], c[2]), max(c[1], c[3])),
		MediaBox: info.mediaBox,
	}, true
}

// pageOf resolves the page through the page's Annots array first and the
// widget's /P entry second.
func (w *walker) pageOf(obj types.Object, dict types.Dict) (pageInfo, bool) {
	if ref, ok := obj.(types.IndirectRef); ok {
		if info, ok := w.annotToPage[ref.ObjectNumber.Value()]; ok {
			return info, true
		}
	}
	if pObj, found := dict.Find("P"); found {
		if ref, ok := pObj.(types.IndirectRef); ok {
			if info, ok := w.pageByObj[ref.ObjectNumber.Value()]; ok {
				return info, true
			}
		}
	}
	return pageInfo{}, false
}
