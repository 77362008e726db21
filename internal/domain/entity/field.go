package entity

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

type FieldType string

const (
	FieldSignature FieldType = "signature"
	FieldText      FieldType = "text"
	FieldDate      FieldType = "date"
	FieldCheckbox  FieldType = "checkbox"
)

// FieldKind is the closed set of field variants. Each variant carries only
// what its rendering needs; renderers switch on the concrete type.
type FieldKind interface {
	Type() FieldType
	isFieldKind()
}

type SignatureKind struct{}

type TextKind struct {
	FontSize float64 // zero means the configured default
}

type DateKind struct {
	FontSize float64
	Layout   string // Go reference layout; empty means the configured default
}

type CheckboxKind struct{}

func (SignatureKind) Type() FieldType { return FieldSignature }
func (TextKind) Type() FieldType      { return FieldText }
func (DateKind) Type() FieldType      { return FieldDate }
func (CheckboxKind) Type() FieldType  { return FieldCheckbox }

func (SignatureKind) isFieldKind() {}
func (TextKind) isFieldKind()      {}
func (DateKind) isFieldKind()      {}
func (CheckboxKind) isFieldKind()  {}

// KindFor builds the variant for a stored field type.
func KindFor(t FieldType, fontSize float64, layout string) (FieldKind, error) {
	switch t {
	case FieldSignature:
		return SignatureKind{}, nil
	case FieldText:
		return TextKind{FontSize: fontSize}, nil
	case FieldDate:
		return DateKind{FontSize: fontSize, Layout: layout}, nil
	case FieldCheckbox:
		return CheckboxKind{}, nil
	default:
		return nil, fmt.Errorf("unknown field type %q", t)
	}
}

// FontSizeOf returns the font size carried by text-like kinds.
func FontSizeOf(k FieldKind) float64 {
	switch v := k.(type) {
	case TextKind:
		return v.FontSize
	case DateKind:
		return v.FontSize
	default:
		return 0
	}
}

// LayoutOf returns the date layout of a date kind.
func LayoutOf(k FieldKind) string {
	if v, ok := k.(DateKind); ok {
		return v.Layout
	}
	return ""
}

// SignatureField is a positioned annotation slot bound to exactly one signer.
// Coordinates use a bottom-left origin in PDF points and never change after creation.
type SignatureField struct {
	ID         string
	SignerID   string
	Page       int
	X          float64
	Y          float64
	Width      float64
	Height     float64
	Kind       FieldKind
	Label      string
	Required   bool
	OrderIndex int
	Value      string // Submitted value, set once the signer has signed
}

type fieldJSON struct {
	ID          string    `json:"id"`
	SignerID    string    `json:"signer_id"`
	SignerEmail string    `json:"signer_email,omitempty"`
	Page        int       `json:"page"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Width       float64   `json:"width"`
	Height      float64   `json:"height"`
	FieldType   FieldType `json:"field_type"`
	Label       string    `json:"label,omitempty"`
	Required    bool      `json:"is_required"`
	OrderIndex  int       `json:"order_index"`
	FontSize    float64   `json:"font_size,omitempty"`
	DateLayout  string    `json:"date_layout,omitempty"`
	Value       string    `json:"value,omitempty"`
}

func (f SignatureField) MarshalJSON() ([]byte, error) {
	var t FieldType
	if f.Kind != nil {
		t = f.Kind.Type()
	}
	return json.Marshal(fieldJSON{
		ID:         f.ID,
		SignerID:   f.SignerID,
		Page:       f.Page,
		X:          f.X,
		Y:          f.Y,
		Width:      f.Width,
		Height:     f.Height,
		FieldType:  t,
		Label:      f.Label,
		Required:   f.Required,
		OrderIndex: f.OrderIndex,
		FontSize:   FontSizeOf(f.Kind),
		DateLayout: LayoutOf(f.Kind),
		Value:      f.Value,
	})
}

func (f *SignatureField) UnmarshalJSON(data []byte) error {
	var raw fieldJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	kind, err := KindFor(FieldType(strings.ToLower(string(raw.FieldType))), raw.FontSize, raw.DateLayout)
	if err != nil {
		return err
	}
	*f = SignatureField{
		ID:         raw.ID,
		SignerID:   raw.SignerID,
		Page:       raw.Page,
		X:          raw.X,
		Y:          raw.Y,
		Width:      raw.Width,
		Height:     raw.Height,
		Kind:       kind,
		Label:      raw.Label,
		Required:   raw.Required,
		OrderIndex: raw.OrderIndex,
		Value:      raw.Value,
	}
	return nil
}

// FieldInput is a field placement supplied by the template editor. Signers are
// referenced by id, or by email when fields arrive together with new signers.
type FieldInput struct {
	SignatureField
	SignerEmail string
}

func (f *FieldInput) UnmarshalJSON(data []byte) error {
	if err := f.SignatureField.UnmarshalJSON(data); err != nil {
		return err
	}
	var raw struct {
		SignerEmail string `json:"signer_email"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.SignerEmail = raw.SignerEmail
	return nil
}

// SortFields orders fields deterministically by order_index, then id.
func SortFields(fields []SignatureField) {
	sort.SliceStable(fields, func(i, j int) bool {
		if fields[i].OrderIndex != fields[j].OrderIndex {
			return fields[i].OrderIndex < fields[j].OrderIndex
		}
		return fields[i].ID < fields[j].ID
	})
}

// IsTruthy reports whether a checkbox value means checked.
func IsTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}
