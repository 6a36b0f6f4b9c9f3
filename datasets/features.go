package datasets

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/apache/arrow/go/v18/arrow"
)

// MetadataKey is the schema metadata key under which Hugging Face stores the
// declared features of a Parquet/Arrow dataset.
const MetadataKey = "huggingface"

// hfMetadata mirrors the parts of the "huggingface" metadata entry we read.
type hfMetadata struct {
	Info struct {
		Features map[string]json.RawMessage `json:"features"`
	} `json:"info"`
}

// hfFeature is a single declared feature. Only Value, ClassLabel and
// Sequence are interpreted; anything else is KindOther.
type hfFeature struct {
	Type       string          `json:"_type"`
	DType      string          `json:"dtype,omitempty"`
	Names      []string        `json:"names,omitempty"`
	NumClasses int             `json:"num_classes,omitempty"`
	Feature    json.RawMessage `json:"feature,omitempty"`
}

// FeatureFromArrow derives a feature from the Arrow type alone.
func FeatureFromArrow(f arrow.Field) Feature {
	feat := Feature{Name: f.Name, Kind: KindOther, DType: dtypeName(f.Type)}
	switch f.Type.ID() {
	case arrow.STRING, arrow.LARGE_STRING, arrow.STRING_VIEW:
		feat.Kind = KindString
	}
	return feat
}

func dtypeName(dt arrow.DataType) string {
	switch t := dt.(type) {
	case *arrow.ListType:
		return "list<" + dtypeName(t.Elem()) + ">"
	case *arrow.LargeListType:
		return "list<" + dtypeName(t.Elem()) + ">"
	}
	switch dt.ID() {
	case arrow.STRING, arrow.STRING_VIEW:
		return "string"
	case arrow.LARGE_STRING:
		return "large_string"
	case arrow.BOOL:
		return "bool"
	}
	return dt.Name()
}

// ParseFeatureMetadata decodes the "huggingface" metadata value into raw
// per-column feature declarations.
func ParseFeatureMetadata(value string) (map[string]json.RawMessage, error) {
	var md hfMetadata
	if err := json.Unmarshal([]byte(value), &md); err != nil {
		return nil, fmt.Errorf("failed to decode %s metadata: %w", MetadataKey, err)
	}
	return md.Info.Features, nil
}

// ParseDatasetInfo decodes a dataset_info.json document. Both the flat form
// ({"features": ...}) and the per-config form ({"<config>": {"features": ...}})
// are accepted; with several configs the one named config wins.
func ParseDatasetInfo(data []byte, config string) (map[string]json.RawMessage, error) {
	var flat struct {
		Features map[string]json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("failed to decode dataset info: %w", err)
	}
	if flat.Features != nil {
		return flat.Features, nil
	}

	var configs map[string]struct {
		Features map[string]json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("failed to decode dataset info: %w", err)
	}
	if c, ok := configs[config]; ok {
		return c.Features, nil
	}
	if len(configs) == 1 {
		for _, c := range configs {
			return c.Features, nil
		}
	}
	return nil, nil
}

// ResolveFeatures builds the features of a schema, preferring declared
// features over the Arrow types.
func ResolveFeatures(schema *arrow.Schema, declared map[string]json.RawMessage) []Feature {
	fields := schema.Fields()
	out := make([]Feature, len(fields))
	for i, f := range fields {
		out[i] = FeatureFromArrow(f)
		raw, ok := declared[f.Name]
		if !ok {
			continue
		}
		if feat, ok := decodeFeature(f.Name, raw); ok {
			out[i] = feat
		}
	}
	return out
}

// FeaturesFromSchemaMetadata resolves features using the "huggingface"
// metadata stored on the schema, if any.
func FeaturesFromSchemaMetadata(schema *arrow.Schema) []Feature {
	md := schema.Metadata()
	idx := md.FindKey(MetadataKey)
	if idx < 0 {
		return ResolveFeatures(schema, nil)
	}
	declared, err := ParseFeatureMetadata(md.Values()[idx])
	if err != nil {
		return ResolveFeatures(schema, nil)
	}
	return ResolveFeatures(schema, declared)
}

func decodeFeature(name string, raw json.RawMessage) (Feature, bool) {
	var hf hfFeature
	if err := json.Unmarshal(raw, &hf); err != nil {
		// Lists of features and nested dicts are not plain objects.
		return Feature{Name: name, Kind: KindOther, DType: "nested"}, true
	}
	switch hf.Type {
	case "Value":
		kind := KindOther
		if hf.DType == "string" || hf.DType == "large_string" {
			kind = KindString
		}
		return Feature{Name: name, Kind: kind, DType: hf.DType}, true
	case "ClassLabel":
		n := max(hf.NumClasses, len(hf.Names))
		return Feature{Name: name, Kind: KindClassLabel, DType: "int64", Names: hf.Names, NumClasses: n}, true
	case "Sequence":
		elem := "unknown"
		if inner, ok := decodeFeature(name, hf.Feature); ok && inner.DType != "" {
			elem = inner.DType
		}
		return Feature{Name: name, Kind: KindOther, DType: "list<" + elem + ">"}, true
	case "":
		return Feature{}, false
	}
	return Feature{Name: name, Kind: KindOther, DType: strings.ToLower(hf.Type)}, true
}

func encodeFeature(f Feature) hfFeature {
	switch f.Kind {
	case KindString:
		dtype := f.DType
		if dtype == "" {
			dtype = "string"
		}
		return hfFeature{Type: "Value", DType: dtype}
	case KindClassLabel:
		return hfFeature{Type: "ClassLabel", Names: f.Names, NumClasses: f.NumClasses}
	}
	if elem, ok := strings.CutPrefix(f.DType, "list<"); ok {
		inner, _ := json.Marshal(hfFeature{Type: "Value", DType: strings.TrimSuffix(elem, ">")})
		return hfFeature{Type: "Sequence", Feature: inner}
	}
	return hfFeature{Type: "Value", DType: f.DType}
}

// EncodeFeatureMetadata renders features as a "huggingface" metadata value.
func EncodeFeatureMetadata(features []Feature) (string, error) {
	declared := make(map[string]hfFeature, len(features))
	for _, f := range features {
		declared[f.Name] = encodeFeature(f)
	}
	doc := map[string]any{"info": map[string]any{"features": declared}}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s metadata: %w", MetadataKey, err)
	}
	return string(b), nil
}
