package geojson

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/kirillkom/equity-lens/internal/core/domain"
)

type storageFake map[string][]byte

func (s storageFake) Save(context.Context, string, io.Reader) error { return nil }

func (s storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s[key])), nil
}

func TestCheckAcceptsTopLevelTypes(t *testing.T) {
	valid := map[string]string{
		"collection": `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"zone":"AE"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}}]}`,
		"empty":      `{"type":"FeatureCollection","features":[]}`,
		"feature":    `{"type":"Feature","geometry":null,"properties":{}}`,
		"geometry":   `{"type":"Point","coordinates":[-122.3,47.6]}`,
		"nested":     `{"type":"GeometryCollection","geometries":[{"type":"LineString","coordinates":[[0,0],[1,1]]}]}`,
	}
	for name, raw := range valid {
		if err := Check([]byte(raw)); err != nil {
			t.Fatalf("%s: unexpected error %v", name, err)
		}
	}
}

func TestCheckRejectsMalformedLayers(t *testing.T) {
	invalid := map[string]string{
		"not json":          `zone,geometry`,
		"no type":           `{"features":[]}`,
		"no features":       `{"type":"FeatureCollection"}`,
		"bad feature":       `{"type":"FeatureCollection","features":[{"type":"Point"}]}`,
		"missing geometry":  `{"type":"Feature","properties":{}}`,
		"unknown geometry":  `{"type":"Circle","coordinates":[0,0]}`,
		"no coordinates":    `{"type":"Polygon"}`,
		"string position":   `{"type":"Point","coordinates":["x"]}`,
		"flat polygon":      `{"type":"Polygon","coordinates":[0,0]}`,
		"bad feature point": `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":["x","y"]}}]}`,
	}
	for name, raw := range invalid {
		t.Run(name, func(t *testing.T) {
			if err := Check([]byte(raw)); !domain.IsKind(err, domain.ErrValidationFailed) {
				t.Fatalf("expected ErrValidationFailed for %s, got %v", raw, err)
			}
		})
	}
}

func TestValidateWrapsValidationFailure(t *testing.T) {
	v := NewValidator(storageFake{"p1/zones.geojson": []byte(`{"type":"Feature"}`)}, 0)

	err := v.Validate(context.Background(), &domain.File{Name: "zones.geojson", StorageKey: "p1/zones.geojson"})
	if !domain.IsKind(err, domain.ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
}

func TestValidateEnforcesSizeLimit(t *testing.T) {
	v := NewValidator(storageFake{"p1/big.geojson": []byte(`{"type":"FeatureCollection","features":[]}`)}, 8)

	err := v.Validate(context.Background(), &domain.File{Name: "big.geojson", StorageKey: "p1/big.geojson"})
	if !domain.IsKind(err, domain.ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
}
