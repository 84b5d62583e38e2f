// Package geojson checks uploaded geospatial layers during a pipeline run. A
// layer that fails the check ends up failed but is still named in equity-risk
// context, which lists every geospatial file of a project.
package geojson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/paulmach/orb/geojson"

	"github.com/kirillkom/equity-lens/internal/core/domain"
	"github.com/kirillkom/equity-lens/internal/core/ports"
)

const defaultMaxBytes = 64 << 20

type Validator struct {
	storage  ports.ObjectStorage
	maxBytes int64
}

func NewValidator(storage ports.ObjectStorage, maxBytes int64) *Validator {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Validator{storage: storage, maxBytes: maxBytes}
}

func (v *Validator) Validate(ctx context.Context, file *domain.File) error {
	if file == nil {
		return domain.WrapError(domain.ErrValidationFailed, "validate geojson", errors.New("file is nil"))
	}
	reader, err := v.storage.Open(ctx, file.StorageKey)
	if err != nil {
		return fmt.Errorf("open geojson: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(io.LimitReader(reader, v.maxBytes+1))
	if err != nil {
		return fmt.Errorf("read geojson: %w", err)
	}
	if int64(len(raw)) > v.maxBytes {
		return domain.WrapError(domain.ErrValidationFailed, "validate geojson", fmt.Errorf("%s exceeds %d bytes", file.Name, v.maxBytes))
	}
	if err := check(raw); err != nil {
		return domain.WrapError(domain.ErrValidationFailed, "validate geojson", fmt.Errorf("%s: %w", file.Name, err))
	}
	return nil
}

// members carries the top-level members orb tolerates being absent.
type members struct {
	Type        string          `json:"type"`
	Features    json.RawMessage `json:"features"`
	Geometry    json.RawMessage `json:"geometry"`
	Geometries  json.RawMessage `json:"geometries"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Check accepts a FeatureCollection, a Feature or a bare geometry. Decoding is
// delegated to orb, so coordinates must be numeric positions of the right depth.
func Check(raw []byte) error {
	if err := check(raw); err != nil {
		return domain.WrapError(domain.ErrValidationFailed, "check geojson", err)
	}
	return nil
}

func check(raw []byte) error {
	var root members
	if err := json.Unmarshal(raw, &root); err != nil {
		return fmt.Errorf("not a json object: %w", err)
	}

	switch root.Type {
	case "FeatureCollection":
		if !isArray(root.Features) {
			return errors.New("FeatureCollection without features array")
		}
		if _, err := geojson.UnmarshalFeatureCollection(raw); err != nil {
			return err
		}
		return nil
	case "Feature":
		if len(root.Geometry) == 0 {
			return errors.New("feature without geometry member")
		}
		if _, err := geojson.UnmarshalFeature(raw); err != nil {
			return err
		}
		return nil
	case "":
		return errors.New("missing type member")
	case "GeometryCollection":
		if !isArray(root.Geometries) {
			return errors.New("GeometryCollection without geometries array")
		}
	default:
		if !isArray(root.Coordinates) {
			return fmt.Errorf("%s without coordinates array", root.Type)
		}
	}
	if _, err := geojson.UnmarshalGeometry(raw); err != nil {
		return err
	}
	return nil
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}
