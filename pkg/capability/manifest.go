package capability

import (
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// Manifest is the optional CBOR-encoded on-device document describing
// which properties, tweaks, and backup regions are compiled into this
// build. Its absence or corruption means "no restriction beyond the
// compiled-in table", never a fatal session error.
type Manifest struct {
	Properties    []string `cbor:"1,keyasint"`
	Tweaks        []string `cbor:"2,keyasint"`
	BackupRegions []string `cbor:"3,keyasint"`
}

// LoadManifest reads and decodes a manifest file. A missing file
// returns a nil, nil Manifest rather than an error.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "manifest: read")
	}

	var m Manifest
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "manifest: decode")
	}
	return &m, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// FilterProperties drops entries the manifest does not list. A nil
// manifest is a no-op.
func (m *Manifest) FilterProperties(props []Property) []Property {
	if m == nil {
		return props
	}
	out := props[:0]
	for _, p := range props {
		if contains(m.Properties, p.ID().String()) {
			out = append(out, p)
		}
	}
	return out
}

// FilterTweaks drops entries the manifest does not list. A nil
// manifest is a no-op.
func (m *Manifest) FilterTweaks(tweaks []Tweak) []Tweak {
	if m == nil {
		return tweaks
	}
	out := tweaks[:0]
	for _, tw := range tweaks {
		if contains(m.Tweaks, tw.ID().String()) {
			out = append(out, tw)
		}
	}
	return out
}
