package tools

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed versions.yaml
var embeddedVersions []byte

// Versions pins the tool releases staged into the image.
type Versions struct {
	Containerd string `yaml:"containerd"`
	Runc       string `yaml:"runc"`
	Nerdctl    string `yaml:"nerdctl"`
	CNIPlugins string `yaml:"cni_plugins"`
}

// LoadVersions returns the pinned versions, from the override file when
// path is non-empty and from the embedded manifest otherwise.
func LoadVersions(path string) (Versions, error) {
	data := embeddedVersions
	if path != "" {
		fileData, err := os.ReadFile(path)
		if err != nil {
			return Versions{}, fmt.Errorf("read tool versions %s: %w", path, err)
		}
		data = fileData
	}

	var v Versions
	if err := yaml.Unmarshal(data, &v); err != nil {
		return Versions{}, fmt.Errorf("parse tool versions: %w", err)
	}

	for name, value := range map[string]string{
		"containerd":  v.Containerd,
		"runc":        v.Runc,
		"nerdctl":     v.Nerdctl,
		"cni_plugins": v.CNIPlugins,
	} {
		if value == "" {
			return Versions{}, fmt.Errorf("tool versions: %s is not pinned", name)
		}
	}

	return v, nil
}
