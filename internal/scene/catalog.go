// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package scene

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownScene is returned by Lookup for names not in the catalog.
var ErrUnknownScene = errors.New("unknown scene")

// Objects and nodes of the default catalog.
const (
	VehicleObject      = "Vehicle"
	HelmetObject       = "DamagedHelmet"
	DroneObject        = "BusterDrone"
	DefaultEnvironment = "venetian_crossroads_2k"
	DroneFloorNode     = "Scheibe_Boden_0"
)

// Scene names of the default catalog.
const (
	SceneVehicle     = "vehicle"
	SceneDrone       = "drone"
	SceneHelmet      = "helmet"
	SceneCompass     = "compass"
	DefaultSceneName = SceneVehicle
)

// Format is the container format of a 3D asset.
type Format string

const (
	FormatGLB  Format = "glb"
	FormatGLTF Format = "gltf"
)

// UnmarshalYAML accepts glb or gltf in any case.
func (f *Format) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	switch Format(strings.ToLower(s)) {
	case FormatGLB:
		*f = FormatGLB
	case FormatGLTF:
		*f = FormatGLTF
	default:
		return fmt.Errorf("line %d: unknown asset format %q", node.Line, s)
	}
	return nil
}

// Skybox is the background of a scene. A nil Color means the default or
// environment skybox.
type Skybox struct {
	Color *[4]float32 `yaml:"color,omitempty" json:"color,omitempty"`
}

// Descriptor is an immutable scene description.
type Descriptor struct {
	Name            string     `yaml:"name" json:"name"`
	Object          string     `yaml:"object" json:"object"`
	Format          Format     `yaml:"format" json:"format"`
	Environment     string     `yaml:"environment,omitempty" json:"environment,omitempty"`
	Skybox          Skybox     `yaml:"skybox,omitempty" json:"skybox"`
	Policy          PolicyKind `yaml:"policy" json:"policy"`
	HiddenNodes     []string   `yaml:"hidden_nodes,omitempty" json:"hidden_nodes,omitempty"`
	DisableEmissive bool       `yaml:"disable_emissive,omitempty" json:"disable_emissive,omitempty"`
}

func (d Descriptor) clone() Descriptor {
	if d.Skybox.Color != nil {
		c := *d.Skybox.Color
		d.Skybox.Color = &c
	}
	d.HiddenNodes = append([]string(nil), d.HiddenNodes...)
	return d
}

func (d Descriptor) validate() error {
	if d.Name == "" {
		return errors.New("scene without name")
	}
	if d.Object == "" {
		return fmt.Errorf("scene %s: object is required", d.Name)
	}
	if d.Format != FormatGLB && d.Format != FormatGLTF {
		return fmt.Errorf("scene %s: unknown asset format %q", d.Name, d.Format)
	}
	if _, err := ParsePolicyKind(string(d.Policy)); err != nil {
		return fmt.Errorf("scene %s: %w", d.Name, err)
	}
	return nil
}

// Catalog maps scene names to descriptors. It is not modified after
// construction.
type Catalog struct {
	scenes map[string]Descriptor
}

// NewCatalog validates descs and builds a catalog. Later entries replace
// earlier ones with the same name.
func NewCatalog(descs ...Descriptor) (*Catalog, error) {
	c := &Catalog{scenes: make(map[string]Descriptor, len(descs))}
	for _, d := range descs {
		if err := d.validate(); err != nil {
			return nil, err
		}
		c.scenes[d.Name] = d.clone()
	}
	return c, nil
}

// Lookup returns a copy of the named descriptor.
func (c *Catalog) Lookup(name string) (Descriptor, error) {
	d, ok := c.scenes[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%q: %w", name, ErrUnknownScene)
	}
	return d.clone(), nil
}

// Names returns the scene names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.scenes))
	for n := range c.scenes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Merge returns a new catalog holding c's scenes overridden by descs.
func (c *Catalog) Merge(descs ...Descriptor) (*Catalog, error) {
	all := make([]Descriptor, 0, len(c.scenes)+len(descs))
	for _, n := range c.Names() {
		all = append(all, c.scenes[n])
	}
	return NewCatalog(append(all, descs...)...)
}

// DefaultCatalog holds the built-in scenes.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		Descriptor{
			Name:   SceneVehicle,
			Object: VehicleObject,
			Format: FormatGLB,
			Skybox: Skybox{Color: &[4]float32{0.1, 0.2, 0.4, 1.0}},
			Policy: PolicyStatic,
		},
		Descriptor{
			Name:            SceneDrone,
			Object:          DroneObject,
			Format:          FormatGLTF,
			Environment:     DefaultEnvironment,
			Policy:          PolicyContinuousSpin,
			HiddenNodes:     []string{DroneFloorNode},
			DisableEmissive: true,
		},
		Descriptor{
			Name:        SceneHelmet,
			Object:      HelmetObject,
			Format:      FormatGLB,
			Environment: DefaultEnvironment,
			Policy:      PolicyBoneAnimation,
		},
		Descriptor{
			Name:   SceneCompass,
			Object: VehicleObject,
			Format: FormatGLB,
			Skybox: Skybox{Color: &[4]float32{0.1, 0.2, 0.4, 1.0}},
			Policy: PolicySensorHeading,
		},
	)
	if err != nil {
		panic(err)
	}
	return c
}

type catalogFile struct {
	Scenes []Descriptor `yaml:"scenes"`
}

// ParseCatalog decodes a YAML document with a top-level scenes list.
func ParseCatalog(data []byte) ([]Descriptor, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return f.Scenes, nil
}

// LoadCatalogFile reads descriptors from path and merges them over the
// default catalog.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	descs, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c, err := DefaultCatalog().Merge(descs...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}
