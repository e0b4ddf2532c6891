package models

// Layer is a thematic data layer that can be activated on the map
type Layer struct {
	Name           string `json:"name" yaml:"name"`
	Title          string `json:"title" yaml:"title"`
	Description    string `json:"description,omitempty" yaml:"description,omitempty"`
	TagKey         string `json:"tagKey" yaml:"tagKey"`
	MeasuresLength bool   `json:"measuresLength" yaml:"measuresLength"`
}

// DefaultLayers is the built-in layer catalogue
func DefaultLayers() []Layer {
	return []Layer{
		{Name: "buildings", Title: "Buildings", Description: "Building outlines", TagKey: "building"},
		{Name: "highways", Title: "Roads", Description: "Road network", TagKey: "highway", MeasuresLength: true},
		{Name: "waterways", Title: "Rivers", Description: "Rivers and streams", TagKey: "waterway", MeasuresLength: true},
		{Name: "pois", Title: "Points of Interest", Description: "Amenities and shops", TagKey: "amenity"},
	}
}

// LayerCatalogue resolves layer names to definitions
type LayerCatalogue struct {
	layers []Layer
	byName map[string]Layer
}

// NewLayerCatalogue builds a catalogue from the given definitions
func NewLayerCatalogue(layers []Layer) *LayerCatalogue {
	c := &LayerCatalogue{
		layers: make([]Layer, len(layers)),
		byName: make(map[string]Layer, len(layers)),
	}
	copy(c.layers, layers)
	for _, l := range layers {
		c.byName[l.Name] = l
	}
	return c
}

// Lookup returns the layer with the given name
func (c *LayerCatalogue) Lookup(name string) (Layer, bool) {
	l, ok := c.byName[name]
	return l, ok
}

// All returns a copy of the catalogue in declaration order
func (c *LayerCatalogue) All() []Layer {
	out := make([]Layer, len(c.layers))
	copy(out, c.layers)
	return out
}
