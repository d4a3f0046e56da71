package discovery

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/contact-intel/internal/model"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Catalog lists the profile features the discovery engine mines and the
// candidate thresholds it tests. The embedded default covers the standard
// feature set; deployments can override it with a YAML file.
type Catalog struct {
	NumericFields     []NumericFieldSpec `yaml:"numeric_fields"`
	CountFields       []CountFieldSpec   `yaml:"count_fields"`
	CategoricalFields []string           `yaml:"categorical_fields"`
}

// NumericFieldSpec is one numeric feature with its candidate thresholds.
type NumericFieldSpec struct {
	Field      string    `yaml:"field"`
	Op         string    `yaml:"op"` // defaults to gte
	Thresholds []float64 `yaml:"thresholds"`
}

// CountFieldSpec is one count feature with its candidate thresholds.
type CountFieldSpec struct {
	Field      string `yaml:"field"`
	Op         string `yaml:"op"` // defaults to gte
	Thresholds []int  `yaml:"thresholds"`
}

// DefaultCatalog returns the embedded field catalog.
func DefaultCatalog() (*Catalog, error) {
	return parseCatalog(defaultCatalogYAML)
}

// LoadCatalog reads a field catalog from a YAML file. An empty path returns
// the embedded default.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: read catalog %s", path)
	}
	return parseCatalog(data)
}

func parseCatalog(data []byte) (*Catalog, error) {
	var wrapper struct {
		Catalog Catalog `yaml:"catalog"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "discovery: parse catalog")
	}

	cat := &wrapper.Catalog
	for i := range cat.NumericFields {
		if cat.NumericFields[i].Op == "" {
			cat.NumericFields[i].Op = string(model.OpGTE)
		}
	}
	for i := range cat.CountFields {
		if cat.CountFields[i].Op == "" {
			cat.CountFields[i].Op = string(model.OpGTE)
		}
	}
	return cat, nil
}
