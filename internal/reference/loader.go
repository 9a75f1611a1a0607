package reference

import (
	"bytes"
	_ "embed"
	"fmt"

	"github.com/spf13/viper"

	"github.com/example/medverify/internal/domain"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type catalogFile struct {
	Medicines []domain.ReferenceMedicine `mapstructure:"medicines"`
}

// Default returns the built-in catalog.
func Default() (*Database, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultCatalog)); err != nil {
		return nil, fmt.Errorf("read built-in catalog: %w", err)
	}
	return decode(v)
}

// LoadFile reads a catalog from a YAML, JSON or TOML file; the format follows the
// file extension.
func LoadFile(path string) (*Database, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Database, error) {
	var file catalogFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(file.Medicines) == 0 {
		return nil, domain.ErrEmptyDatabase
	}
	return NewDatabase(file.Medicines)
}
