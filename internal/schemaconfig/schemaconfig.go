// Package schemaconfig loads content-type declarations from a YAML
// file into an internal/registry.Registry, so cmd/server and
// cmd/dbsyncctl can stand up a deployment without a Go-level model
// package: operators describe their tables once in config.
package schemaconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vitaliisemenov/dbsync/internal/registry"
)

// File is the top-level shape of a schema YAML file.
type File struct {
	Models []ModelSpec `yaml:"models"`
}

// ModelSpec describes one tracked model.
type ModelSpec struct {
	Name          string        `yaml:"name"`
	Table         string        `yaml:"table"`
	PrimaryKey    string        `yaml:"primary_key"`
	Columns       []ColumnSpec  `yaml:"columns"`
	ForeignKeys   []ForeignSpec `yaml:"foreign_keys,omitempty"`
	UniqueColumns []string      `yaml:"unique_columns,omitempty"`
	Direction     string        `yaml:"direction,omitempty"` // "push", "pull", or empty for both
}

// ColumnSpec describes one column.
type ColumnSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type,omitempty"` // "date","datetime","time","binary","decimal","guid"; default is a plain scalar
}

// ForeignSpec describes one foreign key column.
type ForeignSpec struct {
	Column   string `yaml:"column"`
	RefModel string `yaml:"ref_model"`
}

var columnTypes = map[string]registry.ColumnType{
	"date":     registry.ColumnDate,
	"datetime": registry.ColumnDateTime,
	"time":     registry.ColumnTime,
	"binary":   registry.ColumnBinary,
	"decimal":  registry.ColumnDecimal,
	"guid":     registry.ColumnGUID,
}

// Load parses path and installs every model it describes into reg.
func Load(path string, reg *registry.Registry) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("schemaconfig: read %s: %w", path, err)
	}

	var file File
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("schemaconfig: parse %s: %w", path, err)
	}

	for _, m := range file.Models {
		if m.Name == "" || m.Table == "" || m.PrimaryKey == "" {
			return fmt.Errorf("schemaconfig: model missing name/table/primary_key: %+v", m)
		}

		columns := make([]registry.Column, 0, len(m.Columns))
		for _, c := range m.Columns {
			columns = append(columns, registry.Column{Name: c.Name, Type: columnTypes[c.Type]})
		}

		foreignKeys := make([]registry.ForeignKey, 0, len(m.ForeignKeys))
		for _, fk := range m.ForeignKeys {
			foreignKeys = append(foreignKeys, registry.ForeignKey{Column: fk.Column, RefModel: fk.RefModel})
		}

		schema := registry.Schema{
			Name:          m.Name,
			TableName:     m.Table,
			PrimaryKey:    m.PrimaryKey,
			Columns:       columns,
			ForeignKeys:   foreignKeys,
			UniqueColumns: m.UniqueColumns,
		}

		switch registry.Direction(m.Direction) {
		case registry.DirectionPush:
			reg.Install(schema, registry.DirectionPush)
		case registry.DirectionPull:
			reg.Install(schema, registry.DirectionPull)
		default:
			reg.Install(schema)
		}
	}
	return nil
}
