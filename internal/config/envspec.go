package config

import "reflect"

type EnvVar struct {
	Name        string // short name under the BANCO_ prefix (e.g., "DATADIR")
	FullName    string // e.g., "BANCO_DATADIR"
	Type        string // human-readable type
	Default     string // default value as a string ("" if none)
	Description string // one-liner for docs
}

// EnvSpecs derives the documented environment surface from the Config struct
// tags, so docs can never drift from the variables that are actually bound.
func EnvSpecs() []EnvVar {
	const prefix = "BANCO_"

	t := reflect.TypeOf(Config{})
	specs := make([]EnvVar, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Tag.Get("mapstructure")
		specs = append(specs, EnvVar{
			Name:        name,
			FullName:    prefix + name,
			Type:        f.Type.String(),
			Default:     f.Tag.Get("envDefault"),
			Description: f.Tag.Get("envInfo"),
		})
	}
	return specs
}

//go:generate go run ../../tools/gen-env-doc/main.go
