// Package config loads service configuration into tagged structs. Values are
// layered, later layers winning:
//
//	envDefault struct tags
//	a YAML or JSON file (optional)
//	environment variables
//
// Struct tags:
//
//   - `env:"NAME"` binds a field to an environment variable. On a nested
//     struct field the tag becomes a prefix for the nested fields, so
//     `env:"AUTH"` + `env:"ISSUER"` reads AUTH_ISSUER.
//   - `envDefault:"value"` is applied when the field is still zero.
//   - `required:"true"` fails loading when the field is zero after all layers.
//   - `yaml` / `json` name the field in the config file.
//
// After the layers are applied every struct in the tree, root first and then
// nested sections in field order, that implements [Validator] is validated.
//
//	cfg := config.MustLoad[Config](config.New().WithEnvPrefix("AUTHZ").WithFile(path))
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Loader resolves configuration for one Load call. It is not safe for
// concurrent use.
type Loader struct {
	envPrefix string
	filePath  string
}

// New returns a Loader that reads tag defaults and unprefixed environment
// variables only.
func New() *Loader {
	return &Loader{}
}

// WithEnvPrefix prepends PREFIX_ to every environment variable name. The
// prefix is upper-cased.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile adds a .yaml, .yml or .json file layer. A missing file is not an
// error; a path containing ".." is.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// Load fills cfg, which must be a non-nil pointer to a struct, and validates
// it. Loading failures carry [sserr.CodeInternalConfiguration]; a missing
// required field carries [sserr.CodeValidationRequired]; a failing
// [Validator] is returned unchanged when it is already an *sserr.Error and
// wrapped with [sserr.CodeValidation] otherwise.
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: Load requires a non-nil pointer to a struct")
	}
	if rv.Elem().Kind() != reflect.Struct {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: Load requires a pointer to a struct")
	}
	root := rv.Elem()

	if err := walk(root, "", applyDefault); err != nil {
		return err
	}
	if l.filePath != "" {
		if err := l.loadFile(cfg); err != nil {
			return err
		}
	}
	if err := walk(root, l.envPrefix, applyEnv); err != nil {
		return err
	}
	return validate(root)
}

// MustLoad loads a T or panics. Intended for main.
func MustLoad[T any](loader *Loader) T {
	var cfg T
	if err := loader.Load(&cfg); err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

func (l *Loader) loadFile(cfg any) error {
	if strings.Contains(l.filePath, "..") {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: file path must not contain directory traversal (..) sequences")
	}

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to read file %q", l.filePath)
	}

	var decode func([]byte, any) error
	switch ext := strings.ToLower(filepath.Ext(l.filePath)); ext {
	case ".yaml", ".yml":
		decode = yaml.Unmarshal
	case ".json":
		decode = json.Unmarshal
	default:
		return sserr.Newf(sserr.CodeInternalConfiguration,
			"config: unsupported file extension %q (use .yaml, .yml, or .json)", ext)
	}
	if err := decode(data, cfg); err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to parse file %q", l.filePath)
	}
	return nil
}

// leafFunc is applied to every settable non-struct field. envKey is the
// fully prefixed environment variable name, or "" when the field has no env
// tag.
type leafFunc func(field reflect.Value, sf reflect.StructField, envKey string) error

// walk visits the leaves of a struct tree depth-first. Nested struct fields
// extend the prefix with their own env tag.
func walk(rv reflect.Value, prefix string, fn leafFunc) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field, sf := rv.Field(i), rt.Field(i)
		if !field.CanSet() {
			continue
		}
		tag := sf.Tag.Get("env")

		if isSection(field) {
			if err := walk(field, joinKey(prefix, tag), fn); err != nil {
				return err
			}
			continue
		}

		key := ""
		if tag != "" {
			key = joinKey(prefix, tag)
		}
		if err := fn(field, sf, key); err != nil {
			return err
		}
	}
	return nil
}

func isSection(field reflect.Value) bool {
	return field.Kind() == reflect.Struct && field.Type() != durationType &&
		field.Type() != reflect.TypeOf(time.Time{})
}

func joinKey(prefix, name string) string {
	switch {
	case name == "":
		return prefix
	case prefix == "":
		return name
	default:
		return prefix + "_" + name
	}
}

func applyDefault(field reflect.Value, sf reflect.StructField, _ string) error {
	def, ok := sf.Tag.Lookup("envDefault")
	if !ok || def == "" || !field.IsZero() {
		return nil
	}
	if err := setField(field, def); err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to apply default for field %q", sf.Name)
	}
	return nil
}

func applyEnv(field reflect.Value, sf reflect.StructField, key string) error {
	if key == "" {
		return nil
	}
	val, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	if err := setField(field, val); err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to set field %q from env var %q", sf.Name, key)
	}
	return nil
}

// setField parses value into field. Supported kinds: string and named string
// types, bool, signed integers, time.Duration, float64 and string slices
// (comma separated, whitespace trimmed, named slice types allowed).
func setField(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("cannot parse duration %q: %w", value, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("cannot parse bool %q: %w", value, err)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse integer %q: %w", value, err)
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("cannot parse float %q: %w", value, err)
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element type %s", field.Type().Elem().Kind())
		}
		var parts []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, p := range parts {
			slice.Index(i).SetString(p)
		}
		field.Set(slice)
	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}
