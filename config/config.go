// Package config reads pipeline files: the input, the chain of user-defined operators,
// and the storage and runtime settings they run with.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/cube2222/udfbridge/runtime"
	"github.com/cube2222/udfbridge/schema"
)

const RuntimeRootEnv = "UDFBRIDGE_RUNTIME_ROOT"

var CacheDir = func() string {
	dir, err := homedir.Dir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".udfbridge")
	}
	return filepath.Join(dir, ".udfbridge")
}()

type FieldConfig struct {
	Name     string `yaml:"name" validate:"required" jsonschema:"required"`
	Type     string `yaml:"type" validate:"required" jsonschema:"required" jsonschema_description:"int, float, boolean, string, time, binary, large_binary or list<T>"`
	Nullable bool   `yaml:"nullable"`
}

type OperatorConfig struct {
	Name     string `yaml:"name" validate:"required" jsonschema:"required"`
	Language string `yaml:"language" validate:"required" jsonschema:"required,enum=starlark,enum=wasm"`
	API      string `yaml:"api" jsonschema:"enum=tuple,enum=table"`
	Source   bool   `yaml:"source"`
	// Either File or Code has to be set. File is relative to the pipeline file.
	File         string        `yaml:"file" validate:"excluded_with=Code"`
	Code         string        `yaml:"code" validate:"required_without=File"`
	OutputSchema []FieldConfig `yaml:"outputSchema" validate:"dive"`
	BatchSize    int           `yaml:"batchSize" validate:"gte=0"`
}

type InputConfig struct {
	Path string `yaml:"path" validate:"required" jsonschema:"required"`
	// Format is jsonlines or parquet, by default it's chosen by the file extension.
	Format string        `yaml:"format" jsonschema:"enum=jsonlines,enum=json,enum=jsonl,enum=parquet"`
	Schema []FieldConfig `yaml:"schema" validate:"dive"`
}

type Config struct {
	Input       *InputConfig           `yaml:"input"`
	Operators   []OperatorConfig       `yaml:"operators" validate:"required,min=1,dive" jsonschema:"required,minItems=1"`
	RuntimeRoot string                 `yaml:"runtimeRoot"`
	Storage     map[string]interface{} `yaml:"storage"`

	// dir is the directory of the pipeline file, relative paths are resolved against it.
	dir string
}

var validate = func() *validator.Validate {
	v := validator.New()
	// Report fields by their names in the pipeline file.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

func validationError(err error) error {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return errors.Wrap(err, "couldn't validate pipeline file")
	}
	problems := make([]string, len(fieldErrors))
	for i, fieldErr := range fieldErrors {
		field := fieldErr.Namespace()
		if dot := strings.Index(field, "."); dot != -1 {
			field = field[dot+1:]
		}
		problems[i] = fmt.Sprintf("%s (%s)", field, constraint(fieldErr))
	}
	return errors.Errorf("invalid pipeline file: %s", strings.Join(problems, ", "))
}

func constraint(fieldErr validator.FieldError) string {
	switch fieldErr.Tag() {
	case "required":
		return "required"
	case "required_without":
		return "one of file and code is required"
	case "excluded_with":
		return "only one of file and code can be set"
	}
	if fieldErr.Param() != "" {
		return fieldErr.Tag() + "=" + fieldErr.Param()
	}
	return fieldErr.Tag()
}

func ReadConfig(path string) (*Config, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't expand path")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't open file")
	}
	defer f.Close()

	var config Config
	if err := yaml.NewDecoder(f).Decode(&config); err != nil {
		return nil, errors.Wrap(err, "couldn't decode yaml configuration")
	}
	if err := validate.Struct(&config); err != nil {
		return nil, validationError(err)
	}
	config.dir = filepath.Dir(path)

	return &config, nil
}

func (config *Config) resolve(path string) (string, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return "", errors.Wrapf(err, "couldn't expand path '%s'", path)
	}
	if filepath.IsAbs(path) {
		return path, nil
	}
	return filepath.Join(config.dir, path), nil
}

// InputPath is the resolved path of the input file, empty if the pipeline starts with a source operator.
func (config *Config) InputPath() (string, error) {
	if config.Input == nil || config.Input.Path == "" {
		return "", nil
	}
	return config.resolve(config.Input.Path)
}

const (
	FormatJSONLines = "jsonlines"
	FormatParquet   = "parquet"
)

// InputFormat is the format of the input file, empty if there's no input file.
func (config *Config) InputFormat() (string, error) {
	if config.Input == nil || config.Input.Path == "" {
		return "", nil
	}
	switch strings.ToLower(config.Input.Format) {
	case FormatJSONLines, "json", "jsonl":
		return FormatJSONLines, nil
	case FormatParquet:
		return FormatParquet, nil
	case "":
		if strings.EqualFold(filepath.Ext(config.Input.Path), ".parquet") {
			return FormatParquet, nil
		}
		return FormatJSONLines, nil
	}
	return "", errors.Errorf("invalid input format '%s', must be one of: jsonlines, parquet", config.Input.Format)
}

// InputSchema is the declared schema of the input file, nil if it should be inferred.
func (config *Config) InputSchema() (*schema.Schema, error) {
	if config.Input == nil || len(config.Input.Schema) == 0 {
		return nil, nil
	}
	return parseSchema(config.Input.Schema)
}

// RuntimeRootDir is where foreign code may load its modules from.
// The environment variable takes precedence, then the pipeline file, then the pipeline file's directory.
func (config *Config) RuntimeRootDir() (string, error) {
	if root := os.Getenv(RuntimeRootEnv); root != "" {
		return homedir.Expand(root)
	}
	if config.RuntimeRoot != "" {
		return config.resolve(config.RuntimeRoot)
	}
	return config.dir, nil
}

// OperatorSpecs reads the code of every operator.
func (config *Config) OperatorSpecs() ([]runtime.OperatorSpec, error) {
	specs := make([]runtime.OperatorSpec, len(config.Operators))
	for i, op := range config.Operators {
		spec, err := config.operatorSpec(op)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid operator %d '%s'", i, op.Name)
		}
		specs[i] = spec
	}
	return specs, nil
}

func (config *Config) operatorSpec(op OperatorConfig) (runtime.OperatorSpec, error) {
	api, err := runtime.ParseAPI(op.API)
	if err != nil {
		return runtime.OperatorSpec{}, err
	}
	spec := runtime.OperatorSpec{
		Name:      op.Name,
		Language:  op.Language,
		API:       api,
		Source:    op.Source,
		BatchSize: op.BatchSize,
	}
	switch {
	case op.File != "" && op.Code != "":
		return runtime.OperatorSpec{}, errors.New("only one of file and code can be set")
	case op.File != "":
		path, err := config.resolve(op.File)
		if err != nil {
			return runtime.OperatorSpec{}, err
		}
		code, err := os.ReadFile(path)
		if err != nil {
			return runtime.OperatorSpec{}, errors.Wrap(err, "couldn't read operator code")
		}
		spec.Code = code
		spec.CodeName = op.File
	case op.Code != "":
		spec.Code = []byte(op.Code)
	default:
		return runtime.OperatorSpec{}, errors.New("one of file and code is required")
	}

	if len(op.OutputSchema) > 0 {
		s, err := parseSchema(op.OutputSchema)
		if err != nil {
			return runtime.OperatorSpec{}, errors.Wrap(err, "invalid output schema")
		}
		spec.OutputSchema = s
	}
	return spec, nil
}

func parseSchema(fields []FieldConfig) (*schema.Schema, error) {
	out := make([]schema.Field, len(fields))
	for i, field := range fields {
		t, err := schema.ParseType(field.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "field '%s'", field.Name)
		}
		out[i] = schema.Field{
			Name:     field.Name,
			Type:     t,
			Nullable: field.Nullable,
		}
	}
	return schema.NewSchema(out...)
}
