// Package config loads training configuration and reads/writes the
// configuration artifact that accompanies an exported forest.
package config

import (
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/YuminosukeSato/microforest/pkg/errors"
	"github.com/YuminosukeSato/microforest/pkg/log"
)

// EnvPrefix prefixes environment overrides, e.g. MICROFOREST_FOREST_NUM_TREES.
const EnvPrefix = "MICROFOREST"

// Config is the full training configuration.
type Config struct {
	Data    DataConfig    `mapstructure:"data"    yaml:"data"`
	Forest  ForestConfig  `mapstructure:"forest"  yaml:"forest"`
	Search  SearchConfig  `mapstructure:"search"  yaml:"search"`
	Output  OutputConfig  `mapstructure:"output"  yaml:"output"`
	Log     log.Config    `mapstructure:"log"     yaml:"log"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// DataConfig locates the input and controls the pool split.
type DataConfig struct {
	// Path is a binary dataset file; CSV is converted to Path when set.
	Path       string  `mapstructure:"path"        yaml:"path"        validate:"required"`
	CSV        string  `mapstructure:"csv"         yaml:"csv"`
	// Raw marks CSV as unquantized: string labels and float features that a
	// quantizer fitted on the train split turns into bins.
	Raw        bool    `mapstructure:"raw"         yaml:"raw"`
	// Quantizer is a file written by convert --raw. It is copied into the
	// artifact when Path was produced that way.
	Quantizer  string  `mapstructure:"quantizer"   yaml:"quantizer"`
	Features   int     `mapstructure:"features"    yaml:"features"    validate:"gte=0,lte=65535"`
	Bits       int     `mapstructure:"bits"        yaml:"bits"        validate:"min=1,max=8"`
	TrainRatio float64 `mapstructure:"train_ratio" yaml:"train_ratio" validate:"gt=0,lte=1"`
	TestRatio  float64 `mapstructure:"test_ratio"  yaml:"test_ratio"  validate:"gte=0,lt=1"`
	ValidRatio float64 `mapstructure:"valid_ratio" yaml:"valid_ratio" validate:"gte=0,lt=1"`
}

// ForestConfig holds the parameters fixed for a whole search.
type ForestConfig struct {
	NumTrees          int     `mapstructure:"num_trees"          yaml:"num_trees"          validate:"min=1,max=255"`
	Criterion         string  `mapstructure:"criterion"          yaml:"criterion"          validate:"oneof=gini entropy"`
	Bootstrap         bool    `mapstructure:"bootstrap"          yaml:"bootstrap"`
	BootstrapRatio    float64 `mapstructure:"bootstrap_ratio"    yaml:"bootstrap_ratio"    validate:"gt=0,lte=1"`
	ImpurityThreshold float64 `mapstructure:"impurity_threshold" yaml:"impurity_threshold" validate:"gte=0"`
	NodeBudget        int     `mapstructure:"node_budget"        yaml:"node_budget"        validate:"min=1"`
	MaxFeatures       int     `mapstructure:"max_features"       yaml:"max_features"       validate:"gte=0"`
	MemoryBudgetMB    int64   `mapstructure:"memory_budget_mb"   yaml:"memory_budget_mb"   validate:"gte=0"`
	Seed              uint64  `mapstructure:"seed"               yaml:"seed"`
}

// SearchConfig is the hyperparameter grid and how points are scored.
type SearchConfig struct {
	MinSplit   []int   `mapstructure:"min_split"  yaml:"min_split"  validate:"required,min=1,dive,min=2"`
	MinLeaf    []int   `mapstructure:"min_leaf"   yaml:"min_leaf"   validate:"required,min=1,dive,min=1"`
	MaxDepth   []int   `mapstructure:"max_depth"  yaml:"max_depth"  validate:"required,min=1,dive,min=1,max=64"`
	Evaluation string  `mapstructure:"evaluation" yaml:"evaluation" validate:"oneof=oob validation kfold"`
	KFolds     int     `mapstructure:"k_folds"    yaml:"k_folds"    validate:"min=2"`
	Consensus  float64 `mapstructure:"consensus"  yaml:"consensus"  validate:"gte=0,lte=1"`
	Metric     int     `mapstructure:"metric"     yaml:"metric"     validate:"min=0,max=15"`
}

// OutputConfig names the training outputs.
type OutputConfig struct {
	Dir    string `mapstructure:"dir"     yaml:"dir"     validate:"required"`
	Plot   string `mapstructure:"plot"    yaml:"plot"`
	BagsDB string `mapstructure:"bags_db" yaml:"bags_db"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data.path", "data/dataset.bin")
	v.SetDefault("data.csv", "")
	v.SetDefault("data.raw", false)
	v.SetDefault("data.quantizer", "")
	v.SetDefault("data.features", 0)
	v.SetDefault("data.bits", 2)
	v.SetDefault("data.train_ratio", 0.7)
	v.SetDefault("data.test_ratio", 0.15)
	v.SetDefault("data.valid_ratio", 0.15)

	v.SetDefault("forest.num_trees", 20)
	v.SetDefault("forest.criterion", "gini")
	v.SetDefault("forest.bootstrap", true)
	v.SetDefault("forest.bootstrap_ratio", 0.632)
	v.SetDefault("forest.impurity_threshold", 0.1)
	v.SetDefault("forest.node_budget", 2047)
	v.SetDefault("forest.max_features", 0)
	v.SetDefault("forest.memory_budget_mb", 0)
	v.SetDefault("forest.seed", 37)

	v.SetDefault("search.min_split", []int{2})
	v.SetDefault("search.min_leaf", []int{1})
	v.SetDefault("search.max_depth", []int{8})
	v.SetDefault("search.evaluation", "oob")
	v.SetDefault("search.k_folds", 4)
	v.SetDefault("search.consensus", 0.125)
	v.SetDefault("search.metric", 1)

	v.SetDefault("output.dir", "model")
	v.SetDefault("output.plot", "")
	v.SetDefault("output.bags_db", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)

	v.SetDefault("metrics.addr", "")
}

// Load reads path (YAML or JSON by extension) over the defaults, applies
// MICROFOREST_* environment overrides and validates the result. An empty
// path uses defaults and the environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.NewIOError("read config", path, err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		d := sl.Current().Interface().(DataConfig)
		if math.Abs(d.TrainRatio+d.TestRatio+d.ValidRatio-1) > 1e-6 {
			sl.ReportError(d.TrainRatio, "train_ratio", "TrainRatio", "ratio_sum", "")
		}
		if d.Raw && (d.CSV == "" || d.Quantizer != "") {
			sl.ReportError(d.Raw, "raw", "Raw", "raw_csv", "")
		}
	}, DataConfig{})
	return v
}

// Validate checks field ranges and that the split ratios sum to 1.
// The first violation is returned as a ValidationError.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return errors.NewValidationError(fe.Namespace(), "failed '"+fe.Tag()+"' check", fe.Value())
		}
		return errors.Wrap(err, "validate config")
	}
	return nil
}
