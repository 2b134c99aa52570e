package log

// Run and component context.
const (
	// ModelNameKey identifies the estimator type, e.g. "RandomForestClassifier".
	ModelNameKey = "model.name"

	// RunIDKey identifies a single training run (uuid).
	RunIDKey = "run.id"

	// ComponentKey is set by GetLoggerWithName.
	ComponentKey = "component"

	// OperationKey is the operation in progress: "fit", "predict", "load", "release".
	OperationKey = "ml.operation"

	// PhaseKey is "training", "validation", "inference".
	PhaseKey = "ml.phase"
)

// Data shape.
const (
	SamplesKey  = "data.samples"
	FeaturesKey = "data.features"
	LabelsKey   = "data.labels"
	BitsKey     = "data.bits"
	PathKey     = "data.path"
	RejectedKey = "data.rejected"
)

// Tree and forest construction.
const (
	TreeIndexKey    = "tree.index"
	NodesKey        = "tree.nodes"
	LeavesKey       = "tree.leaves"
	DepthKey        = "tree.depth"
	PeakQueueKey    = "tree.peak_queue"
	ForcedLeavesKey = "tree.forced_leaves"
	NonceKey        = "bag.nonce"
	BagSizeKey      = "bag.size"
	OOBSizeKey      = "bag.oob_size"
)

// Hyperparameters and scores.
const (
	MinSplitKey   = "hyperparams.min_split"
	MinLeafKey    = "hyperparams.min_leaf"
	MaxDepthKey   = "hyperparams.max_depth"
	NumTreesKey   = "hyperparams.num_trees"
	CriterionKey  = "hyperparams.criterion"
	EvaluationKey = "hyperparams.evaluation"
	RandomSeedKey = "config.random_seed"

	ScoreKey     = "metrics.score"
	AccuracyKey  = "metrics.accuracy"
	CoverageKey  = "metrics.coverage"
	ThresholdKey = "preds.threshold"
	DurationKey  = "perf.duration_ms"
)

// Error context.
const (
	ErrorKey      = "error"
	ErrorTypeKey  = "error.type"
	StacktraceKey = "error.stacktrace"
)

// Standard attribute values.
const (
	OperationFit     = "fit"
	OperationPredict = "predict"
	OperationLoad    = "load"
	OperationRelease = "release"
	OperationRestore = "restore"

	PhaseTraining   = "training"
	PhaseValidation = "validation"
	PhaseInference  = "inference"
)
