package common

// Environment variable keys
const (
	EnvConfigFile     = "CONFIG_FILE"
	EnvModelPath      = "MODEL_PATH"
	EnvRemoteModelURL = "REMOTE_MODEL_URL"
	EnvTargetClass    = "TARGET_CLASS"
	EnvRESTTimeout    = "REST_TIMEOUT"
	EnvDataPath       = "DATA_PATH"
	EnvBackgroundPath = "BACKGROUND_PATH"
	EnvLabelColumn    = "LABEL_COLUMN"
	EnvBackgroundSize = "BACKGROUND_SIZE"
	EnvExplainMethod  = "EXPLAIN_METHOD"
	EnvExplainSeed    = "EXPLAIN_SEED"
	EnvWorkers        = "WORKERS"
	EnvStorePath      = "STORE_PATH"
	EnvServerPort     = "SERVER_PORT"
	EnvLogLevel       = "LOG_LEVEL"
)

// Surrogate sampling environment keys
const (
	EnvKernelWidth        = "KERNEL_WIDTH"
	EnvSampleBudget       = "SAMPLE_BUDGET"
	EnvBatchSize          = "BATCH_SIZE"
	EnvTolerance          = "TOLERANCE"
	EnvMaxFeatures        = "MAX_FEATURES"
	EnvRidge              = "RIDGE"
	EnvPermutationRepeats = "PERMUTATION_REPEATS"
)

// Configuration defaults
const (
	DefaultModelPath          = "model.json"
	DefaultStorePath          = "data"
	DefaultLogLevel           = "info"
	DefaultServerPort         = 8080
	DefaultTargetClass        = 1
	DefaultBackgroundSize     = 100
	DefaultSampleBudget       = 10000
	DefaultBatchSize          = 500
	DefaultTolerance          = 0.1
	DefaultRidge              = 1e-6
	DefaultPermutationRepeats = 5
)
