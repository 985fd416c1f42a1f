package config

// EnvPrefix is passed to envconfig; the QREA_ prefix is spelled in the
// struct tags so the prefix stays empty here.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "QREA_DB_DSN"
	EnvDBHost = "QREA_DB_HOST"
	EnvDBUser = "QREA_DB_USER"
	EnvDBName = "QREA_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
