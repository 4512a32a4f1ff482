package config

import (
	"bytes"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type AppCfg struct {
	Name    string
	Env     string
	Host    string
	Port    int
	BaseURL string
}

type LogCfg struct {
	Level string
}

type DBCfg struct {
	DSN         string `validate:"required"`
	MaxOpen     int
	MaxIdle     int
	AutoMigrate bool
}

type RedisCfg struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

type MQCfg struct {
	URL            string
	Exchange       string
	MigrationQueue string
	Prefetch       int
}

// S3Cfg points at the S3-compatible endpoint of the intermediate object store
// (Supabase Storage). PublicBaseURL is the prefix public object URLs are built on.
type S3Cfg struct {
	Endpoint         string
	Region           string
	AccessKey        string
	SecretKey        string
	Bucket           string `validate:"required"`
	UsePathStyle     bool
	PresignExpireSec int
	PublicBaseURL    string
}

type GitHubCfg struct {
	Owner      string `validate:"required"`
	Repo       string `validate:"required"`
	Token      string
	ReleaseTag string `validate:"required"`
	APIBaseURL string
}

type UploadCfg struct {
	MinPDFBytes         int64
	MaxPDFBytes         int64 `validate:"gt=0"`
	MaxCoverBytes       int64 `validate:"gt=0"`
	StageThresholdBytes int64
	TempDir             string
	LegacyDir           string
	ReconcileAfterSec   int
	ReconcileEverySec   int
	DownloadTimeoutSec  int
}

type CatalogCfg struct {
	Owner    string
	Repo     string
	Branch   string
	DataPath string
	CacheTTL int
	Backend  string `validate:"oneof=memory redis"`
}

type AuthCfg struct {
	JWTSecret string
	AdminRole string
}

type TelemetryCfg struct {
	Enabled      bool
	OtlpEndpoint string
	SampleRatio  float64
}

type Config struct {
	App       AppCfg
	Log       LogCfg
	Database  DBCfg
	Redis     RedisCfg
	RabbitMQ  MQCfg
	S3        S3Cfg
	GitHub    GitHubCfg
	Upload    UploadCfg
	Catalog   CatalogCfg
	Auth      AuthCfg
	Telemetry TelemetryCfg
}

func Load() (*Config, error) {
	base := viper.New()
	base.SetConfigName("config")
	base.SetConfigType("yaml")
	base.AddConfigPath("./configs")
	base.AddConfigPath(".")
	base.AutomaticEnv()
	base.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	base.SetEnvPrefix("APP") // e.g. APP_GITHUB_TOKEN -> github.token

	setDefaults(base)

	if err := base.ReadInConfig(); err == nil {
		// expand ${ENV} references once before parsing
		raw, err := os.ReadFile(base.ConfigFileUsed())
		if err != nil {
			return nil, err
		}
		expanded := os.ExpandEnv(string(raw))

		v := viper.New()
		v.SetConfigType("yaml")
		if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
			return nil, err
		}
		v.AutomaticEnv()
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.SetEnvPrefix("APP")
		setDefaults(v)

		return decode(v)
	}

	// no file: env + defaults only
	return decode(base)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := new(Config)
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct tags on every section.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "gyandhara-api")
	v.SetDefault("app.env", "debug")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 3000)
	v.SetDefault("app.baseURL", "http://localhost:3000")
	v.SetDefault("log.level", "info")
	v.SetDefault("database.maxOpen", 20)
	v.SetDefault("database.maxIdle", 5)
	v.SetDefault("redis.poolSize", 10)
	v.SetDefault("rabbitmq.exchange", "gyandhara.books")
	v.SetDefault("rabbitmq.migrationQueue", "book_migrations")
	v.SetDefault("rabbitmq.prefetch", 1)
	v.SetDefault("s3.region", "auto")
	v.SetDefault("s3.bucket", "books")
	v.SetDefault("s3.usePathStyle", true)
	v.SetDefault("s3.presignExpireSec", 900)
	v.SetDefault("github.owner", "Raman-0123")
	v.SetDefault("github.repo", "GyanDhara")
	v.SetDefault("github.releaseTag", "pdf-storage-v1")
	v.SetDefault("upload.minPDFBytes", 0)
	v.SetDefault("upload.maxPDFBytes", 200*1024*1024)
	v.SetDefault("upload.maxCoverBytes", 10*1024*1024)
	v.SetDefault("upload.stageThresholdBytes", 4*1024*1024)
	v.SetDefault("upload.tempDir", os.TempDir())
	v.SetDefault("upload.legacyDir", "./uploads")
	v.SetDefault("upload.reconcileAfterSec", 3600)
	v.SetDefault("upload.reconcileEverySec", 900)
	v.SetDefault("upload.downloadTimeoutSec", 300)
	v.SetDefault("catalog.branch", "main")
	v.SetDefault("catalog.dataPath", "books")
	v.SetDefault("catalog.cacheTTL", 300)
	v.SetDefault("catalog.backend", "memory")
	v.SetDefault("auth.adminRole", "admin")
}
