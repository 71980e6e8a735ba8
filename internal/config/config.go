package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/airquality-daily-stats/internal/archive"
	"github.com/i474232898/airquality-daily-stats/internal/esdr"
	"github.com/i474232898/airquality-daily-stats/internal/feed"
)

type AppConfig struct {
	ESDR ESDRConfig

	// Artifact directories shared by the stages.
	DataDir  string `validate:"required"`
	StatsDir string `validate:"required"`

	// DatastoreDir is the BadgerDB directory the import stage writes to.
	DatastoreDir string `validate:"required"`

	AggregateWorkers int `validate:"min=1,max=64"`

	// RunInterval controls how often serve mode runs the pipeline.
	RunInterval time.Duration `validate:"gt=0"`

	Port string `validate:"required,numeric"`

	Log LogConfig

	Archive archive.Config
}

type ESDRConfig struct {
	APIRootURL string `validate:"required,url"`
	Multifeed  string `validate:"required"`
	PageSize   int    `validate:"min=1,max=1000"`

	// FeedIDs optionally narrows the downloaded feeds.
	FeedIDs []int64

	// Channels are the candidate channels, in export order.
	Channels []string `validate:"min=1,dive,required"`

	FeedOwnerUserID int64

	HTTPTimeout time.Duration `validate:"gt=0"`
}

type LogConfig struct {
	Level              string `validate:"oneof=debug info warn error dpanic panic fatal DEBUG INFO WARN ERROR"`
	Format             string `validate:"oneof=console json"`
	FileLoggingEnabled bool
	Directory          string
	Filename           string
	MaxSize            int `validate:"min=1"`
	MaxBackups         int `validate:"min=0"`
	MaxAge             int `validate:"min=0"`
	Compress           bool
}

// Load reads configuration from environment with sensible defaults. A .env
// file in the working directory is loaded first when present.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("INFO: error loading .env file: %v", err)
	}
	return FromEnv()
}

// FromEnv reads and validates configuration from the process environment.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{}

	cfg.ESDR.APIRootURL = strings.TrimRight(getenvDefault("ESDR_API_ROOT_URL", esdr.DefaultRootURL), "/")
	cfg.ESDR.Multifeed = getenvDefault("ESDR_MULTIFEED", "pm_2_5")
	cfg.ESDR.PageSize = getenvInt("ESDR_PAGE_SIZE", esdr.DefaultPageSize)
	cfg.ESDR.FeedOwnerUserID = getenvInt64("ESDR_FEED_OWNER_USER_ID", -1)

	ids, err := parseIDs(os.Getenv("ESDR_FEED_IDS"))
	if err != nil {
		return nil, err
	}
	cfg.ESDR.FeedIDs = ids

	cfg.ESDR.Channels = feed.DefaultChannels()
	if v := os.Getenv("ESDR_CHANNELS"); v != "" {
		cfg.ESDR.Channels = splitList(v)
	}

	if cfg.ESDR.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "60s"); err != nil {
		return nil, err
	}

	cfg.DataDir = getenvDefault("DATA_DIR", "data")
	cfg.StatsDir = getenvDefault("STATS_DIR", "stats")
	cfg.DatastoreDir = getenvDefault("DATASTORE_DIR", "datastore")
	cfg.AggregateWorkers = getenvInt("AGGREGATE_WORKERS", 1)

	if cfg.RunInterval, err = getenvDuration("RUN_INTERVAL", "24h"); err != nil {
		return nil, err
	}
	cfg.Port = getenvDefault("PORT", "8080")

	cfg.Log = LogConfig{
		Level:              getenvDefault("LOG_LEVEL", "info"),
		Format:             getenvDefault("LOG_FORMAT", "console"),
		FileLoggingEnabled: getenvBool("LOG_FILE_ENABLED", false),
		Directory:          getenvDefault("LOG_DIR", "log"),
		Filename:           getenvDefault("LOG_FILE", "airquality-stats.log"),
		MaxSize:            getenvInt("LOG_MAX_SIZE_MB", 100),
		MaxBackups:         getenvInt("LOG_MAX_BACKUPS", 3),
		MaxAge:             getenvInt("LOG_MAX_AGE_DAYS", 7),
		Compress:           getenvBool("LOG_COMPRESS", false),
	}

	cfg.Archive = archive.Config{
		Endpoint:  os.Getenv("ARCHIVE_ENDPOINT"),
		Bucket:    os.Getenv("ARCHIVE_BUCKET"),
		Prefix:    os.Getenv("ARCHIVE_PREFIX"),
		AccessKey: os.Getenv("ARCHIVE_ACCESS_KEY"),
		SecretKey: os.Getenv("ARCHIVE_SECRET_KEY"),
		Secure:    getenvBool("ARCHIVE_SECURE", false),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if cfg.Archive.Enabled() && cfg.Archive.Bucket == "" {
		return nil, fmt.Errorf("%w: ARCHIVE_BUCKET is required when ARCHIVE_ENDPOINT is set", ErrValidation)
	}

	return cfg, nil
}

// RequireOwner checks that the import stage has a positive owner user id.
func (c *AppConfig) RequireOwner() error {
	if c.ESDR.FeedOwnerUserID <= 0 {
		return fmt.Errorf("%w: got %d", ErrOwnerRequired, c.ESDR.FeedOwnerUserID)
	}
	return nil
}

func parseIDs(v string) ([]int64, error) {
	var ids []int64
	for _, part := range splitList(v) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: ESDR_FEED_IDS entry %q", ErrInvalidValue, part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalidValue, key, err)
	}
	return d, nil
}
