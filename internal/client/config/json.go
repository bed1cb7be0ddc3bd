package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/groupchat/internal/flagx"
	"github.com/dmitrijs2005/groupchat/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Durations use
// timex.Duration, so "10s" and integer nanoseconds both work. Zero values
// leave the corresponding Config field untouched.
type JsonConfig struct {
	DatabaseDSN       string         `json:"database_dsn"`
	SecretKey         string         `json:"secret_key"`
	S3RootUser        string         `json:"s3_root_user"`
	S3RootPassword    string         `json:"s3_root_password"`
	S3Bucket          string         `json:"s3_bucket"`
	S3Region          string         `json:"s3_region"`
	S3BaseEndpoint    string         `json:"s3_base_endpoint"`
	PageSize          int            `json:"page_size"`
	LogLevel          string         `json:"log_level"`
	LogJSON           *bool          `json:"log_json"`
	MetricsAddr       string         `json:"metrics_addr"`
	SendPolicy        string         `json:"send_policy"`
	ImageMaxDimension int            `json:"image_max_dimension"`
	ImageQuality      int            `json:"image_quality"`
	MaxImageBytes     int64          `json:"max_image_bytes"`
	RequestTimeout    timex.Duration `json:"request_timeout"`
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt[T int | int64](dst *T, v T) {
	if v != 0 {
		*dst = v
	}
}

// parseJson overlays Config with values loaded from the JSON file named by
// -c or -config. Without either flag nothing happens. Read or unmarshal
// errors panic.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.DatabaseDSN, jc.DatabaseDSN)
	setString(&cfg.SecretKey, jc.SecretKey)
	setString(&cfg.S3RootUser, jc.S3RootUser)
	setString(&cfg.S3RootPassword, jc.S3RootPassword)
	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3BaseEndpoint, jc.S3BaseEndpoint)
	setInt(&cfg.PageSize, jc.PageSize)
	setString(&cfg.LogLevel, jc.LogLevel)
	if jc.LogJSON != nil {
		cfg.LogJSON = *jc.LogJSON
	}
	setString(&cfg.MetricsAddr, jc.MetricsAddr)
	setString(&cfg.SendPolicy, jc.SendPolicy)
	setInt(&cfg.ImageMaxDimension, jc.ImageMaxDimension)
	setInt(&cfg.ImageQuality, jc.ImageQuality)
	setInt(&cfg.MaxImageBytes, jc.MaxImageBytes)
	if jc.RequestTimeout.Duration != 0 {
		cfg.RequestTimeout = jc.RequestTimeout.Duration
	}
}
