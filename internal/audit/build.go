package audit

import (
	"context"
	"fmt"
	"strings"
)

// SinkConfig selects and configures the external audit sink.
type SinkConfig struct {
	Type string `mapstructure:"type"` // none, file, syslog, s3

	FilePath string `mapstructure:"file_path"`

	SyslogNetwork  string `mapstructure:"syslog_network"`
	SyslogAddr     string `mapstructure:"syslog_addr"`
	SyslogFacility string `mapstructure:"syslog_facility"`
	SyslogTag      string `mapstructure:"syslog_tag"`

	S3Bucket string `mapstructure:"s3_bucket"`
	S3Prefix string `mapstructure:"s3_prefix"`
	S3Region string `mapstructure:"s3_region"`
}

// BuildSink constructs the configured sink. An unknown type is a
// configuration error.
func BuildSink(ctx context.Context, cfg SinkConfig) (Sink, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", "none":
		return NoopSink{}, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file audit sink requires file_path")
		}
		return NewFileSink(cfg.FilePath), nil
	case "syslog":
		network := cfg.SyslogNetwork
		if network == "" {
			network = "udp"
		}
		tag := cfg.SyslogTag
		if tag == "" {
			tag = "a2a-audit"
		}
		return NewSyslogSink(network, cfg.SyslogAddr, cfg.SyslogFacility, tag)
	case "s3":
		return NewS3Sink(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.S3Region)
	default:
		return nil, fmt.Errorf("unsupported audit sink type: %s", cfg.Type)
	}
}
