package logging

import (
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StartupLogger collects the resolved configuration of the uploader
// (AWS resources, stream-service endpoint, batch limits) and emits a
// single structured zerolog event summarising it. One line tells you
// exactly how a run was configured when reading logs after the fact.
type StartupLogger struct {
	name         string
	initDuration time.Duration

	s3Buckets    map[string]string
	dynamoTables map[string]string
	ssmParams    map[string]string
	endpoints    map[string]string
	config       map[string]string
}

// NewStartupLogger creates a StartupLogger for the given component name
// (e.g. "eventmedia upload").
func NewStartupLogger(name string) *StartupLogger {
	return &StartupLogger{
		name:         name,
		s3Buckets:    make(map[string]string),
		dynamoTables: make(map[string]string),
		ssmParams:    make(map[string]string),
		endpoints:    make(map[string]string),
		config:       make(map[string]string),
	}
}

// InitDuration sets how long process initialization took.
func (s *StartupLogger) InitDuration(d time.Duration) *StartupLogger {
	s.initDuration = d
	return s
}

// S3Bucket records an S3 bucket binding.
func (s *StartupLogger) S3Bucket(label, bucket string) *StartupLogger {
	s.s3Buckets[label] = bucket
	return s
}

// DynamoTable records a DynamoDB table binding.
func (s *StartupLogger) DynamoTable(label, table string) *StartupLogger {
	s.dynamoTables[label] = table
	return s
}

// SSMParam records an SSM parameter that was read at startup.
func (s *StartupLogger) SSMParam(label, param string) *StartupLogger {
	s.ssmParams[label] = param
	return s
}

// Endpoint records an external service endpoint.
func (s *StartupLogger) Endpoint(label, url string) *StartupLogger {
	s.endpoints[label] = url
	return s
}

// Config records an arbitrary configuration value.
func (s *StartupLogger) Config(key, value string) *StartupLogger {
	s.config[key] = value
	return s
}

// Emit writes the collected startup state as one structured log event.
func (s *StartupLogger) Emit() {
	ev := log.Info().
		Str("component", s.name).
		Str("goVersion", runtime.Version()).
		Str("os", runtime.GOOS).
		Str("arch", runtime.GOARCH)

	if s.initDuration > 0 {
		ev = ev.Dur("initDuration", s.initDuration)
	}

	ev = addDict(ev, "s3Buckets", s.s3Buckets)
	ev = addDict(ev, "dynamoTables", s.dynamoTables)
	ev = addDict(ev, "ssmParams", s.ssmParams)
	ev = addDict(ev, "endpoints", s.endpoints)
	ev = addDict(ev, "config", s.config)

	ev.Msg("Startup complete")
}

func addDict(ev *zerolog.Event, key string, m map[string]string) *zerolog.Event {
	if len(m) == 0 {
		return ev
	}
	d := zerolog.Dict()
	for k, v := range m {
		d = d.Str(k, v)
	}
	return ev.Dict(key, d)
}
