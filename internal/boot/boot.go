// Package boot assembles the uploader's backend clients at startup.
//
// Every invocation needs some subset of: AWS config, the S3 media bucket,
// the DynamoDB record table, and a streaming-service token fetched from SSM
// Parameter Store. This package extracts the common init patterns so the
// command setup stays a short composition of helpers.
package boot

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/gatherly/event-media-uploader/internal/blobstore"
	"github.com/gatherly/event-media-uploader/internal/logging"
	"github.com/gatherly/event-media-uploader/internal/mediaapi"
	"github.com/gatherly/event-media-uploader/internal/recordstore"
)

// Environment variables consulted at startup.
const (
	EnvBucket         = "EVENTMEDIA_S3_BUCKET"
	EnvTable          = "EVENTMEDIA_DYNAMO_TABLE"
	EnvStreamURL      = "EVENTMEDIA_STREAM_URL"
	EnvStreamToken    = "EVENTMEDIA_STREAM_TOKEN"
	EnvTokenParam     = "EVENTMEDIA_SSM_TOKEN_PARAM"
	defaultTokenParam = "/event-media/prod/stream-service-token"
)

// AWSClients holds the core AWS SDK clients shared by the backends.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config and returns it with common clients.
func InitAWS(ctx context.Context) AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitBlobStore creates the S3-backed media store from the bucket named in
// the environment. Fatals if the bucket is not configured.
func InitBlobStore(cfg aws.Config) *blobstore.S3Store {
	bucket := os.Getenv(EnvBucket)
	if bucket == "" {
		log.Fatal().Str("envVar", EnvBucket).Msg("S3 bucket environment variable is required")
	}
	return blobstore.NewS3Store(s3.NewFromConfig(cfg), bucket, cfg.Region)
}

// InitRecordStore creates the DynamoDB record store from the table named in
// the environment. Fatals if the table is not configured.
func InitRecordStore(cfg aws.Config) *recordstore.DynamoStore {
	table := os.Getenv(EnvTable)
	if table == "" {
		log.Fatal().Str("envVar", EnvTable).Msg("DynamoDB table environment variable is required")
	}
	return recordstore.NewDynamoStore(dynamodb.NewFromConfig(cfg), table)
}

// InitStreamService builds the streaming-service client when a base URL is
// configured, fetching the bearer token from SSM unless the environment
// already carries one. Non-fatal: returns nil and videos fall back to the
// blob store.
func InitStreamService(ctx context.Context, ssmClient *ssm.Client) *mediaapi.Client {
	baseURL := os.Getenv(EnvStreamURL)
	if baseURL == "" {
		log.Warn().Str("envVar", EnvStreamURL).Msg("Streaming service not configured, videos upload to the blob store")
		return nil
	}

	token := os.Getenv(EnvStreamToken)
	if token == "" {
		paramName := os.Getenv(EnvTokenParam)
		if paramName == "" {
			paramName = defaultTokenParam
		}
		ssmStart := time.Now()
		result, err := ssmClient.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           &paramName,
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			log.Warn().Err(err).Str("param", paramName).Msg("Stream token not found in SSM, videos upload to the blob store")
			return nil
		}
		token = *result.Parameter.Value
		log.Debug().Str("param", paramName).Dur("elapsed", time.Since(ssmStart)).Msg("Stream token loaded from SSM")
	}

	return mediaapi.NewClient(baseURL, token)
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
