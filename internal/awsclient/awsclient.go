// Package awsclient builds the AWS service clients used by the worker.
package awsclient

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"report-dispatcher/internal/config"
)

// Clients groups the service clients sharing one credential chain.
type Clients struct {
	Athena *athena.Client
	SQS    *sqs.Client
	S3     *s3.Client
}

// New loads the default credential chain for cfg.AWSRegion. When
// cfg.AWSEndpoint is set (localstack and similar) every client targets it.
func New(ctx context.Context, cfg config.Config) (*Clients, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWSRegion),
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := cfg.AWSEndpoint
	return &Clients{
		Athena: athena.NewFromConfig(awsCfg, func(o *athena.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		}),
		SQS: sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		}),
		S3: s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
				o.UsePathStyle = true
			}
		}),
	}, nil
}
