package lib

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// awsGetSdkClient loads the default config and, when AWS_IAM_ROLE_ARN is set,
// swaps in credentials of the assumed role.
func awsGetSdkClient(ctx context.Context) (*aws.Config, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		log.Printf("Error loading default config: %s\n", err.Error())
		return nil, err
	}
	iamRole := os.Getenv("AWS_IAM_ROLE_ARN")
	if iamRole == "" {
		return &cfg, nil
	}
	stsClient := sts.NewFromConfig(cfg)
	output, err := stsClient.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(iamRole),
		RoleSessionName: aws.String("lovia-api"),
	})
	if err != nil {
		log.Printf("Error configuring STS client: %s\n", err.Error())
		return nil, err
	}
	creds := output.Credentials
	cfg, err = config.LoadDefaultConfig(ctx, config.WithCredentialsProvider(
		credentials.NewStaticCredentialsProvider(*creds.AccessKeyId, *creds.SecretAccessKey, *creds.SessionToken),
	))
	if err != nil {
		log.Printf("Error configuration: %s\n", err.Error())
		return nil, err
	}

	return &cfg, nil
}

func AWSGetSQSClient(ctx context.Context) (*sqs.Client, error) {
	cfg, err := awsGetSdkClient(ctx)
	if err != nil {
		log.Printf("Failed to initialize SQS client: %s\n", err.Error())
		return nil, err
	}
	return sqs.NewFromConfig(*cfg), nil
}

func AWSGetSESClient(ctx context.Context) (*ses.Client, error) {
	cfg, err := awsGetSdkClient(ctx)
	if err != nil {
		log.Printf("Failed to initialize SES client: %s\n", err.Error())
		return nil, err
	}
	return ses.NewFromConfig(*cfg), nil
}

func AWSGetSecretsManagerClient(ctx context.Context) (*secretsmanager.Client, error) {
	cfg, err := awsGetSdkClient(ctx)
	if err != nil {
		log.Printf("Failed to initialize Secrets Manager client: %s\n", err.Error())
		return nil, err
	}
	return secretsmanager.NewFromConfig(*cfg), nil
}

func AWSGetSNSClient(ctx context.Context) (*sns.Client, error) {
	cfg, err := awsGetSdkClient(ctx)
	if err != nil {
		log.Printf("Failed to initialize SNS client: %s\n", err.Error())
		return nil, err
	}
	return sns.NewFromConfig(*cfg), nil
}

func AWSGetS3Client(ctx context.Context) (*s3.Client, error) {
	cfg, err := awsGetSdkClient(ctx)
	if err != nil {
		log.Printf("Failed to initialize S3 client: %s\n", err.Error())
		return nil, err
	}
	return s3.NewFromConfig(*cfg), nil
}
