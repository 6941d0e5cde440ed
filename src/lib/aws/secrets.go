package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/tidwall/gjson"
)

type secretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerSource reads gateway credentials from a JSON secret.
type SecretsManagerSource struct {
	client   secretsAPI
	secretID string
}

func NewSecretsManagerSource(client *secretsmanager.Client, secretID string) *SecretsManagerSource {
	return &SecretsManagerSource{client: client, secretID: secretID}
}

func (s *SecretsManagerSource) Name() string {
	return "secretsmanager"
}

func (s *SecretsManagerSource) Credentials(ctx context.Context) (map[string]string, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("get secret %s: %w", s.secretID, err)
	}
	raw := aws.ToString(out.SecretString)
	if !gjson.Valid(raw) {
		return nil, errors.New("secret is not a json object")
	}
	values := map[string]string{}
	gjson.Parse(raw).ForEach(func(key, value gjson.Result) bool {
		values[key.String()] = value.String()
		return true
	})
	return values, nil
}
