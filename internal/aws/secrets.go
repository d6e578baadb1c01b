package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// LoadWebhookSecrets resolves a Secrets Manager secret holding a JSON object
// of webhook source -> signing secret.
func LoadWebhookSecrets(ctx context.Context, client SecretsManagerAPI, secretID string) (map[string]string, error) {
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: sdkaws.String(secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("get secret value %s: %w", secretID, err)
	}

	var raw []byte
	switch {
	case out.SecretString != nil:
		raw = []byte(*out.SecretString)
	case len(out.SecretBinary) > 0:
		raw = out.SecretBinary
	default:
		return nil, errors.New("secret has no value")
	}

	secrets := map[string]string{}
	if err := json.Unmarshal(raw, &secrets); err != nil {
		return nil, fmt.Errorf("decode webhook secrets: %w", err)
	}
	for source, secret := range secrets {
		if secret == "" {
			return nil, fmt.Errorf("empty secret for webhook source %q", source)
		}
	}
	return secrets, nil
}
