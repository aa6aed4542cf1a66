// Package secretsmanager fetches the document store credentials from the
// secret stores of the major cloud providers. Secrets are expected to hold
// `username:password`.
package secretsmanager

import (
	"context"
	"fmt"
	"strings"

	gcpsecretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/keyvault/azsecrets"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

func FetchAWSSecret(ctx context.Context, secretId string, region string) (string, string, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return "", "", fmt.Errorf("failed to load default aws config: %w", err)
	}

	secrets := secretsmanager.NewFromConfig(cfg)
	res, err := secrets.GetSecretValue(ctx,
		&secretsmanager.GetSecretValueInput{SecretId: &secretId})
	if err != nil {
		return "", "", fmt.Errorf("failed to get aws secret: %w", err)
	}
	if res.SecretString == nil {
		return "", "", fmt.Errorf("aws secret %s is not a string", secretId)
	}

	return credsFromSecret(*res.SecretString)
}

func FetchAzureSecret(ctx context.Context, secretId string, keyVaultName string) (string, string, error) {
	vaultURI := fmt.Sprintf("https://%s.vault.azure.net/", keyVaultName)

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to obtain azure credential: %w", err)
	}

	client, err := azsecrets.NewClient(vaultURI, cred, nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to create azure client: %w", err)
	}

	// An empty version fetches the latest version of the secret.
	resp, err := client.GetSecret(ctx, secretId, "", nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to get azure secret: %w", err)
	}

	return credsFromSecret(*resp.Value)
}

func FetchGcpSecret(ctx context.Context, secretId string, projectId string) (string, string, error) {
	client, err := gcpsecretmanager.NewClient(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to create gcp secretmanager client: %w", err)
	}
	defer client.Close()

	req := &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectId, secretId),
	}

	result, err := client.AccessSecretVersion(ctx, req)
	if err != nil {
		return "", "", fmt.Errorf("failed to get gcp secret: %w", err)
	}

	return credsFromSecret(string(result.Payload.Data))
}

func credsFromSecret(secret string) (string, string, error) {
	username, password, ok := strings.Cut(secret, ":")
	if !ok {
		return "", "", fmt.Errorf("store credentials secret must be formatted `username:password`")
	}

	return username, password, nil
}
