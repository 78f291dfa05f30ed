package nodemanager

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/keyvault/azsecrets"
)

// AzureKeyVaultFetcher is the production key source: the encrypted
// volume's passphrase is stored as a secret in an Azure Key Vault,
// modeling the original's "remote peer over TLS" key exchange as a
// managed secrets store rather than a bespoke protocol.
type AzureKeyVaultFetcher struct {
	client     *azsecrets.Client
	secretName string
}

// NewAzureKeyVaultFetcher builds a fetcher against vaultURL (e.g.
// "https://example.vault.azure.net") using ambient credentials
// (environment, managed identity, or Azure CLI login, in that order via
// DefaultAzureCredential).
func NewAzureKeyVaultFetcher(vaultURL, secretName string) (*AzureKeyVaultFetcher, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("nodemanager: azure credential: %w", err)
	}
	client, err := azsecrets.NewClient(vaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("nodemanager: azure key vault client: %w", err)
	}
	return &AzureKeyVaultFetcher{client: client, secretName: secretName}, nil
}

// FetchKey retrieves the latest version of the configured secret.
func (f *AzureKeyVaultFetcher) FetchKey(ctx context.Context) (string, error) {
	resp, err := f.client.GetSecret(ctx, f.secretName, "", nil)
	if err != nil {
		return "", fmt.Errorf("nodemanager: get secret %q: %w", f.secretName, err)
	}
	if resp.Value == nil || strings.TrimSpace(*resp.Value) == "" {
		return "", fmt.Errorf("nodemanager: secret %q is empty", f.secretName)
	}
	return *resp.Value, nil
}

// LocalFileFetcher reads the passphrase from a local file. This is the
// non-production-only fallback (spec.md §4.9): MountIfNeeded refuses to
// use it when the manager is running in production.
type LocalFileFetcher struct {
	Path string
}

// FetchKey reads and trims the file contents.
func (f LocalFileFetcher) FetchKey(ctx context.Context) (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("nodemanager: read local key file %q: %w", f.Path, err)
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", fmt.Errorf("nodemanager: local key file %q is empty", f.Path)
	}
	return key, nil
}
