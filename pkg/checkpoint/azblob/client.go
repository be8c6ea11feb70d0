package azblob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// errBlobNotFound is returned by blobAPI.Download for a missing blob.
var errBlobNotFound = errors.New("blob not found")

// Well-known Azurite development account.
const (
	devAccountName = "devstoreaccount1"
	devAccountKey  = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="
	devBlobURL     = "http://127.0.0.1:10000/" + devAccountName
)

// blobAPI is the subset of blob operations the store needs.
type blobAPI interface {
	Upload(ctx context.Context, name string, data []byte, metadata map[string]string) error
	Download(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// connectionSettings is a parsed storage account connection string.
type connectionSettings struct {
	Protocol       string
	AccountName    string
	AccountKey     string
	BlobEndpoint   string
	EndpointSuffix string
}

// parseConnectionString reads the key=value pairs of an Azure storage
// connection string. Unknown keys are ignored.
func parseConnectionString(s string) connectionSettings {
	var cs connectionSettings
	for _, part := range strings.Split(s, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || key == "" {
			continue
		}
		switch strings.ToLower(key) {
		case "defaultendpointsprotocol":
			cs.Protocol = value
		case "accountname":
			cs.AccountName = value
		case "accountkey":
			cs.AccountKey = value
		case "blobendpoint":
			cs.BlobEndpoint = strings.TrimSuffix(value, "/")
		case "endpointsuffix":
			cs.EndpointSuffix = value
		case "usedevelopmentstorage":
			if strings.EqualFold(value, "true") {
				cs.AccountName = devAccountName
				cs.AccountKey = devAccountKey
				cs.BlobEndpoint = devBlobURL
			}
		}
	}
	return cs
}

// serviceURL returns the blob endpoint, deriving it from the account
// name when the connection string does not carry one.
func (cs connectionSettings) serviceURL() string {
	if cs.BlobEndpoint != "" {
		return cs.BlobEndpoint
	}
	protocol := cs.Protocol
	if protocol == "" {
		protocol = "https"
	}
	suffix := cs.EndpointSuffix
	if suffix == "" {
		suffix = "core.windows.net"
	}
	return fmt.Sprintf("%s://%s.blob.%s", protocol, cs.AccountName, suffix)
}

// containerClient talks to one container with a shared key credential.
// Plain HTTP endpoints (Azurite) are allowed.
type containerClient struct {
	client    *azblob.Client
	container string

	mu      sync.Mutex
	created bool
}

func newContainerClient(connectionString, container string) (*containerClient, error) {
	if connectionString == "" {
		return nil, errors.New("connection string is required")
	}
	if container == "" {
		return nil, errors.New("container name is required")
	}

	cs := parseConnectionString(connectionString)
	if cs.AccountName == "" || cs.AccountKey == "" {
		return nil, errors.New("connection string must carry AccountName and AccountKey")
	}

	cred, err := azblob.NewSharedKeyCredential(cs.AccountName, cs.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("invalid shared key: %w", err)
	}

	endpoint := cs.serviceURL()
	opts := &azblob.ClientOptions{}
	if strings.HasPrefix(strings.ToLower(endpoint), "http://") {
		opts.ClientOptions = azcore.ClientOptions{InsecureAllowCredentialWithHTTP: true}
	}

	client, err := azblob.NewClientWithSharedKeyCredential(endpoint, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("creating blob client for %s: %w", endpoint, err)
	}
	return &containerClient{client: client, container: container}, nil
}

func (c *containerClient) Upload(ctx context.Context, name string, data []byte, metadata map[string]string) error {
	if err := c.ensureContainer(ctx); err != nil {
		return err
	}

	meta := make(map[string]*string, len(metadata))
	for k, v := range metadata {
		meta[k] = to.Ptr(v)
	}
	_, err := c.client.UploadBuffer(ctx, c.container, name, data, &azblob.UploadBufferOptions{
		Metadata:    meta,
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr("application/json")},
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", name, err)
	}
	return nil
}

func (c *containerClient) Download(ctx context.Context, name string) ([]byte, error) {
	resp, err := c.client.DownloadStream(ctx, c.container, name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, fmt.Errorf("%s: %w", name, errBlobNotFound)
		}
		return nil, fmt.Errorf("downloading %s: %w", name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return data, nil
}

// List returns blob names under prefix. A missing container lists as empty.
func (c *containerClient) List(ctx context.Context, prefix string) ([]string, error) {
	pager := c.client.NewListBlobsFlatPager(c.container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})

	var names []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if bloberror.HasCode(err, bloberror.ContainerNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				names = append(names, *item.Name)
			}
		}
	}
	return names, nil
}

// Delete removes a blob. Deleting a missing blob is not an error.
func (c *containerClient) Delete(ctx context.Context, name string) error {
	_, err := c.client.DeleteBlob(ctx, c.container, name, nil)
	if err == nil || bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return nil
	}
	return fmt.Errorf("deleting %s: %w", name, err)
}

// ensureContainer creates the container on first upload. A failed attempt
// is retried on the next call.
func (c *containerClient) ensureContainer(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.created {
		return nil
	}
	_, err := c.client.CreateContainer(ctx, c.container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("creating container %s: %w", c.container, err)
	}
	c.created = true
	return nil
}
