package transcript

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// Sink stores transcript records. Write returns where the record went.
type Sink interface {
	Write(ctx context.Context, r *Record) (string, error)
}

// FileSink writes one file per record into Dir.
type FileSink struct {
	Dir      string
	Compress bool
}

func (s FileSink) Write(_ context.Context, r *Record) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create transcript dir: %w", err)
	}

	p := filepath.Join(s.Dir, Filename(r, s.Compress))

	f, err := os.Create(p)
	if err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}

	if err := Encode(f, r, s.Compress); err != nil {
		_ = f.Close()
		return "", err
	}

	if err := f.Close(); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}
	return p, nil
}

// BlobUploader is the part of *azblob.Client BlobSink uses.
type BlobUploader interface {
	UploadBuffer(ctx context.Context, containerName string, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
}

// BlobSink uploads records to an Azure Storage container.
type BlobSink struct {
	client    BlobUploader
	container string
	prefix    string
	compress  bool
}

type BlobSinkOptions struct {
	// Prefix is prepended to every blob name, for example "transcripts/".
	Prefix   string
	Compress bool

	// Credential defaults to azidentity's DefaultAzureCredential.
	Credential azcore.TokenCredential
}

// NewBlobSink connects to the storage account at accountURL
// (https://<account>.blob.core.windows.net/).
func NewBlobSink(accountURL, container string, opts *BlobSinkOptions) (*BlobSink, error) {
	if opts == nil {
		opts = &BlobSinkOptions{}
	}

	cred := opts.Credential
	if cred == nil {
		c, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("creating azure credential: %w", err)
		}
		cred = c
	}

	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating blob client for %s: %w", accountURL, err)
	}

	return NewBlobSinkWithClient(client, container, opts), nil
}

// NewBlobSinkWithClient uses an existing client. opts.Credential is ignored.
func NewBlobSinkWithClient(client BlobUploader, container string, opts *BlobSinkOptions) *BlobSink {
	if opts == nil {
		opts = &BlobSinkOptions{}
	}
	return &BlobSink{
		client:    client,
		container: container,
		prefix:    strings.Trim(opts.Prefix, "/"),
		compress:  opts.Compress,
	}
}

func (s *BlobSink) Write(ctx context.Context, r *Record) (string, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, r, s.compress); err != nil {
		return "", err
	}

	name := Filename(r, s.compress)
	if s.prefix != "" {
		name = path.Join(s.prefix, name)
	}

	if _, err := s.client.UploadBuffer(ctx, s.container, name, buf.Bytes(), nil); err != nil {
		return "", fmt.Errorf("uploading transcript %s: %w", name, err)
	}
	return s.container + "/" + name, nil
}
