// Package triggers holds what the ingestion triggers share.
package triggers

import "context"

// Submitter starts an analysis for a blob. workflow.Driver implements it.
type Submitter interface {
	SubmitBlob(ctx context.Context, blobName string, data []byte) (string, error)
}
