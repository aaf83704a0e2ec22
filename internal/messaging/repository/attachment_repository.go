package repository

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"profitum_messaging/pkg/database"

	"github.com/google/uuid"
)

const presignExpiry = 15 * time.Minute

// AttachmentRepository object storage for message attachments
type AttachmentRepository interface {
	// Store uploads one attachment and returns its storage path
	Store(ctx context.Context, conversationID, filename string, r io.Reader, size int64, contentType string) (string, error)
	// PresignURL returns a short-lived download URL for one attachment
	PresignURL(ctx context.Context, storagePath string) (string, error)
}

type attachmentRepository struct {
	store *database.MinIOClient
}

// NewMinIOAttachmentRepository create an AttachmentRepository
func NewMinIOAttachmentRepository(store *database.MinIOClient) AttachmentRepository {
	return &attachmentRepository{store: store}
}

func (r *attachmentRepository) Store(ctx context.Context, conversationID, filename string, reader io.Reader, size int64, contentType string) (string, error) {
	// random object name keeps uploads from colliding; the original
	// filename survives as the extension plus message metadata
	objectName := fmt.Sprintf("%s/%s%s", conversationID, uuid.New().String(), filepath.Ext(filename))
	if err := r.store.PutStream(ctx, objectName, reader, size, contentType); err != nil {
		return "", err
	}
	return objectName, nil
}

func (r *attachmentRepository) PresignURL(ctx context.Context, storagePath string) (string, error) {
	return r.store.PresignGetURL(ctx, storagePath, presignExpiry)
}
