package artifact

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/imran1337/solid-prediction/internal/observability"
	"github.com/imran1337/solid-prediction/internal/platform/objstore"
)

// Publish uploads pk unless the bucket already holds the same content, then
// signs a download URL. A signing failure leaves URL empty.
func (p *Packager) Publish(ctx context.Context, pk *Package) (*Artifact, error) {
	ctx, span := otel.Tracer("github.com/imran1337/solid-prediction/internal/artifact").Start(ctx, "artifact.publish")
	defer span.End()
	span.SetAttributes(attribute.String("artifact.name", pk.Name), attribute.Int64("artifact.size", pk.Size))

	art := &Artifact{ID: pk.ID, Name: pk.Name, Size: pk.Size, Digest: pk.Digest}

	upload, reason := p.needsUpload(ctx, pk)
	if upload {
		r, err := pk.Reader()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("read archive: %w", err)
		}
		meta := map[string]string{DigestMetadataKey: pk.Digest}
		if err := p.store.Put(ctx, pk.Name, r, pk.Size, meta); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("upload %s: %w", pk.Name, err)
		}
		art.Uploaded = true
		p.log.Info("Uploaded artifact", "name", pk.Name, "size", pk.Size, "reason", reason)
	} else {
		p.log.Info("Artifact unchanged, skipping upload", "name", pk.Name, "reason", reason)
	}
	span.SetAttributes(attribute.Bool("artifact.uploaded", art.Uploaded), attribute.String("artifact.dedup", reason))
	observability.Current().IncPublish(reason, art.Uploaded)

	url, err := p.store.SignedURL(ctx, pk.Name, p.cfg.URLExpiry)
	if err != nil {
		p.log.Error("Failed to sign artifact URL", "name", pk.Name, "error", err)
	} else {
		art.URL = url
	}
	return art, nil
}

func (p *Packager) needsUpload(ctx context.Context, pk *Package) (bool, string) {
	remote, err := p.store.Stat(ctx, pk.Name)
	if err != nil {
		if objstore.IsNotFound(err) {
			return true, "absent"
		}
		p.log.Warn("Stat failed, uploading anyway", "name", pk.Name, "error", err)
		return true, "stat_error"
	}
	if d := remote.Metadata[DigestMetadataKey]; d != "" {
		if d == pk.Digest {
			return false, "digest_match"
		}
		return true, "digest_mismatch"
	}
	if remote.Size == pk.Size {
		return false, "size_match"
	}
	return true, "size_mismatch"
}
