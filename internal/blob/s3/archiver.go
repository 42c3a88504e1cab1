package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/btc5mtrader/internal/domain"
)

var _ domain.DecisionArchiver = (*DecisionArchive)(nil)

// DecisionArchive stores each pipeline decision as one JSON object under
// decisions/YYYY/MM/DD/<request_id>.json. A later decision for the same
// request replaces the earlier one.
type DecisionArchive struct {
	writer domain.BlobWriter
	now    func() time.Time
}

// NewDecisionArchive creates a DecisionArchive writing through w.
func NewDecisionArchive(w domain.BlobWriter) *DecisionArchive {
	return &DecisionArchive{writer: w, now: time.Now}
}

// ArchiveDecision uploads d. The snapshot token is cleared before upload.
func (a *DecisionArchive) ArchiveDecision(ctx context.Context, d domain.Decision) error {
	if d.Summary.RequestID == "" {
		return fmt.Errorf("s3blob: archive decision: missing request id")
	}
	d.Snapshot.TokenID = ""

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("s3blob: archive decision marshal: %w", err)
	}

	path := DecisionPath(d.Summary.RequestID, a.now())
	if err := a.writer.Put(ctx, path, &buf, "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive decision upload: %w", err)
	}
	return nil
}

// DecisionPath builds the object key for a decision made at t.
//
//	decisions/2026/03/01/8c1f....json
func DecisionPath(requestID string, t time.Time) string {
	return fmt.Sprintf("decisions/%s/%s.json", t.UTC().Format("2006/01/02"), requestID)
}
