package reports

import (
	"context"
	"fmt"
	"io"

	"ip-tracker/models"
)

type ClassificationLister interface {
	ListClassifications(ctx context.Context, activeOnly bool) ([]models.SuspiciousIP, error)
}

// WriteSuspiciousIPs prints every flagged IP, one per line.
func WriteSuspiciousIPs(ctx context.Context, w io.Writer, store ClassificationLister, activeOnly bool) error {
	rows, err := store.ListClassifications(ctx, activeOnly)
	if err != nil {
		return err
	}

	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No suspicious IPs found")
		return err
	}

	if _, err := fmt.Fprintln(w, "Suspicious IPs:"); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintf(w, "  %s - %s (%d requests) [%s]\n",
			row.IPAddress, row.Reason.Label(), row.RequestCount, row.Status()); err != nil {
			return err
		}
	}
	return nil
}
