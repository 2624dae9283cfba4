package upstream

import (
	"context"
	"time"

	"github.com/pabhub/polarwind/internal/models"
)

// Client fetches observations for a station over a half-open UTC range.
// Implementations return ErrNoData when the range holds no observations,
// *RateLimitedError when told to slow down, and *InvalidRequestError when the
// request itself can never succeed.
type Client interface {
	FetchWindow(ctx context.Context, stationID string, start, end time.Time) ([]models.Measurement, error)
}
