package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"listing-snapshot-api/internal/events"
	"listing-snapshot-api/internal/keylock"
	"listing-snapshot-api/internal/metrics"
	"listing-snapshot-api/internal/model"
	"listing-snapshot-api/internal/queue"
	"listing-snapshot-api/internal/repository"
	"listing-snapshot-api/internal/scheduler"
	"listing-snapshot-api/internal/sku"
	"listing-snapshot-api/pkg/uid"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// PublishTimeout bounds the post-commit event publication.
	PublishTimeout = 5 * time.Second
	// DefaultOpTimeout bounds snapshot reads and writes, including the
	// wait for the per-SKU lock, when the caller set no deadline.
	DefaultOpTimeout = 30 * time.Second
)

// ErrInvalidListing is returned when an inbound listing cannot be converted.
var ErrInvalidListing = errors.New("invalid listing")

// halfScrapPerRefined is 9 scrap per refined, 2 half-scrap per scrap.
var halfScrapPerRefined = decimal.NewFromInt(18)

// NameResolver turns canonical keys into display names.
type NameResolver interface {
	Resolve(ctx context.Context, key sku.Key) (string, error)
	ResolveSKU(ctx context.Context, s string) (string, error)
}

// RefreshRequester admits refresh jobs.
type RefreshRequester interface {
	RequestRefresh(ctx context.Context, key string, opts scheduler.Options) (scheduler.Result, error)
}

// ListingService converts uploaded listings into snapshots and keeps one
// live snapshot per SKU.
type ListingService struct {
	repo      repository.SnapshotRepository
	names     NameResolver
	refresh   RefreshRequester
	publisher events.Publisher
	locks     *keylock.Locker
	opTimeout time.Duration
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// NewListingService creates a listing service.
func NewListingService(
	repo repository.SnapshotRepository,
	names NameResolver,
	refresh RefreshRequester,
	publisher events.Publisher,
	m *metrics.Metrics,
	log *zap.Logger,
) *ListingService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ListingService{
		repo:      repo,
		names:     names,
		refresh:   refresh,
		publisher: publisher,
		locks:     keylock.New(),
		opTimeout: DefaultOpTimeout,
		metrics:   m,
		log:       log.Named("listing"),
	}
}

// SetOpTimeout replaces DefaultOpTimeout. Non-positive values are ignored.
func (s *ListingService) SetOpTimeout(d time.Duration) {
	if d > 0 {
		s.opTimeout = d
	}
}

func (s *ListingService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// SaveSnapshot replaces the snapshot of req.SKU with the listings in req
// and publishes it once the replacement is committed.
func (s *ListingService) SaveSnapshot(ctx context.Context, req *model.CreateSnapshotRequest) (*model.Snapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	listings, err := s.convertListings(ctx, req.Listings)
	if err != nil {
		return nil, err
	}

	snapshot := &model.Snapshot{
		ID:        uid.New(),
		SKU:       req.SKU,
		Name:      req.Name,
		CreatedAt: unixSeconds(req.CreatedAt),
		Listings:  listings,
	}

	unlock, err := s.locks.Lock(ctx, req.SKU)
	if err != nil {
		return nil, err
	}
	err = s.repo.ReplaceSnapshot(ctx, snapshot)
	unlock()
	if err != nil {
		s.metrics.IncSnapshotReplaced("error")
		s.log.Error("snapshot replace failed", zap.String("sku", req.SKU), zap.Error(err))
		return nil, err
	}
	s.metrics.IncSnapshotReplaced("success")
	s.log.Info("snapshot replaced",
		zap.String("sku", snapshot.SKU),
		zap.String("id", snapshot.ID),
		zap.Int("listings", len(snapshot.Listings)),
	)

	s.publish(ctx, snapshot)
	return snapshot, nil
}

// publish runs detached from the request so a client disconnect after
// commit does not drop the event.
func (s *ListingService) publish(ctx context.Context, snapshot *model.Snapshot) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), PublishTimeout)
	defer cancel()

	if err := s.publisher.Publish(ctx, snapshot); err != nil {
		s.metrics.IncPublishFailure()
		s.log.Warn("snapshot event not published",
			zap.String("sku", snapshot.SKU),
			zap.String("id", snapshot.ID),
			zap.Error(err),
		)
	}
}

func (s *ListingService) convertListings(ctx context.Context, inbound []model.InboundListing) ([]model.Listing, error) {
	names := make(map[sku.Key]string)
	seen := make(map[string]struct{}, len(inbound))
	listings := make([]model.Listing, 0, len(inbound))

	for i := range inbound {
		l, err := s.convertListing(ctx, &inbound[i], names)
		if err != nil {
			return nil, fmt.Errorf("listing %d: %w", i, err)
		}
		if _, dup := seen[l.ID]; dup {
			continue
		}
		seen[l.ID] = struct{}{}
		listings = append(listings, l)
	}
	return listings, nil
}

func (s *ListingService) convertListing(ctx context.Context, in *model.InboundListing, names map[sku.Key]string) (model.Listing, error) {
	var item model.RawItem
	if err := json.Unmarshal(in.Item, &item); err != nil {
		return model.Listing{}, fmt.Errorf("%w: item: %v", ErrInvalidListing, err)
	}
	key := sku.Derive(item)

	var id string
	switch in.Intent {
	case model.IntentBuy:
		name, ok := names[key]
		if !ok {
			var err error
			name, err = s.names.Resolve(ctx, key)
			if err != nil {
				return model.Listing{}, err
			}
			names[key] = name
		}
		id = BuyListingID(in.SteamID, name)
	case model.IntentSell:
		if item.ID == nil {
			return model.Listing{}, fmt.Errorf("%w: sell listing without item id", ErrInvalidListing)
		}
		id = SellListingID(*item.ID)
	default:
		return model.Listing{}, fmt.Errorf("%w: intent %q", ErrInvalidListing, in.Intent)
	}

	l := model.Listing{
		ID:                  id,
		SKU:                 key.String(),
		SteamID64:           in.SteamID,
		Item:                in.Item,
		Intent:              in.Intent,
		CurrenciesHalfScrap: HalfScrap(in.Currencies.Metal),
		IsAutomatic:         in.UserAgent != nil,
		IsOffers:            in.Offers == 1,
		IsBuyout:            in.Buyout == 1,
		CreatedAt:           time.Unix(in.Timestamp, 0).UTC(),
		BumpedAt:            time.Unix(in.Bump, 0).UTC(),
	}
	if in.Currencies.Keys != nil {
		l.CurrenciesKeys = *in.Currencies.Keys
	}
	if in.Details != "" {
		details := in.Details
		l.Comment = &details
	}
	return l, nil
}

// BuyListingID identifies a buy order by buyer and item name.
func BuyListingID(steamID64, name string) string {
	sum := md5.Sum([]byte(name))
	return "440_" + steamID64 + "_" + hex.EncodeToString(sum[:])
}

// SellListingID identifies a sell order by the item instance.
func SellListingID(itemID int64) string {
	return "440_" + strconv.FormatInt(itemID, 10)
}

// HalfScrap converts refined metal to half-scrap units, rounding half away
// from zero. Absent metal is 0.
func HalfScrap(metal *float64) int {
	if metal == nil {
		return 0
	}
	return int(decimal.NewFromFloat(*metal).Mul(halfScrapPerRefined).Round(0).IntPart())
}

func unixSeconds(sec float64) time.Time {
	return time.UnixMilli(int64(math.Round(sec * 1000))).UTC()
}

// GetSnapshot returns the live snapshot of a SKU.
func (s *ListingService) GetSnapshot(ctx context.Context, skuText string) (*model.Snapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.repo.GetSnapshot(ctx, skuText)
}

// ListSnapshots returns a page of snapshots without their listings.
func (s *ListingService) ListSnapshots(ctx context.Context, opts repository.ListOptions) ([]model.Snapshot, int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.repo.ListSnapshots(ctx, opts.Normalize())
}

// RequestRefresh schedules a refresh for a canonical SKU.
func (s *ListingService) RequestRefresh(ctx context.Context, skuText string, opts scheduler.Options) (scheduler.Result, error) {
	if !sku.IsValid(skuText) {
		return scheduler.Result{}, fmt.Errorf("%w: %q", sku.ErrInvalidSKU, skuText)
	}
	return s.refresh.RequestRefresh(ctx, skuText, opts)
}

// ResolveName returns the display name of a SKU.
func (s *ListingService) ResolveName(ctx context.Context, skuText string) (string, error) {
	return s.names.ResolveSKU(ctx, skuText)
}

// Stats returns repository statistics.
func (s *ListingService) Stats(ctx context.Context) (map[string]interface{}, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.repo.GetStats(ctx)
}

func isUnavailable(err error) bool {
	return errors.Is(err, queue.ErrUnavailable)
}
