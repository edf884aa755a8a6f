// Package ledger owns the strictly-ordered consumption counters. All
// writes for one (customer, feature) pair serialize on a keyed mutex
// shard on top of the storage-level atomic increment, so concurrent
// reporters cannot lose updates.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/meterwise/meterwise/internal/clock"
	usagedomain "github.com/meterwise/meterwise/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const lockShards = 64

type Ledger struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  usagedomain.Repository

	shards [lockShards]sync.Mutex
}

type Param struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  usagedomain.Repository
}

func New(p Param) *Ledger {
	return &Ledger{
		db:    p.DB,
		log:   p.Log.Named("usage.ledger"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Apply appends a consumption fact and bumps the pair's running total,
// returning the new total.
func (l *Ledger) Apply(ctx context.Context, customerID snowflake.ID, featureSlug string, delta float64, kind usagedomain.RecordKind, idempotencyHash string, metadata map[string]any) (float64, error) {
	var raw datatypes.JSON
	if len(metadata) > 0 {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			return 0, err
		}
		raw = encoded
	}

	record := &usagedomain.Record{
		ID:              l.genID.Generate(),
		CustomerID:      customerID,
		FeatureSlug:     featureSlug,
		Delta:           delta,
		Kind:            kind,
		IdempotencyHash: idempotencyHash,
		Metadata:        raw,
		RecordedAt:      l.clock.Now(ctx),
	}

	lock := l.lockFor(customerID, featureSlug)
	lock.Lock()
	defer lock.Unlock()
	return l.repo.AppendAndIncrement(ctx, l.db, record)
}

func (l *Ledger) Total(ctx context.Context, customerID snowflake.ID, featureSlug string) (float64, error) {
	return l.repo.Total(ctx, l.db, customerID, featureSlug)
}

func (l *Ledger) Totals(ctx context.Context, customerID snowflake.ID) (map[string]float64, error) {
	return l.repo.Totals(ctx, l.db, customerID)
}

// ResetAll zeroes each slug's running total with a compensating record.
// Returns the slugs that failed; the rest are reset regardless.
func (l *Ledger) ResetAll(ctx context.Context, customerID snowflake.ID, slugs []string) []string {
	var failed []string
	for _, featureSlug := range slugs {
		if err := l.resetOne(ctx, customerID, featureSlug); err != nil {
			l.log.Error("failed to reset feature usage",
				zap.String("customer_id", customerID.String()),
				zap.String("feature_slug", featureSlug),
				zap.Error(err),
			)
			failed = append(failed, featureSlug)
		}
	}
	return failed
}

func (l *Ledger) resetOne(ctx context.Context, customerID snowflake.ID, featureSlug string) error {
	lock := l.lockFor(customerID, featureSlug)
	lock.Lock()
	defer lock.Unlock()

	total, err := l.repo.Total(ctx, l.db, customerID, featureSlug)
	if err != nil {
		return err
	}
	if total == 0 {
		return nil
	}

	now := l.clock.Now(ctx)
	record := &usagedomain.Record{
		ID:              l.genID.Generate(),
		CustomerID:      customerID,
		FeatureSlug:     featureSlug,
		Delta:           -total,
		Kind:            usagedomain.RecordKindReset,
		IdempotencyHash: fmt.Sprintf("reset:%s:%s:%d", customerID, featureSlug, now.UnixNano()),
		RecordedAt:      now,
	}
	_, err = l.repo.AppendAndIncrement(ctx, l.db, record)
	return err
}

func (l *Ledger) DropCustomer(ctx context.Context, customerID snowflake.ID) error {
	return l.repo.DeleteByCustomer(ctx, l.db, customerID)
}

func (l *Ledger) lockFor(customerID snowflake.ID, featureSlug string) *sync.Mutex {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d|%s", customerID, featureSlug)
	return &l.shards[h.Sum32()%lockShards]
}
