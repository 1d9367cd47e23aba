package pgfleet

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/CityHopper/fleetsync/internal/broker/kafka"
	"github.com/CityHopper/fleetsync/internal/broker/messages"
)

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Storage is the fleet store. Every successful mutation additionally
// emits a ChangeEvent on the table's change-feed topic; emission is
// best-effort because the reconciliation poll corrects missed events.
type Storage struct {
	db  *pgxpool.Pool
	pub Publisher
}

func New(connString string, pub Publisher) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "parse pg config")
	}

	db, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect pg")
	}

	s := &Storage{db: db, pub: pub}
	if err := s.initSchema(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *Storage) emitChange(ctx context.Context, table, op string, before, after any) {
	if s.pub == nil {
		return
	}

	ev := messages.ChangeEvent{
		Table:     table,
		Op:        op,
		EmittedAt: time.Now().UTC(),
	}
	if before != nil {
		ev.Before, _ = json.Marshal(before)
	}
	if after != nil {
		ev.After, _ = json.Marshal(after)
	}

	b, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal change event", "table", table, "op", op, "error", err.Error())
		return
	}

	key := []byte(ev.RecordID())
	var pubErr error
	for i := 0; i < 3; i++ {
		if pubErr = s.pub.Publish(ctx, kafka.TopicForTable(table), key, b); pubErr == nil {
			return
		}
		time.Sleep(time.Duration(150*(i+1)) * time.Millisecond)
	}
	slog.Error("publish change event", "table", table, "op", op, "error", pubErr.Error())
}
