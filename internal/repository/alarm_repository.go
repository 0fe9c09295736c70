package repository

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"CoinAlarm/internal/domain/models"
	domrepo "CoinAlarm/internal/domain/repository"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// ClickHouseAlarmStorage implements AlarmStorage for ClickHouse.
type ClickHouseAlarmStorage struct {
	db    *sql.DB
	table string
}

// NewClickHouseAlarmStorage stores alarms in table; the name is checked
// before it is interpolated into SQL.
func NewClickHouseAlarmStorage(db *sql.DB, table string) (*ClickHouseAlarmStorage, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid alarm table name %q", table)
	}
	return &ClickHouseAlarmStorage{db: db, table: table}, nil
}

// Schema returns the DDL for the alarm table.
func (s *ClickHouseAlarmStorage) Schema() []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id String,
    ts DateTime64(3, 'UTC'),
    exchange LowCardinality(String),
    market LowCardinality(String),
    tier LowCardinality(String),
    volume Float64,
    threshold Float64,
    price Float64,
    message String
) ENGINE = MergeTree
PARTITION BY toYYYYMM(ts)
ORDER BY (exchange, market, ts)
TTL toDateTime(ts) + INTERVAL 90 DAY`, s.table)}
}

const alarmColumns = "id, ts, exchange, market, tier, volume, threshold, price, message"

func alarmArgs(e *models.AlarmEvent) []interface{} {
	return []interface{}{e.ID, e.Timestamp.UTC(), e.ExchangeID, e.MarketCode, string(e.Tier), e.Volume, e.Threshold, e.Price, e.Message}
}

func (s *ClickHouseAlarmStorage) Store(ctx context.Context, e *models.AlarmEvent) error {
	return s.StoreBatch(ctx, []*models.AlarmEvent{e})
}

// StoreBatch writes multi-row INSERTs of up to 1000 events, skipping
// events without an ID.
func (s *ClickHouseAlarmStorage) StoreBatch(ctx context.Context, events []*models.AlarmEvent) error {
	const chunkSize = 1000
	for start := 0; start < len(events); start += chunkSize {
		end := min(start+chunkSize, len(events))
		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*9)
		for _, e := range events[start:end] {
			if e == nil || e.ID == "" {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args, alarmArgs(e)...)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", s.table, alarmColumns, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert alarms: %w", err)
		}
	}
	return nil
}

// Recent returns matching alarms, newest first.
func (s *ClickHouseAlarmStorage) Recent(ctx context.Context, f domrepo.AlarmFilter) ([]*models.AlarmEvent, error) {
	q, args := s.recentQuery(f)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query alarms: %w", err)
	}
	defer rows.Close()

	out := make([]*models.AlarmEvent, 0, f.Limit)
	for rows.Next() {
		var (
			e    models.AlarmEvent
			tier string
			ts   time.Time
		)
		if err := rows.Scan(&e.ID, &ts, &e.ExchangeID, &e.MarketCode, &tier, &e.Volume, &e.Threshold, &e.Price, &e.Message); err != nil {
			return nil, fmt.Errorf("scan alarm: %w", err)
		}
		e.Tier = models.MarketCapTier(tier)
		e.Timestamp = ts.UTC()
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *ClickHouseAlarmStorage) recentQuery(f domrepo.AlarmFilter) (string, []interface{}) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	var (
		where []string
		args  []interface{}
	)
	if f.ExchangeID != "" {
		where = append(where, "exchange = ?")
		args = append(args, strings.ToUpper(f.ExchangeID))
	}
	if f.MarketCode != "" {
		where = append(where, "market = ?")
		args = append(args, strings.ToUpper(f.MarketCode))
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Since.UTC())
	}
	q := fmt.Sprintf("SELECT %s FROM %s", alarmColumns, s.table)
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts DESC LIMIT ?"
	args = append(args, f.Limit)
	return q, args
}

func (s *ClickHouseAlarmStorage) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
