package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/metal-toolbox/pms/internal/app"
	"github.com/metal-toolbox/pms/internal/metrics"
	"github.com/metal-toolbox/pms/internal/model"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	// postgres driver
	_ "github.com/lib/pq"
)

const (
	pkgName = "internal/store"

	// connectionTimeout is the maximum amount of time spent establishing the database connection.
	connectionTimeout = 30 * time.Second
)

var schema = []string{
	`CREATE SEQUENCE IF NOT EXISTS pms_revision`,
	`CREATE TABLE IF NOT EXISTS assets (
		asset_tag    TEXT PRIMARY KEY,
		name         TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL,
		manufacturer TEXT NOT NULL DEFAULT '',
		model        TEXT NOT NULL DEFAULT '',
		os_info      TEXT NOT NULL DEFAULT '',
		location     TEXT NOT NULL DEFAULT '',
		ip_address   TEXT NOT NULL DEFAULT '',
		system_group TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS maintenance_records (
		seq           BIGSERIAL PRIMARY KEY,
		id            UUID NOT NULL UNIQUE,
		asset_tag     TEXT NOT NULL REFERENCES assets (asset_tag),
		check_date    TIMESTAMPTZ NOT NULL,
		check_type    TEXT NOT NULL,
		worker        TEXT NOT NULL DEFAULT '',
		result_status TEXT NOT NULL,
		details       JSONB NOT NULL DEFAULT '[]',
		source        TEXT NOT NULL DEFAULT '',
		admitted_at   TIMESTAMPTZ NOT NULL,
		batch_id      UUID
	)`,
	`ALTER TABLE maintenance_records ADD COLUMN IF NOT EXISTS batch_id UUID`,
	`CREATE INDEX IF NOT EXISTS maintenance_records_asset_idx ON maintenance_records (asset_tag, seq)`,
	`CREATE INDEX IF NOT EXISTS maintenance_records_batch_idx ON maintenance_records (batch_id, seq)`,
	`CREATE TABLE IF NOT EXISTS event_records (
		seq       BIGSERIAL PRIMARY KEY,
		id        UUID NOT NULL UNIQUE,
		asset_tag TEXT NOT NULL REFERENCES assets (asset_tag),
		event_id  INTEGER NOT NULL,
		level     SMALLINT NOT NULL,
		ts        TIMESTAMPTZ NOT NULL,
		channel   TEXT NOT NULL DEFAULT '',
		message   TEXT NOT NULL DEFAULT '',
		source    TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS event_records_ts_idx ON event_records (ts, level)`,
	`CREATE INDEX IF NOT EXISTS event_records_asset_idx ON event_records (asset_tag, seq)`,
}

const (
	assetColumns = `asset_tag, name, status, manufacturer, model, os_info, location, ip_address, system_group, created_at, updated_at`

	maintenanceColumns = `seq, id, asset_tag, check_date, check_type, worker, result_status, details, source, admitted_at, batch_id`

	eventColumns = `seq, id, asset_tag, event_id, level, ts, channel, message, source`
)

// Postgres is a Repository backed by a PostgreSQL database.
type Postgres struct {
	db     *sql.DB
	logger *logrus.Logger
}

// OpenPostgres connects to the database, creating the schema when missing.
func OpenPostgres(ctx context.Context, cfg *app.PostgresOptions, logger *logrus.Logger) (*Postgres, error) {
	if cfg == nil || cfg.DSN == "" {
		return nil, errors.Wrap(ErrStore, "postgres dsn not configured")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(ErrStore, "open: "+err.Error())
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}

	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.Wrap(ErrStore, "ping: "+err.Error())
	}

	s := NewPostgres(db, logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// NewPostgres returns a Postgres repository on an open database handle.
func NewPostgres(db *sql.DB, logger *logrus.Logger) *Postgres {
	return &Postgres{db: db, logger: logger}
}

// Migrate creates the tables, indexes and the revision sequence when missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			p.registerMetric("Migrate")
			return errors.Wrap(ErrStore, "migrate: "+err.Error())
		}
	}

	return nil
}

func (p *Postgres) registerMetric(queryKind string) {
	metrics.StoreQueryErrorCount.With(
		prometheus.Labels{
			"storeKind": string(model.StoreKindPostgres),
			"queryKind": queryKind,
		},
	).Inc()
}

func (p *Postgres) queryError(queryKind string, err error) error {
	p.registerMetric(queryKind)

	p.logger.WithFields(logrus.Fields{"queryKind": queryKind, "err": err.Error()}).Warn("store query error")

	return errors.Wrap(ErrStore, queryKind+": "+err.Error())
}

func (p *Postgres) PutAsset(ctx context.Context, a *model.Asset) error {
	ctx, span := otel.Tracer(pkgName).Start(ctx, "Postgres.PutAsset")
	defer span.End()

	const q = `INSERT INTO assets (` + assetColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (asset_tag) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			manufacturer = EXCLUDED.manufacturer,
			model = EXCLUDED.model,
			os_info = EXCLUDED.os_info,
			location = EXCLUDED.location,
			ip_address = EXCLUDED.ip_address,
			system_group = EXCLUDED.system_group,
			updated_at = EXCLUDED.updated_at
		RETURNING nextval('pms_revision')`

	var revision int64

	err := p.db.QueryRowContext(ctx, q,
		a.Tag, a.Name, string(a.Status), a.Manufacturer, a.Model, a.OSInfo,
		a.Location, a.IPAddress, a.SystemGroup, a.CreatedAt, a.UpdatedAt,
	).Scan(&revision)
	if err != nil {
		return p.queryError("PutAsset", err)
	}

	return nil
}

func scanAsset(row interface{ Scan(...any) error }) (*model.Asset, error) {
	var a model.Asset
	var status string

	if err := row.Scan(
		&a.Tag, &a.Name, &status, &a.Manufacturer, &a.Model, &a.OSInfo,
		&a.Location, &a.IPAddress, &a.SystemGroup, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}

	a.Status = model.AssetStatus(status)

	return &a, nil
}

func (p *Postgres) AssetByTag(ctx context.Context, tag string) (*model.Asset, error) {
	ctx, span := otel.Tracer(pkgName).Start(ctx, "Postgres.AssetByTag")
	defer span.End()

	row := p.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE asset_tag = $1`, tag)

	a, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(ErrAssetNotFound, tag)
		}

		return nil, p.queryError("AssetByTag", err)
	}

	return a, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (p *Postgres) Assets(ctx context.Context, search string) ([]*model.Asset, error) {
	ctx, span := otel.Tracer(pkgName).Start(ctx, "Postgres.Assets")
	defer span.End()

	q := `SELECT ` + assetColumns + ` FROM assets`
	args := []any{}

	if search = strings.TrimSpace(search); search != "" {
		q += ` WHERE name ILIKE $1 OR asset_tag ILIKE $1 OR ip_address ILIKE $1 OR location ILIKE $1`
		args = append(args, "%"+likeEscaper.Replace(search)+"%")
	}

	q += ` ORDER BY asset_tag`

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, p.queryError("Assets", err)
	}

	defer rows.Close()

	assets := []*model.Asset{}

	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, p.queryError("Assets", err)
		}

		assets = append(assets, a)
	}

	if err := rows.Err(); err != nil {
		return nil, p.queryError("Assets", err)
	}

	return assets, nil
}

func (p *Postgres) CountAssets(ctx context.Context) (AssetCounts, error) {
	ctx, span := otel.Tracer(pkgName).Start(ctx, "Postgres.CountAssets")
	defer span.End()

	var counts AssetCounts

	err := p.db.QueryRowContext(ctx,
		`SELECT count(*), count(*) FILTER (WHERE status = $1) FROM assets`,
		string(model.AssetStatusOperational),
	).Scan(&counts.Total, &counts.Operational)
	if err != nil {
		return AssetCounts{}, p.queryError("CountAssets", err)
	}

	return counts, nil
}

func (p *Postgres) AppendMaintenance(ctx context.Context, rec *model.MaintenanceRecord) error {
	ctx, span := otel.Tracer(pkgName).Start(ctx, "Postgres.AppendMaintenance")
	defer span.End()

	details, err := json.Marshal(rec.Details)
	if err != nil {
		return errors.Wrap(ErrStore, "details: "+err.Error())
	}

	const q = `INSERT INTO maintenance_records
		(id, asset_tag, check_date, check_type, worker, result_status, details, source, admitted_at, batch_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING seq, nextval('pms_revision')`

	var revision int64

	batchID := uuid.NullUUID{UUID: rec.BatchID, Valid: rec.BatchID != uuid.Nil}

	err = p.db.QueryRowContext(ctx, q,
		rec.ID, rec.AssetTag, rec.CheckDate, string(rec.CheckType), rec.Worker,
		string(rec.ResultStatus), string(details), rec.Source, rec.AdmittedAt, batchID,
	).Scan(&rec.Seq, &revision)
	if err != nil {
		return p.queryError("AppendMaintenance", err)
	}

	return nil
}

func (p *Postgres) MaintenanceByAsset(ctx context.Context, tag string, from, to time.Time) ([]*model.MaintenanceRecord, error) {
	ctx, span := otel.Tracer(pkgName).Start(ctx, "Postgres.MaintenanceByAsset")
	defer span.End()

	q := `SELECT ` + maintenanceColumns + ` FROM maintenance_records m WHERE asset_tag = $1`
	args := []any{tag}

	if !from.IsZero() {
		args = append(args, from)
		q += fmt.Sprintf(` AND check_date >= $%d`, len(args))
	}

	if !to.IsZero() {
		args = append(args, to)
		q += fmt.Sprintf(` AND check_date <= $%d`, len(args))
	}

	// uploads in admission order, a record outside of a batch ranks by its own seq.
	q += ` ORDER BY COALESCE((SELECT min(b.seq) FROM maintenance_records b WHERE b.batch_id = m.batch_id), m.seq), check_date, seq`

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, p.queryError("MaintenanceByAsset", err)
	}

	defer rows.Close()

	records := []*model.MaintenanceRecord{}

	for rows.Next() {
		var rec model.MaintenanceRecord
		var checkType, result string
		var details []byte
		var batchID uuid.NullUUID

		if err := rows.Scan(
			&rec.Seq, &rec.ID, &rec.AssetTag, &rec.CheckDate, &checkType, &rec.Worker,
			&result, &details, &rec.Source, &rec.AdmittedAt, &batchID,
		); err != nil {
			return nil, p.queryError("MaintenanceByAsset", err)
		}

		if err := json.Unmarshal(details, &rec.Details); err != nil {
			return nil, p.queryError("MaintenanceByAsset", err)
		}

		rec.CheckType = model.CheckType(checkType)
		rec.ResultStatus = model.ResultStatus(result)
		rec.CheckDate = rec.CheckDate.UTC()
		rec.BatchID = batchID.UUID

		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, p.queryError("MaintenanceByAsset", err)
	}

	return records, nil
}

func (p *Postgres) AppendEvent(ctx context.Context, rec *model.EventLogRecord) error {
	ctx, span := otel.Tracer(pkgName).Start(ctx, "Postgres.AppendEvent")
	defer span.End()

	const q = `INSERT INTO event_records
		(id, asset_tag, event_id, level, ts, channel, message, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq, nextval('pms_revision')`

	var revision int64

	err := p.db.QueryRowContext(ctx, q,
		rec.ID, rec.AssetTag, rec.EventID, rec.Level, rec.Timestamp, rec.Channel, rec.Message, rec.Source,
	).Scan(&rec.Seq, &revision)
	if err != nil {
		return p.queryError("AppendEvent", err)
	}

	return nil
}

// eventWhere returns the WHERE clause and arguments selecting the filtered events.
func eventWhere(filter EventFilter) (string, []any) {
	clauses := []string{}
	args := []any{}

	if filter.AssetTag != "" {
		args = append(args, filter.AssetTag)
		clauses = append(clauses, fmt.Sprintf("asset_tag = $%d", len(args)))
	}

	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		clauses = append(clauses, fmt.Sprintf("ts >= $%d", len(args)))
	}

	if filter.MaxLevel > 0 {
		args = append(args, filter.MaxLevel)
		clauses = append(clauses, fmt.Sprintf("level <= $%d", len(args)))
	}

	if len(clauses) == 0 {
		return "", args
	}

	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (p *Postgres) Events(ctx context.Context, filter EventFilter) ([]*model.EventLogRecord, error) {
	ctx, span := otel.Tracer(pkgName).Start(ctx, "Postgres.Events")
	defer span.End()

	where, args := eventWhere(filter)

	rows, err := p.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM event_records`+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, p.queryError("Events", err)
	}

	defer rows.Close()

	events := []*model.EventLogRecord{}

	for rows.Next() {
		var e model.EventLogRecord

		if err := rows.Scan(
			&e.Seq, &e.ID, &e.AssetTag, &e.EventID, &e.Level, &e.Timestamp, &e.Channel, &e.Message, &e.Source,
		); err != nil {
			return nil, p.queryError("Events", err)
		}

		e.Timestamp = e.Timestamp.UTC()

		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, p.queryError("Events", err)
	}

	return events, nil
}

func (p *Postgres) CountEvents(ctx context.Context, filter EventFilter) (int, error) {
	ctx, span := otel.Tracer(pkgName).Start(ctx, "Postgres.CountEvents")
	defer span.End()

	where, args := eventWhere(filter)

	var count int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM event_records`+where, args...).Scan(&count); err != nil {
		return 0, p.queryError("CountEvents", err)
	}

	return count, nil
}

func (p *Postgres) Revision(ctx context.Context) (int64, error) {
	var revision int64

	err := p.db.QueryRowContext(ctx,
		`SELECT CASE WHEN is_called THEN last_value ELSE 0 END FROM pms_revision`,
	).Scan(&revision)
	if err != nil {
		return 0, p.queryError("Revision", err)
	}

	return revision, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
