// Package sqlite implements the graph store contract on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"netfuse/internal/domain"
	"netfuse/internal/repository"

	_ "modernc.org/sqlite"
)

// Store implements repository.Store using SQLite with WAL mode.
type Store struct {
	db *sql.DB
}

// ensure the contract is satisfied
var _ repository.Store = (*Store)(nil)

// Open opens (or creates) the store at path and migrates its schema.
// Use ":memory:" for an in-process test store.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps :memory: stores coherent and sidesteps
	// writer contention; SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Recreate drops all data and rebuilds the schema.
func (s *Store) Recreate(ctx context.Context) error {
	tables := []string{"host_merges", "conflicts", "observations", "links", "interfaces", "hosts"}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreError("recreate", err)
	}
	defer tx.Rollback()

	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return wrapStoreError("recreate", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapStoreError("recreate", err)
	}
	return nil
}

// ============================================================================
// Read Operations
// ============================================================================

// GetGraph loads a consistent snapshot of the fused topology, narrowed by
// the filter. Entities come back sorted by ID.
func (s *Store) GetGraph(ctx context.Context, filter domain.GraphFilter) (*domain.Graph, error) {
	graph := &domain.Graph{GeneratedAt: time.Now().UTC()}

	hostQuery := `SELECT data FROM hosts`
	if !filter.IncludeMerged {
		hostQuery += ` WHERE merged_into IS NULL OR merged_into = ''`
	}
	hostQuery += ` ORDER BY id`
	if err := s.scanInto(ctx, "get graph", hostQuery, nil, func(data []byte) error {
		var h domain.Host
		if err := unmarshalJSON("get graph", data, &h); err != nil {
			return err
		}
		graph.Hosts = append(graph.Hosts, h)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.scanInto(ctx, "get graph", `SELECT data FROM interfaces ORDER BY id`, nil, func(data []byte) error {
		var i domain.Interface
		if err := unmarshalJSON("get graph", data, &i); err != nil {
			return err
		}
		graph.Interfaces = append(graph.Interfaces, i)
		return nil
	}); err != nil {
		return nil, err
	}

	linkQuery := `SELECT data FROM links WHERE confidence >= ?`
	args := []interface{}{filter.MinConfidence}
	if !filter.IncludeStale {
		linkQuery += ` AND status != ?`
		args = append(args, string(domain.LinkStatusStale))
	}
	linkQuery += ` ORDER BY id`
	if err := s.scanInto(ctx, "get graph", linkQuery, args, func(data []byte) error {
		var l domain.Link
		if err := unmarshalJSON("get graph", data, &l); err != nil {
			return err
		}
		graph.Links = append(graph.Links, l)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.scanInto(ctx, "get graph", `SELECT data FROM conflicts ORDER BY id`, nil, func(data []byte) error {
		var c domain.IPConflict
		if err := unmarshalJSON("get graph", data, &c); err != nil {
			return err
		}
		graph.Conflicts = append(graph.Conflicts, c)
		return nil
	}); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT survivor_id, absorbed_id, observation_id, reason, merged_at
		FROM host_merges ORDER BY survivor_id, absorbed_id
	`)
	if err != nil {
		return nil, wrapStoreError("get graph", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m domain.HostMerge
		var obsID sql.NullString
		if err := rows.Scan(&m.SurvivorID, &m.AbsorbedID, &obsID, &m.Reason, &m.MergedAt); err != nil {
			return nil, wrapStoreError("get graph", err)
		}
		m.ObservationID = nullToString(obsID)
		graph.Merges = append(graph.Merges, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError("get graph", err)
	}

	return graph, nil
}

// scanInto runs a single-column data query and feeds each row to fn.
func (s *Store) scanInto(ctx context.Context, op, query string, args []interface{}, fn func(data []byte) error) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return wrapStoreError(op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return wrapStoreError(op, err)
		}
		if err := fn(data); err != nil {
			return err
		}
	}
	return wrapStoreError(op, rows.Err())
}

// GetHost retrieves a single host by ID. Returns domain.ErrNotFound when the
// host does not exist.
func (s *Store) GetHost(ctx context.Context, id string) (*domain.Host, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM hosts WHERE id = ?`, id).Scan(&data)
	if err != nil {
		return nil, wrapStoreError("get host", err)
	}
	host := &domain.Host{}
	if err := unmarshalJSON("get host", data, host); err != nil {
		return nil, err
	}
	return host, nil
}

// GetInterface retrieves a single interface by ID.
func (s *Store) GetInterface(ctx context.Context, id string) (*domain.Interface, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM interfaces WHERE id = ?`, id).Scan(&data)
	if err != nil {
		return nil, wrapStoreError("get interface", err)
	}
	iface := &domain.Interface{}
	if err := unmarshalJSON("get interface", data, iface); err != nil {
		return nil, err
	}
	return iface, nil
}

// GetLink retrieves a single link by ID.
func (s *Store) GetLink(ctx context.Context, id string) (*domain.Link, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM links WHERE id = ?`, id).Scan(&data)
	if err != nil {
		return nil, wrapStoreError("get link", err)
	}
	link := &domain.Link{}
	if err := unmarshalJSON("get link", data, link); err != nil {
		return nil, err
	}
	return link, nil
}

// ListInterfacesByHost returns every interface owned by a host.
func (s *Store) ListInterfacesByHost(ctx context.Context, hostID string) ([]domain.Interface, error) {
	var out []domain.Interface
	err := s.scanInto(ctx, "list interfaces", `SELECT data FROM interfaces WHERE host_id = ? ORDER BY id`,
		[]interface{}{hostID}, func(data []byte) error {
			var i domain.Interface
			if err := unmarshalJSON("list interfaces", data, &i); err != nil {
				return err
			}
			out = append(out, i)
			return nil
		})
	return out, err
}

// ListLinksByEndpoint returns every link touching an entity ID on either
// side, used to rewire edges when a host is absorbed.
func (s *Store) ListLinksByEndpoint(ctx context.Context, entityID string) ([]domain.Link, error) {
	var out []domain.Link
	err := s.scanInto(ctx, "list links", `SELECT data FROM links WHERE from_id = ? OR to_id = ? ORDER BY id`,
		[]interface{}{entityID, entityID}, func(data []byte) error {
			var l domain.Link
			if err := unmarshalJSON("list links", data, &l); err != nil {
				return err
			}
			out = append(out, l)
			return nil
		})
	return out, err
}

// ListConflicts returns every conflict annotation.
func (s *Store) ListConflicts(ctx context.Context) ([]domain.IPConflict, error) {
	var out []domain.IPConflict
	err := s.scanInto(ctx, "list conflicts", `SELECT data FROM conflicts ORDER BY id`, nil,
		func(data []byte) error {
			var c domain.IPConflict
			if err := unmarshalJSON("list conflicts", data, &c); err != nil {
				return err
			}
			out = append(out, c)
			return nil
		})
	return out, err
}

// ============================================================================
// Write Operations
// ============================================================================

// ApplyBatch commits one ingest batch atomically: every upsert in one
// transaction, so a cancelled or failed batch leaves no trace.
func (s *Store) ApplyBatch(ctx context.Context, batch *repository.Batch) error {
	if batch.Empty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreError("apply batch", err)
	}
	defer tx.Rollback()

	for i := range batch.Hosts {
		if err := upsertHost(ctx, tx, &batch.Hosts[i]); err != nil {
			return err
		}
	}
	for i := range batch.Interfaces {
		if err := upsertInterface(ctx, tx, &batch.Interfaces[i]); err != nil {
			return err
		}
	}
	for i := range batch.Links {
		if err := upsertLink(ctx, tx, &batch.Links[i]); err != nil {
			return err
		}
	}
	for i := range batch.Observations {
		if err := insertObservation(ctx, tx, &batch.Observations[i]); err != nil {
			return err
		}
	}
	for i := range batch.Conflicts {
		if err := upsertConflict(ctx, tx, &batch.Conflicts[i]); err != nil {
			return err
		}
	}
	for i := range batch.Merges {
		if err := insertMerge(ctx, tx, &batch.Merges[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapStoreError("apply batch", err)
	}
	return nil
}

func upsertHost(ctx context.Context, tx *sql.Tx, host *domain.Host) error {
	data, err := marshalJSON("upsert host", host)
	if err != nil {
		return err
	}
	_, execErr := tx.ExecContext(ctx, `
		INSERT INTO hosts (id, kind, label, network, merged_into, first_seen, last_seen, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			label = excluded.label,
			network = excluded.network,
			merged_into = excluded.merged_into,
			first_seen = excluded.first_seen,
			last_seen = excluded.last_seen,
			data = excluded.data
	`, host.ID, string(host.Kind), host.DisplayLabel(), stringToNull(host.Network),
		stringToNull(host.MergedInto), host.FirstSeen, host.LastSeen, data)
	return wrapStoreError("upsert host", execErr)
}

func upsertInterface(ctx context.Context, tx *sql.Tx, iface *domain.Interface) error {
	data, err := marshalJSON("upsert interface", iface)
	if err != nil {
		return err
	}
	placeholder := 0
	if iface.Placeholder {
		placeholder = 1
	}
	_, execErr := tx.ExecContext(ctx, `
		INSERT INTO interfaces (id, host_id, mac, name, placeholder, first_seen, last_seen, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			host_id = excluded.host_id,
			mac = excluded.mac,
			name = excluded.name,
			placeholder = excluded.placeholder,
			first_seen = excluded.first_seen,
			last_seen = excluded.last_seen,
			data = excluded.data
	`, iface.ID, iface.HostID, stringToNull(iface.MAC), stringToNull(iface.Name),
		placeholder, iface.FirstSeen, iface.LastSeen, data)
	return wrapStoreError("upsert interface", execErr)
}

func upsertLink(ctx context.Context, tx *sql.Tx, link *domain.Link) error {
	data, err := marshalJSON("upsert link", link)
	if err != nil {
		return err
	}
	_, execErr := tx.ExecContext(ctx, `
		INSERT INTO links (id, kind, from_id, to_id, network, status, confidence, first_seen, last_seen, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			from_id = excluded.from_id,
			to_id = excluded.to_id,
			network = excluded.network,
			status = excluded.status,
			confidence = excluded.confidence,
			first_seen = excluded.first_seen,
			last_seen = excluded.last_seen,
			data = excluded.data
	`, link.ID, string(link.Kind), link.FromID, link.ToID, stringToNull(link.Network),
		string(link.Status), link.Confidence, link.FirstSeen, link.LastSeen, data)
	return wrapStoreError("upsert link", execErr)
}

func insertObservation(ctx context.Context, tx *sql.Tx, rec *domain.ObservationRecord) error {
	data, err := marshalJSON("insert observation", rec)
	if err != nil {
		return err
	}
	// Observations are immutable: re-ingesting the same dump hits the
	// same IDs and is a no-op.
	_, execErr := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO observations (id, source_host, kind, observed_at, data)
		VALUES (?, ?, ?, ?, ?)
	`, rec.ID, rec.SourceHost, string(rec.Kind), rec.ObservedAt, data)
	return wrapStoreError("insert observation", execErr)
}

func upsertConflict(ctx context.Context, tx *sql.Tx, conflict *domain.IPConflict) error {
	data, err := marshalJSON("upsert conflict", conflict)
	if err != nil {
		return err
	}
	_, execErr := tx.ExecContext(ctx, `
		INSERT INTO conflicts (id, ip, first_seen, last_seen, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			first_seen = excluded.first_seen,
			last_seen = excluded.last_seen,
			data = excluded.data
	`, conflict.ID, conflict.IP, conflict.FirstSeen, conflict.LastSeen, data)
	return wrapStoreError("upsert conflict", execErr)
}

func insertMerge(ctx context.Context, tx *sql.Tx, merge *domain.HostMerge) error {
	// Merges are one-way and never rewritten.
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO host_merges (survivor_id, absorbed_id, observation_id, reason, merged_at)
		VALUES (?, ?, ?, ?, ?)
	`, merge.SurvivorID, merge.AbsorbedID, stringToNull(merge.ObservationID), merge.Reason, merge.MergedAt)
	return wrapStoreError("insert merge", err)
}

// MarkStaleLinks demotes confirmed links whose last corroboration predates
// the cutoff and returns their IDs.
func (s *Store) MarkStaleLinks(ctx context.Context, cutoff time.Time) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapStoreError("mark stale", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, data FROM links WHERE status = ? AND last_seen < ?
	`, string(domain.LinkStatusConfirmed), cutoff)
	if err != nil {
		return nil, wrapStoreError("mark stale", err)
	}

	type staleRow struct {
		id   string
		link domain.Link
	}
	var stale []staleRow
	for rows.Next() {
		var r staleRow
		var data []byte
		if err := rows.Scan(&r.id, &data); err != nil {
			rows.Close()
			return nil, wrapStoreError("mark stale", err)
		}
		if err := unmarshalJSON("mark stale", data, &r.link); err != nil {
			rows.Close()
			return nil, err
		}
		stale = append(stale, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, wrapStoreError("mark stale", err)
	}
	rows.Close()

	var ids []string
	for _, r := range stale {
		r.link.Status = domain.LinkStatusStale
		data, err := marshalJSON("mark stale", &r.link)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE links SET status = ?, data = ? WHERE id = ?`,
			string(domain.LinkStatusStale), data, r.id); err != nil {
			return nil, wrapStoreError("mark stale", err)
		}
		ids = append(ids, r.id)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapStoreError("mark stale", err)
	}
	return ids, nil
}

// NotFound reports whether err means a missing entity.
func NotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
