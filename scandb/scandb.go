// Package scandb stores calculated dispersion scans in a sqlite database,
// so long grid and path calculations can be browsed again without
// recomputing them.
package scandb

import (
	"context"
	"database/sql"
	"time"

	"github.com/jkrueger1/magnon"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const (
	tableScan   = "scan"
	tableBranch = "branch"
)

// Store is a handle to a scan database.
type Store struct {
	Path string
	db   *sql.DB
}

// Open opens or creates the scan database at the given path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := prepareDB(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "")
	}
	return &Store{Path: path, db: db}, nil
}

func prepareDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + tableScan + ` (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			created INTEGER NOT NULL,
			h_start REAL NOT NULL, k_start REAL NOT NULL, l_start REAL NOT NULL,
			h_end REAL NOT NULL, k_end REAL NOT NULL, l_end REAL NOT NULL,
			num_qs INTEGER NOT NULL) STRICT`,
		`CREATE TABLE IF NOT EXISTS ` + tableBranch + ` (
			scan_id INTEGER NOT NULL,
			q_idx INTEGER NOT NULL,
			h REAL NOT NULL, k REAL NOT NULL, l REAL NOT NULL,
			e REAL NOT NULL,
			weight REAL NOT NULL,
			weight_full REAL NOT NULL,
			s_perp_xx REAL NOT NULL,
			s_perp_yy REAL NOT NULL,
			s_perp_zz REAL NOT NULL) STRICT`,
		`CREATE INDEX IF NOT EXISTS branch_scan ON ` + tableBranch + ` (scan_id, q_idx)`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

func (s *Store) Close() error {
	return errors.Wrap(s.db.Close(), "")
}

// ScanInfo describes one stored scan.
type ScanInfo struct {
	ID      int64
	Name    string
	Created time.Time
	Start   [3]float64
	End     [3]float64
	NumQs   int
}

// SaveScan stores the results of one dispersion scan and returns its id.
func (s *Store) SaveScan(ctx context.Context, name string,
	start, end [3]float64, results []magnon.SofQE) (int64, error) {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO `+tableScan+` (name, created,
			h_start, k_start, l_start, h_end, k_end, l_end, num_qs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		name, time.Now().Unix(),
		start[0], start[1], start[2], end[0], end[1], end[2], len(results))
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	scanID, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO `+tableBranch+` (scan_id, q_idx, h, k, l,
			e, weight, weight_full, s_perp_xx, s_perp_yy, s_perp_zz)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	defer stmt.Close()

	for qIdx, res := range results {
		for i := range res.EAndS {
			ew := &res.EAndS[i]
			_, err := stmt.ExecContext(ctx, scanID, qIdx,
				res.H, res.K, res.L,
				ew.E, ew.Weight, ew.WeightFull,
				real(ew.SPerp[0][0]), real(ew.SPerp[1][1]), real(ew.SPerp[2][2]))
			if err != nil {
				return 0, errors.Wrap(err, "")
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "")
	}
	return scanID, nil
}

// Scans lists the stored scans, newest first.
func (s *Store) Scans(ctx context.Context) ([]ScanInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created,
			h_start, k_start, l_start, h_end, k_end, l_end, num_qs
		FROM `+tableScan+` ORDER BY created DESC, id DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	var infos []ScanInfo
	for rows.Next() {
		var info ScanInfo
		var created int64
		err := rows.Scan(&info.ID, &info.Name, &created,
			&info.Start[0], &info.Start[1], &info.Start[2],
			&info.End[0], &info.End[1], &info.End[2], &info.NumQs)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		info.Created = time.Unix(created, 0)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return infos, nil
}

// Scan loads one stored scan. Only the branch energies, weights and the
// diagonal of the projected correlation matrix are stored, the rest of
// each EnergyAndWeight is zero.
func (s *Store) Scan(ctx context.Context, scanID int64) ([]magnon.SofQE, error) {
	var numQs int
	err := s.db.QueryRowContext(ctx,
		`SELECT num_qs FROM `+tableScan+` WHERE id = ?`, scanID).Scan(&numQs)
	if err == sql.ErrNoRows {
		return nil, errors.Errorf("no scan with id %d", scanID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT q_idx, h, k, l, e, weight, weight_full,
			s_perp_xx, s_perp_yy, s_perp_zz
		FROM `+tableBranch+` WHERE scan_id = ? ORDER BY q_idx, e DESC`, scanID)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	results := make([]magnon.SofQE, numQs)
	for rows.Next() {
		var qIdx int
		var h, k, l float64
		var ew magnon.EnergyAndWeight
		var sxx, syy, szz float64
		err := rows.Scan(&qIdx, &h, &k, &l,
			&ew.E, &ew.Weight, &ew.WeightFull, &sxx, &syy, &szz)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		if qIdx < 0 || qIdx >= numQs {
			return nil, errors.Errorf("corrupt scan %d: q index %d of %d",
				scanID, qIdx, numQs)
		}
		ew.SPerp[0][0] = complex(sxx, 0)
		ew.SPerp[1][1] = complex(syy, 0)
		ew.SPerp[2][2] = complex(szz, 0)
		ew.SPerpSum = ew.SPerp[0][0] + ew.SPerp[1][1] + ew.SPerp[2][2]

		res := &results[qIdx]
		res.H, res.K, res.L = h, k, l
		res.EAndS = append(res.EAndS, ew)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return results, nil
}

// DeleteScan removes a stored scan and its branches.
func (s *Store) DeleteScan(ctx context.Context, scanID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM `+tableBranch+` WHERE scan_id = ?`, scanID); err != nil {
		return errors.Wrap(err, "")
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM `+tableScan+` WHERE id = ?`, scanID); err != nil {
		return errors.Wrap(err, "")
	}
	return errors.Wrap(tx.Commit(), "")
}
