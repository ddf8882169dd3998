// Copyright (C) 2026 The obsmgr authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	_ "modernc.org/sqlite"

	"github.com/astrolith/obsmgr/internal/wcs"
)

// Store is the sqlite-backed Catalog implementation. The database holds one
// row per star; field queries prefilter on a coordinate box in SQL and
// refine by great-circle distance.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS stars (
	id       INTEGER PRIMARY KEY,
	ra       REAL NOT NULL,
	dec      REAL NOT NULL,
	mag      REAL NOT NULL,
	variable INTEGER NOT NULL DEFAULT 0,
	spectral TEXT NOT NULL DEFAULT '',
	name     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS stars_dec ON stars(dec);
`

// Open opens or creates a star database at the given path
func Open(path string) (*Store, error) {
	db, err:=sql.Open("sqlite", path)
	if err!=nil { return nil, err }
	if _,err:=db.Exec(schema); err!=nil {
		db.Close()
		return nil, fmt.Errorf("creating star schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Add inserts stars into the database. IDs of 0 are assigned by sqlite.
func (s *Store) Add(ctx context.Context, stars []Star) error {
	tx, err:=s.db.BeginTx(ctx, nil)
	if err!=nil { return err }
	stmt, err:=tx.Prepare(`INSERT INTO stars(ra, dec, mag, variable, spectral, name) VALUES(?,?,?,?,?,?)`)
	if err!=nil { tx.Rollback(); return err }
	defer stmt.Close()
	for _,st:=range stars {
		if _,err:=stmt.ExecContext(ctx, st.RA, st.Dec, st.Magnitude, st.Variable, st.Spectral, st.Name); err!=nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Count returns the number of stars in the database
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err:=s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stars`).Scan(&n)
	return n, err
}

// Search returns the stars inside the query field, brightest first, with
// predicted pixel positions under the query's nominal plate transform.
// Stars landing outside the sensor after projection are kept: the solver
// tolerates catalog stars slightly off frame when the pointing is off.
func (s *Store) Search(ctx context.Context, q Query) ([]Star, error) {
	radius:=q.Radius()
	if radius<=0 { return nil, fmt.Errorf("invalid search radius %g", radius) }

	decMin, decMax:=q.Dec-radius, q.Dec+radius
	cosDec:=math.Cos(q.Dec*math.Pi/180)

	// prefilter overshoot; MaxStars of 0 means unlimited, which sqlite
	// spells LIMIT -1
	limit:=q.MaxStars*4
	if q.MaxStars<=0 { limit=-1 }

	var rows *sql.Rows
	var err error
	if cosDec<0.05 || radius/cosDec>=180 {
		// polar field, RA prefilter degenerates
		rows, err=s.db.QueryContext(ctx,
			`SELECT id, ra, dec, mag, variable, spectral, name FROM stars
			 WHERE dec BETWEEN ? AND ? AND mag<=? ORDER BY mag LIMIT ?`,
			decMin, decMax, q.LimitMag, limit)
	} else {
		raRadius:=radius/cosDec
		raMin, raMax:=q.RA-raRadius, q.RA+raRadius
		if raMin<0 || raMax>=360 {
			rows, err=s.db.QueryContext(ctx,
				`SELECT id, ra, dec, mag, variable, spectral, name FROM stars
				 WHERE dec BETWEEN ? AND ? AND mag<=?
				 AND (ra>=? OR ra<=?) ORDER BY mag LIMIT ?`,
				decMin, decMax, q.LimitMag,
				math.Mod(raMin+360, 360), math.Mod(raMax, 360), limit)
		} else {
			rows, err=s.db.QueryContext(ctx,
				`SELECT id, ra, dec, mag, variable, spectral, name FROM stars
				 WHERE dec BETWEEN ? AND ? AND mag<=?
				 AND ra BETWEEN ? AND ? ORDER BY mag LIMIT ?`,
				decMin, decMax, q.LimitMag, raMin, raMax, limit)
		}
	}
	if err!=nil { return nil, err }
	defer rows.Close()

	plate:=q.Plate()
	var stars []Star
	for rows.Next() {
		var st Star
		if err:=rows.Scan(&st.ID, &st.RA, &st.Dec, &st.Magnitude, &st.Variable, &st.Spectral, &st.Name); err!=nil {
			return nil, err
		}
		if wcs.AngularDistance(q.RA, q.Dec, st.RA, st.Dec)>radius { continue }
		x, y, err:=plate.SkyToPixel(st.RA, st.Dec)
		if err!=nil { continue }
		st.X, st.Y=x, y
		stars=append(stars, st)
		if q.MaxStars>0 && len(stars)==q.MaxStars { break }
	}
	return stars, rows.Err()
}
