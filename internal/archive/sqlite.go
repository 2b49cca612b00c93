// Package archive appends scraped records to a local sqlite database so
// results accumulate across runs independently of the JSON history.
package archive

import (
	"database/sql"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"mapleads/internal/model"
)

const createBusinesses = `CREATE TABLE IF NOT EXISTS businesses (
	id integer not null primary key,
	name text,
	category text,
	address text,
	phone text,
	website text,
	email text,
	rating text,
	reviews text,
	owner text,
	search_query text,
	search_location text,
	scraped_at text default (datetime('now'))
);`

const insertBusiness = `INSERT INTO businesses
	(name, category, address, phone, website, email, rating, reviews, owner, search_query, search_location)
	values(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

// Writer drains records to sqlite from a single goroutine. The sqlite
// driver does not allow concurrent writes, so there must only be one
// Writer per database file; Write itself is safe from multiple
// goroutines.
type Writer struct {
	db  *sql.DB
	log *zap.Logger

	recChan chan model.BusinessRecord
	wg      sync.WaitGroup

	dbLock sync.Mutex
}

func Open(path string, log *zap.Logger) (*Writer, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(createBusinesses); err != nil {
		db.Close()
		return nil, err
	}

	w := &Writer{
		db:  db,
		log: log,
		// Buffered as records arrive in bursts after each query.
		recChan: make(chan model.BusinessRecord, 64),
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for r := range w.recChan {
			w.dbLock.Lock()
			_, err := w.db.Exec(insertBusiness,
				r.Name, r.Category, r.Address, r.Phone, r.Website, r.Email,
				r.Rating, r.Reviews, r.Owner, r.SearchQuery, r.SearchLocation)
			w.dbLock.Unlock()
			if err != nil {
				w.log.Error("archive insert failed", zap.String("name", r.Name), zap.Error(err))
			}
		}
	}()
	return w, nil
}

// Write queues records for insertion. Failures are logged, never
// surfaced; the archive is best effort.
func (w *Writer) Write(records []model.BusinessRecord) {
	for _, r := range records {
		w.recChan <- r
	}
}

func (w *Writer) Close() {
	close(w.recChan)
	w.wg.Wait()
	if err := w.db.Close(); err != nil {
		w.log.Warn("archive close failed", zap.Error(err))
	}
}
