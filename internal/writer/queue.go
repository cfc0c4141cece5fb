// Package writer serializes all mutations to a vector store through a
// single-writer queue per database file. Readers open their own connections;
// every write goes through a Queue so SQLite never sees concurrent writers.
package writer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

var (
	// ErrStoreMissing is returned when the database file does not exist,
	// either at startup or because it was deleted mid-run.
	ErrStoreMissing = errors.New("store database does not exist")

	// ErrStopped is returned for writes submitted after Stop.
	ErrStopped = errors.New("writer stopped")

	// ErrCancelled is returned for writes drained by ClearQueue.
	ErrCancelled = errors.New("write cancelled")

	// ErrWaitTimeout is returned when a submitted write is not executed
	// within the wait window.
	ErrWaitTimeout = errors.New("timed out waiting for write")
)

// task is a single queued write.
type task struct {
	query string
	args  []any
	rowid int64
	err   error
	done  chan struct{}
}

func (t *task) fail(err error) {
	t.err = err
	close(t.done)
}

// Options configures a Queue.
type Options struct {
	// QueueDepth is the channel buffer for pending writes.
	QueueDepth int

	// Workers is the number of executor goroutines. They share one
	// connection capped at a single open conn, so writes stay serialized.
	Workers int

	// WaitTimeout bounds how long Submit waits for execution.
	WaitTimeout time.Duration

	// BootstrapWait replaces WaitTimeout until the first write succeeds.
	// Schema creation on a cold store can take much longer than a routine
	// insert.
	BootstrapWait time.Duration

	// StopJoin bounds how long Stop waits for the worker to exit.
	StopJoin time.Duration
}

func (o *Options) defaults() {
	if o.QueueDepth <= 0 {
		o.QueueDepth = 1024
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = 60 * time.Second
	}
	if o.BootstrapWait <= 0 {
		o.BootstrapWait = 5 * time.Minute
	}
	if o.StopJoin <= 0 {
		o.StopJoin = 5 * time.Second
	}
}

// Queue executes SQL writes against one database file from a single worker
// goroutine, in submission order.
type Queue struct {
	path         string
	opts         Options
	tasks        chan *task
	quit         chan struct{}
	stopped      atomic.Bool
	bootstrapped atomic.Bool
	once         sync.Once
	workerDone   chan struct{}
}

// NewQueue starts the worker for the database at path. The file must already
// exist; writes against a missing file fail with ErrStoreMissing.
func NewQueue(path string, opts Options) *Queue {
	opts.defaults()
	q := &Queue{
		path:       path,
		opts:       opts,
		tasks:      make(chan *task, opts.QueueDepth),
		quit:       make(chan struct{}),
		workerDone: make(chan struct{}),
	}
	go q.worker()
	log.Debug("Writer queue started", "path", path)
	return q
}

// Path returns the database file this queue writes to.
func (q *Queue) Path() string { return q.path }

// Submit enqueues a write and waits for it to execute. For statements with a
// RETURNING clause the first returned column is scanned as the row id; other
// statements report LastInsertId.
func (q *Queue) Submit(ctx context.Context, query string, args ...any) (int64, error) {
	t, err := q.enqueue(query, args)
	if err != nil {
		return 0, err
	}

	wait := q.opts.WaitTimeout
	if !q.bootstrapped.Load() {
		wait = q.opts.BootstrapWait
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-t.done:
		return t.rowid, t.err
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-timer.C:
		return 0, fmt.Errorf("%w to %s", ErrWaitTimeout, q.path)
	}
}

// SubmitNoWait enqueues a write without waiting for its result.
func (q *Queue) SubmitNoWait(query string, args ...any) error {
	_, err := q.enqueue(query, args)
	return err
}

func (q *Queue) enqueue(query string, args []any) (*task, error) {
	if q.stopped.Load() {
		return nil, q.stoppedErr()
	}
	t := &task{query: query, args: args, done: make(chan struct{})}
	select {
	case q.tasks <- t:
		return t, nil
	case <-q.quit:
		return nil, q.stoppedErr()
	}
}

// stoppedErr distinguishes a deleted store from an ordinary shutdown so a
// write racing a project removal reports the real cause.
func (q *Queue) stoppedErr() error {
	if _, err := os.Stat(q.path); err != nil {
		return fmt.Errorf("%w: %s", ErrStoreMissing, q.path)
	}
	return ErrStopped
}

// Pending returns the number of queued writes.
func (q *Queue) Pending() int { return len(q.tasks) }

// ClearQueue fails every pending write without executing it. Used before
// deleting a store.
func (q *Queue) ClearQueue() {
	for {
		select {
		case t := <-q.tasks:
			t.fail(ErrCancelled)
		default:
			return
		}
	}
}

// Stop shuts the worker down. Pending writes fail with ErrStopped. When wait
// is true, Stop blocks until the worker exits or the join timeout passes.
func (q *Queue) Stop(wait bool) {
	q.once.Do(func() {
		q.stopped.Store(true)
		close(q.quit)
		q.ClearQueue()
	})
	if wait {
		select {
		case <-q.workerDone:
		case <-time.After(q.opts.StopJoin):
			log.Warn("Writer worker did not stop in time", "path", q.path)
		}
	}
}

// worker owns the write connection for the lifetime of the queue and fans
// tasks out to the executor goroutines.
func (q *Queue) worker() {
	defer close(q.workerDone)

	db, err := q.open()
	if err != nil {
		log.Warn("Writer could not open database", "path", q.path, "error", err)
		q.failUntilStopped(err)
		return
	}
	defer db.Close()

	var wg sync.WaitGroup
	for range q.opts.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-q.quit:
					return
				case t := <-q.tasks:
					q.exec(db, t)
				}
			}
		}()
	}
	wg.Wait()
	q.drain(ErrStopped)
}

// open waits briefly for the database file to appear, then opens a single
// write connection with WAL and a busy timeout.
func (q *Queue) open() (*sql.DB, error) {
	if _, err := os.Stat(q.path); err != nil {
		time.Sleep(500 * time.Millisecond)
		if _, err := os.Stat(q.path); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrStoreMissing, q.path)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=30000&_synchronous=NORMAL", q.path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open writer connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// exec runs one task and signals its waiter.
func (q *Queue) exec(db *sql.DB, t *task) {
	if _, err := os.Stat(q.path); err != nil {
		t.fail(fmt.Errorf("%w: %s", ErrStoreMissing, q.path))
		return
	}

	if strings.Contains(strings.ToUpper(t.query), "RETURNING") {
		err := db.QueryRow(t.query, t.args...).Scan(&t.rowid)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			t.fail(fmt.Errorf("execute write: %w", err))
			return
		}
	} else {
		res, err := db.Exec(t.query, t.args...)
		if err != nil {
			t.fail(fmt.Errorf("execute write: %w", err))
			return
		}
		t.rowid, _ = res.LastInsertId()
	}
	q.bootstrapped.Store(true)
	close(t.done)
}

// drain fails everything left in the channel.
func (q *Queue) drain(err error) {
	for {
		select {
		case t := <-q.tasks:
			t.fail(err)
		default:
			return
		}
	}
}

// failUntilStopped rejects all incoming writes until the queue is stopped.
// Used when the worker could not open the database at all.
func (q *Queue) failUntilStopped(err error) {
	for {
		select {
		case <-q.quit:
			q.drain(ErrStopped)
			return
		case t := <-q.tasks:
			t.fail(err)
		}
	}
}
