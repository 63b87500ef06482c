package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"arenaoj/internal/common/cache"
	"arenaoj/internal/common/db"
	"arenaoj/internal/common/mq"
	"arenaoj/internal/common/storage"
	"arenaoj/internal/judge/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
)

type fakeRow struct {
	values []interface{}
	err    error
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *int64:
			*p = r.values[i].(int64)
		case *int:
			*p = r.values[i].(int)
		case *sql.NullString:
			if s, ok := r.values[i].(string); ok {
				*p = sql.NullString{String: s, Valid: true}
			} else {
				*p = sql.NullString{}
			}
		default:
			return fmt.Errorf("unsupported scan target %T", d)
		}
	}
	return nil
}

type fakeResult struct{}

func (fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (fakeResult) RowsAffected() (int64, error) { return 1, nil }

type fakeDB struct {
	mu        sync.Mutex
	row       fakeRow
	queries   int
	execs     []string
	execErr   error
	commits   int
	rollbacks int
}

func (f *fakeDB) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDB) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	return f.row
}

func (f *fakeDB) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, query)
	return fakeResult{}, f.execErr
}

func (f *fakeDB) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	if err := fn(fakeTx{f}); err != nil {
		f.mu.Lock()
		f.rollbacks++
		f.mu.Unlock()
		return err
	}
	f.mu.Lock()
	f.commits++
	f.mu.Unlock()
	return nil
}

// fakeTx runs statements against the parent fakeDB.
type fakeTx struct {
	*fakeDB
}

func (fakeTx) Commit() error   { return nil }
func (fakeTx) Rollback() error { return nil }

func (f *fakeDB) Ping(ctx context.Context) error { return nil }
func (f *fakeDB) Close() error                   { return nil }

func newTestCache(t *testing.T) cache.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestProblemMetaIsCachedAside(t *testing.T) {
	database := &fakeDB{row: fakeRow{values: []interface{}{"sum", int64(1500), int64(128), 2, "c1", nil}}}
	repo := NewProblemRepository(database, newTestCache(t), time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		meta, err := repo.GetProblemMeta(ctx, "sum")
		if err != nil {
			t.Fatalf("get meta failed: %v", err)
		}
		if meta.TimeLimitMs != 1500 || meta.TestCount != 2 || meta.ContestID != "c1" || meta.ValidatorLanguage != "" {
			t.Fatalf("unexpected meta: %+v", meta)
		}
	}
	if database.queries != 1 {
		t.Fatalf("expected one database query, got %d", database.queries)
	}
}

func TestMissingProblemIsCachedAsEmpty(t *testing.T) {
	database := &fakeDB{row: fakeRow{err: sql.ErrNoRows}}
	repo := NewProblemRepository(database, newTestCache(t), time.Minute)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := repo.GetProblemMeta(ctx, "missing"); !errors.Is(err, ErrProblemNotFound) {
			t.Fatalf("expected ErrProblemNotFound, got %v", err)
		}
	}
	if database.queries != 1 {
		t.Fatalf("expected the miss to be cached, got %d queries", database.queries)
	}
}

func TestSubmissionLogIgnoresReplays(t *testing.T) {
	database := &fakeDB{execErr: &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 's1' for key 'PRIMARY'"}}
	repo := NewSubmissionRepository(database)
	sub := &model.Submission{ID: "s1", Status: model.StatusAccepted}
	if err := repo.Create(context.Background(), sub, "submissions/s1/source.py"); err != nil {
		t.Fatalf("duplicate create should be ignored: %v", err)
	}
	if err := repo.AppendResult(context.Background(), sub); err != nil {
		t.Fatalf("duplicate result should be ignored: %v", err)
	}

	if len(database.execs) != 2 {
		t.Fatalf("a duplicate result must not stamp the submission row, execs=%d", len(database.execs))
	}

	database.execErr = errors.New("connection refused")
	if err := repo.AppendResult(context.Background(), sub); err == nil {
		t.Fatalf("expected transient error to surface")
	}
	if database.rollbacks != 1 {
		t.Fatalf("expected the failed append to roll back, got %d", database.rollbacks)
	}
}

func TestAppendResultStampsSubmissionInOneTransaction(t *testing.T) {
	database := &fakeDB{}
	repo := NewSubmissionRepository(database)
	sub := &model.Submission{ID: "s1", Status: model.StatusWrongAnswer, Verdict: model.VerdictWrongAnswer, FinishedAt: time.Now()}
	if err := repo.AppendResult(context.Background(), sub); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if database.commits != 1 || len(database.execs) != 2 {
		t.Fatalf("expected one commit with two statements, commits=%d execs=%d", database.commits, len(database.execs))
	}
	if !strings.Contains(database.execs[0], "INSERT INTO submission_results") || !strings.Contains(database.execs[1], "UPDATE submissions") {
		t.Fatalf("unexpected statements %v", database.execs)
	}
}

type memStorage struct {
	mu          sync.Mutex
	objects     map[string][]byte
	contentType map[string]string
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte), contentType: make(map[string]string)}
}

func (m *memStorage) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (m *memStorage) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = data
	m.contentType[bucket+"/"+key] = contentType
	return nil
}

func (m *memStorage) StatObject(ctx context.Context, bucket, key string) (storage.ObjectStat, error) {
	return storage.ObjectStat{}, nil
}

func TestArtifactStoreArchivesCompressedReport(t *testing.T) {
	store := newMemStorage()
	artifacts, err := NewArtifactStore(store, "judge")
	if err != nil {
		t.Fatalf("new artifact store failed: %v", err)
	}
	ctx := context.Background()
	sub := &model.Submission{
		ID:         "s1",
		SourceCode: strings.Repeat("print(1)\n", 200),
		Status:     model.StatusWrongAnswer,
		Verdict:    model.VerdictWrongAnswer,
		Results:    []model.TestResult{{Ordinal: 1, Verdict: model.VerdictWrongAnswer, Message: "Output mismatch"}},
	}
	key, err := artifacts.PutSource(ctx, sub, "submission.py")
	if err != nil || key != "submissions/s1/source.py" {
		t.Fatalf("unexpected source key %q err=%v", key, err)
	}
	reportKey, err := artifacts.PutReport(ctx, sub)
	if err != nil {
		t.Fatalf("put report failed: %v", err)
	}
	if store.contentType["judge/"+reportKey] != reportContentType {
		t.Fatalf("unexpected content type %q", store.contentType["judge/"+reportKey])
	}
	got, err := artifacts.GetReport(ctx, "s1")
	if err != nil {
		t.Fatalf("get report failed: %v", err)
	}
	if got.Verdict != model.VerdictWrongAnswer || len(got.Results) != 1 || got.SourceCode != "" {
		t.Fatalf("unexpected report: %+v", got)
	}
}

type fakeProducer struct {
	topic    string
	messages []*mq.Message
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, message *mq.Message) error {
	f.topic = topic
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func TestPublishFinalStatus(t *testing.T) {
	producer := &fakeProducer{}
	pub := NewMQStatusEventPublisher(producer, "judge.status.final")
	sub := &model.Submission{
		ID:         "s1",
		Status:     model.StatusAccepted,
		Verdict:    model.VerdictAccepted,
		TotalTests: 2,
		Results:    []model.TestResult{{Verdict: model.VerdictPassed}, {Verdict: model.VerdictPassed}},
	}
	if err := pub.PublishFinalStatus(context.Background(), sub, "c1"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if producer.topic != "judge.status.final" || len(producer.messages) != 1 {
		t.Fatalf("unexpected publish: %s %d", producer.topic, len(producer.messages))
	}
	msg := producer.messages[0]
	if msg.ID != "s1" || msg.Headers["status"] != "Accepted" || !strings.Contains(string(msg.Body), `"passed":2`) {
		t.Fatalf("unexpected message: %+v body=%s", msg, msg.Body)
	}
}
