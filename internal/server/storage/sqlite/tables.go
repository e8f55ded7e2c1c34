package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iudanet/woodtime/internal/models"
	"github.com/iudanet/woodtime/internal/server/storage"
)

var (
	// errRejected помечает документ, который push пропускает без ошибки всего пакета
	errRejected = errors.New("document rejected")

	errForbidden = errors.New("not authorized")
	errUnknownID = errors.New("no document with this id")
)

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// write holds the state of one push transaction
type write struct {
	tx     *sql.Tx
	out    *storage.PushOutcome
	now    time.Time
	userID int64
}

// stamp returns the next _modified of table and records it in the outcome
func (w *write) stamp(ctx context.Context, collection, table string) (int64, error) {
	modified, err := stamp(ctx, w.tx, table, w.now)
	if err != nil {
		return 0, err
	}
	w.out.Modified[collection] = modified
	return modified, nil
}

// collectionTable is the storage of one replicated collection
type collectionTable interface {
	pull(ctx context.Context, q querier, userID, since int64, limit int) (*storage.PullBatch, error)
	push(ctx context.Context, w *write, raw json.RawMessage) (json.RawMessage, error)
	readOnly() bool
}

// table maps documents of one collection onto a SQL table.
// Envelope columns are shared; columns lists the rest, in the order of
// fields and scan.
type table[T models.Document] struct {
	newDoc func() T
	fields func(doc T) []any
	scan   func(doc T) []any

	canCreate    func(ctx context.Context, w *write, doc T) (bool, error)
	canUpdate    func(ctx context.Context, w *write, old, doc T) (bool, error)
	beforeCreate func(w *write, doc T)
	beforeUpdate func(old, doc T)
	afterCreate  func(ctx context.Context, w *write, doc T) error
	afterUpdate  func(ctx context.Context, w *write, old, doc T) error

	// visible дополнительное условие pull с единственным параметром user id
	visible    string
	collection string
	name       string
	columns    []string
	immutable  bool
}

const envelopeColumns = "id, created_at, updated_at, _modified, deleted"

func (t *table[T]) readOnly() bool { return t.immutable }

func (t *table[T]) selectList() string {
	return envelopeColumns + ", " + strings.Join(t.columns, ", ")
}

func (t *table[T]) scanRow(row interface{ Scan(dest ...any) error }) (T, error) {
	doc := t.newDoc()
	base := doc.Base()

	var id, createdAt, updatedAt int64
	dest := append([]any{&id, &createdAt, &updatedAt, &base.Modified, &base.Deleted}, t.scan(doc)...)
	if err := row.Scan(dest...); err != nil {
		var zero T
		return zero, err
	}

	base.ID = strconv.FormatInt(id, 10)
	base.CreatedAt = unixMilliToTime(createdAt)
	base.UpdatedAt = unixMilliToTime(updatedAt)
	return doc, nil
}

func (t *table[T]) get(ctx context.Context, q querier, id int64) (T, bool, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", t.selectList(), t.name)
	doc, err := t.scanRow(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return doc, false, nil
		}
		return doc, false, fmt.Errorf("failed to get %s %d: %w", t.collection, id, err)
	}
	return doc, true, nil
}

func (t *table[T]) pull(ctx context.Context, q querier, userID, since int64, limit int) (*storage.PullBatch, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE _modified > ?", t.selectList(), t.name)
	args := []any{since}
	if t.visible != "" {
		query += " AND " + t.visible
		args = append(args, userID)
	}
	query += " ORDER BY _modified ASC LIMIT ?"
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", t.collection, err)
	}
	defer rows.Close()

	batch := &storage.PullBatch{
		Documents:    []json.RawMessage{},
		LastModified: since,
	}
	for rows.Next() {
		doc, err := t.scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", t.collection, err)
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s %s: %w", t.collection, doc.DocID(), err)
		}
		batch.Documents = append(batch.Documents, data)
		batch.LastModified = doc.LastModified()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return batch, nil
}

func (t *table[T]) push(ctx context.Context, w *write, raw json.RawMessage) (json.RawMessage, error) {
	doc := t.newDoc()
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("%w: %w", errRejected, err)
	}
	if err := models.Validate(t.collection, doc); err != nil {
		return nil, fmt.Errorf("%w: %w", errRejected, err)
	}

	// время хранится в мс, ответ должен совпадать с тем, что отдаст pull
	base := doc.Base()
	base.CreatedAt = base.CreatedAt.UTC().Truncate(time.Millisecond)
	base.UpdatedAt = base.UpdatedAt.UTC().Truncate(time.Millisecond)

	if models.IsTemporaryID(doc.DocID()) {
		return t.create(ctx, w, doc)
	}
	return t.update(ctx, w, doc)
}

func (t *table[T]) create(ctx context.Context, w *write, doc T) (json.RawMessage, error) {
	clientID := doc.DocID()

	// повторный create того же временного id возвращает уже созданный документ
	var docID int64
	err := w.tx.QueryRowContext(ctx,
		`SELECT doc_id FROM client_ids WHERE collection = ? AND user_id = ? AND client_id = ?`,
		t.collection, w.userID, clientID).Scan(&docID)
	switch {
	case err == nil:
		prev, ok, err := t.get(ctx, w.tx, docID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%s %d is mapped from %s but missing", t.collection, docID, clientID)
		}
		return withClientID(prev, clientID)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("failed to look up client id: %w", err)
	}

	if t.canCreate != nil {
		ok, err := t.canCreate(ctx, w, doc)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %w", errRejected, errForbidden)
		}
	}
	if t.beforeCreate != nil {
		t.beforeCreate(w, doc)
	}

	modified, err := w.stamp(ctx, t.collection, t.name)
	if err != nil {
		return nil, err
	}
	base := doc.Base()
	base.Modified = modified

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", 4+len(t.columns)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (created_at, updated_at, _modified, deleted, %s) VALUES (%s)",
		t.name, strings.Join(t.columns, ", "), placeholders)
	args := append([]any{base.CreatedAt.UnixMilli(), base.UpdatedAt.UnixMilli(), modified, base.Deleted}, t.fields(doc)...)

	res, err := w.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to insert %s: %w", t.collection, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get %s id: %w", t.collection, err)
	}
	base.ID = strconv.FormatInt(id, 10)

	if _, err := w.tx.ExecContext(ctx,
		`INSERT INTO client_ids (collection, user_id, client_id, doc_id) VALUES (?, ?, ?, ?)`,
		t.collection, w.userID, clientID, id); err != nil {
		return nil, fmt.Errorf("failed to save client id: %w", err)
	}

	if t.afterCreate != nil {
		if err := t.afterCreate(ctx, w, doc); err != nil {
			return nil, err
		}
	}

	return withClientID(doc, clientID)
}

func (t *table[T]) update(ctx context.Context, w *write, doc T) (json.RawMessage, error) {
	id, err := models.ParseID(doc.DocID())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errRejected, err)
	}

	old, ok, err := t.get(ctx, w.tx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %w", errRejected, errUnknownID)
	}

	if t.canUpdate != nil {
		ok, err := t.canUpdate(ctx, w, old, doc)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %w", errRejected, errForbidden)
		}
	}
	if t.beforeUpdate != nil {
		t.beforeUpdate(old, doc)
	}

	modified, err := w.stamp(ctx, t.collection, t.name)
	if err != nil {
		return nil, err
	}
	base := doc.Base()
	base.Modified = modified
	base.CreatedAt = old.Base().CreatedAt

	sets := make([]string, 0, len(t.columns))
	for _, c := range t.columns {
		sets = append(sets, c+" = ?")
	}
	query := fmt.Sprintf("UPDATE %s SET updated_at = ?, _modified = ?, deleted = ?, %s WHERE id = ?",
		t.name, strings.Join(sets, ", "))
	args := append([]any{base.UpdatedAt.UnixMilli(), modified, base.Deleted}, t.fields(doc)...)
	args = append(args, id)

	if _, err := w.tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to update %s %d: %w", t.collection, id, err)
	}

	if t.afterUpdate != nil {
		if err := t.afterUpdate(ctx, w, old, doc); err != nil {
			return nil, err
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", t.collection, err)
	}
	return data, nil
}

// withClientID добавляет к документу client_id, по которому клиент узнает свой create
func withClientID(doc any, clientID string) (json.RawMessage, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	fields["client_id"], _ = json.Marshal(clientID)

	return json.Marshal(fields)
}

// idArg переводит id документа в значение INTEGER колонки
func idArg(id string) any {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return id
	}
	return n
}

// isParticipant reports whether userID takes part in eventID.
// Temporary event ids never match.
func isParticipant(ctx context.Context, q querier, userID int64, eventID string) (bool, error) {
	id, err := models.ParseID(eventID)
	if err != nil || id < 0 {
		return false, nil
	}

	var ok bool
	err = q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM participants WHERE event_id = ? AND user_id = ? AND deleted = 0)`,
		id, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check participancy: %w", err)
	}
	return ok, nil
}

func accountExists(ctx context.Context, q querier, userID string) (bool, error) {
	id, err := models.ParseID(userID)
	if err != nil || id < 0 {
		return false, nil
	}

	var ok bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = ?)`, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check account: %w", err)
	}
	return ok, nil
}

func newTables() map[string]collectionTable {
	return map[string]collectionTable{
		models.CollectionEvents:            eventsTable(),
		models.CollectionCheckpoints:       checkpointsTable(),
		models.CollectionUsers:             usersTable(),
		models.CollectionParticipants:      participantsTable(),
		models.CollectionVirtualChallenges: virtualChallengesTable(),
	}
}

// eventsTable: создать событие может любой, создатель сразу становится участником;
// изменять могут только участники
func eventsTable() *table[*models.Event] {
	return &table[*models.Event]{
		collection: models.CollectionEvents,
		name:       "events",
		columns:    []string{"name", "description", "type", "checkpoint_count", "strict"},
		newDoc:     func() *models.Event { return &models.Event{} },
		fields: func(e *models.Event) []any {
			return []any{e.Name, e.Description, e.Type, e.CheckpointCount, e.Strict}
		},
		scan: func(e *models.Event) []any {
			return []any{&e.Name, &e.Description, &e.Type, &e.CheckpointCount, &e.Strict}
		},
		canUpdate: func(ctx context.Context, w *write, old, _ *models.Event) (bool, error) {
			return isParticipant(ctx, w.tx, w.userID, old.ID)
		},
		afterCreate: func(ctx context.Context, w *write, e *models.Event) error {
			modified, err := w.stamp(ctx, models.CollectionParticipants, "participants")
			if err != nil {
				return err
			}
			ms := w.now.UnixMilli()
			_, err = w.tx.ExecContext(ctx, `
				INSERT INTO participants (event_id, user_id, created_at, updated_at, _modified)
				VALUES (?, ?, ?, ?, ?)
			`, idArg(e.ID), w.userID, ms, ms, modified)
			if err != nil {
				return fmt.Errorf("failed to add event creator as participant: %w", err)
			}
			return nil
		},
	}
}

// checkpointsTable: только участники события, при переносе в другое событие
// нужно участвовать в обоих
func checkpointsTable() *table[*models.Checkpoint] {
	return &table[*models.Checkpoint]{
		collection: models.CollectionCheckpoints,
		name:       "checkpoints",
		columns:    []string{"event_id", "cp_id", "cp_code", "skipped", "skip_reason"},
		newDoc:     func() *models.Checkpoint { return &models.Checkpoint{} },
		fields: func(c *models.Checkpoint) []any {
			return []any{idArg(c.EventID), c.CpID, c.CpCode, c.Skipped, c.SkipReason}
		},
		scan: func(c *models.Checkpoint) []any {
			return []any{&c.EventID, &c.CpID, &c.CpCode, &c.Skipped, &c.SkipReason}
		},
		canCreate: func(ctx context.Context, w *write, c *models.Checkpoint) (bool, error) {
			return isParticipant(ctx, w.tx, w.userID, c.EventID)
		},
		canUpdate: func(ctx context.Context, w *write, old, c *models.Checkpoint) (bool, error) {
			return bothEvents(ctx, w, old.EventID, c.EventID)
		},
	}
}

func participantsTable() *table[*models.Participant] {
	return &table[*models.Participant]{
		collection: models.CollectionParticipants,
		name:       "participants",
		columns:    []string{"event_id", "user_id"},
		visible:    "event_id IN (SELECT event_id FROM participants WHERE user_id = ? AND deleted = 0)",
		newDoc:     func() *models.Participant { return &models.Participant{} },
		fields: func(p *models.Participant) []any {
			return []any{idArg(p.EventID), idArg(p.UserID)}
		},
		scan: func(p *models.Participant) []any {
			return []any{&p.EventID, &p.UserID}
		},
		canCreate: func(ctx context.Context, w *write, p *models.Participant) (bool, error) {
			ok, err := isParticipant(ctx, w.tx, w.userID, p.EventID)
			if err != nil || !ok {
				return false, err
			}
			return accountExists(ctx, w.tx, p.UserID)
		},
		canUpdate: func(ctx context.Context, w *write, old, p *models.Participant) (bool, error) {
			ok, err := bothEvents(ctx, w, old.EventID, p.EventID)
			if err != nil || !ok {
				return false, err
			}
			return accountExists(ctx, w.tx, p.UserID)
		},
		afterCreate: func(ctx context.Context, w *write, p *models.Participant) error {
			if p.Deleted {
				return nil
			}
			return restampParticipants(ctx, w, p)
		},
		afterUpdate: func(ctx context.Context, w *write, old, p *models.Participant) error {
			joined := old.Deleted || old.EventID != p.EventID || old.UserID != p.UserID
			if p.Deleted || !joined {
				return nil
			}
			return restampParticipants(ctx, w, p)
		},
	}
}

// restampParticipants выдает остальным участникам события новые _modified.
// Новый участник видит строки события только с этого момента, а его курсор
// мог уже пройти их старые значения
func restampParticipants(ctx context.Context, w *write, joined *models.Participant) error {
	rows, err := w.tx.QueryContext(ctx,
		`SELECT id FROM participants WHERE event_id = ? AND id != ? ORDER BY id`,
		idArg(joined.EventID), idArg(joined.ID))
	if err != nil {
		return fmt.Errorf("failed to list participants of event %s: %w", joined.EventID, err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan participant id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to list participants of event %s: %w", joined.EventID, err)
	}

	for _, id := range ids {
		modified, err := w.stamp(ctx, models.CollectionParticipants, "participants")
		if err != nil {
			return err
		}
		if _, err := w.tx.ExecContext(ctx,
			`UPDATE participants SET _modified = ? WHERE id = ?`, modified, id); err != nil {
			return fmt.Errorf("failed to restamp participant %d: %w", id, err)
		}
	}
	return nil
}

// virtualChallengesTable: created_by назначает сервер, изменять может только автор
func virtualChallengesTable() *table[*models.VirtualChallenge] {
	return &table[*models.VirtualChallenge]{
		collection: models.CollectionVirtualChallenges,
		name:       "virtualchallenges",
		columns:    []string{"name", "description", "type", "data", "created_by"},
		newDoc:     func() *models.VirtualChallenge { return &models.VirtualChallenge{} },
		fields: func(v *models.VirtualChallenge) []any {
			return []any{v.Name, v.Description, v.Type, v.Data, idArg(v.CreatedBy)}
		},
		scan: func(v *models.VirtualChallenge) []any {
			return []any{&v.Name, &v.Description, &v.Type, &v.Data, &v.CreatedBy}
		},
		beforeCreate: func(w *write, v *models.VirtualChallenge) {
			v.CreatedBy = strconv.FormatInt(w.userID, 10)
		},
		canUpdate: func(_ context.Context, w *write, old, _ *models.VirtualChallenge) (bool, error) {
			return old.CreatedBy == strconv.FormatInt(w.userID, 10), nil
		},
		beforeUpdate: func(old, v *models.VirtualChallenge) {
			v.CreatedBy = old.CreatedBy
		},
	}
}

// usersTable публикует аккаунты; записывать их через push нельзя
func usersTable() *table[*models.User] {
	return &table[*models.User]{
		collection: models.CollectionUsers,
		name:       "accounts",
		columns:    []string{"username"},
		immutable:  true,
		newDoc:     func() *models.User { return &models.User{} },
		fields:     func(u *models.User) []any { return []any{u.Username} },
		scan:       func(u *models.User) []any { return []any{&u.Username} },
	}
}

func bothEvents(ctx context.Context, w *write, oldEventID, newEventID string) (bool, error) {
	ok, err := isParticipant(ctx, w.tx, w.userID, oldEventID)
	if err != nil || !ok {
		return false, err
	}
	if newEventID == oldEventID {
		return true, nil
	}
	return isParticipant(ctx, w.tx, w.userID, newEventID)
}
