package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/woodtime/internal/client/localdb"
	"github.com/iudanet/woodtime/internal/models"
	"github.com/iudanet/woodtime/pkg/api"
)

// pusher sends locally changed documents of one collection
type pusher[T models.Document] struct {
	coll   *localdb.Collection[T]
	client APIClient
	logger *slog.Logger
	writes <-chan struct{}
	batch  int
	mu     sync.Mutex
}

func newPusher[T models.Document](coll *localdb.Collection[T], client APIClient, writes <-chan struct{}, batch int, logger *slog.Logger) *pusher[T] {
	return &pusher[T]{
		coll:   coll,
		client: client,
		writes: writes,
		batch:  batch,
		logger: logger,
	}
}

func (p *pusher[T]) collection() string {
	return p.coll.Name()
}

// pushOnce sends one batch of pending documents newer than afterRevision and
// stores the copies the server wrote. Documents missing from the response
// stay pending. It returns the highest revision sent.
func (p *pusher[T]) pushOnce(ctx context.Context, afterRevision uint64) (*PushResult, uint64, error) {
	pending, err := p.coll.Pending(ctx, afterRevision, p.batch)
	if err != nil {
		return nil, afterRevision, fmt.Errorf("failed to read pending %s: %w", p.collection(), err)
	}
	if len(pending) == 0 {
		return &PushResult{}, afterRevision, nil
	}
	lastRevision := pending[len(pending)-1].Revision

	inputs := make([]json.RawMessage, 0, len(pending))
	sent := make(map[string]localdb.PendingDocument[T], len(pending))
	for _, pd := range pending {
		data, err := json.Marshal(pd.Doc)
		if err != nil {
			return nil, afterRevision, fmt.Errorf("failed to encode %s/%s: %w", p.collection(), pd.Doc.DocID(), err)
		}
		inputs = append(inputs, data)
		sent[pd.Doc.DocID()] = pd
	}

	written, err := p.client.Push(ctx, p.collection(), inputs)
	if err != nil {
		return nil, afterRevision, err
	}

	result := &PushResult{Pushed: len(pending)}
	acks := make([]localdb.PushedDocument[T], 0, len(written))
	for _, raw := range written {
		var ack api.PushAck
		if err := json.Unmarshal(raw, &ack); err != nil {
			p.logger.Warn("Skipping malformed push response document",
				"collection", p.collection(),
				"error", err)
			continue
		}

		// созданные документы сервер возвращает с client_id, равным временному id
		sentID := ack.ClientID
		if sentID == "" {
			sentID = ack.ID
		}
		pd, ok := sent[sentID]
		if !ok {
			p.logger.Warn("Server returned a document that was not pushed",
				"collection", p.collection(),
				"id", ack.ID,
				"client_id", ack.ClientID)
			continue
		}

		doc, err := p.coll.Decode(raw)
		if err != nil {
			p.logger.Warn("Invalid document in push response, keeping local copy",
				"collection", p.collection(),
				"id", sentID,
				"error", err)
			continue
		}

		acks = append(acks, localdb.PushedDocument[T]{Doc: doc, SentID: sentID, Revision: pd.Revision})
		delete(sent, sentID)
		if sentID != doc.DocID() {
			result.Remapped++
		}
	}

	if err := p.coll.ApplyPushed(ctx, acks); err != nil {
		return nil, afterRevision, fmt.Errorf("failed to store pushed %s: %w", p.collection(), err)
	}
	result.Confirmed = len(acks)
	result.Unconfirmed = len(sent)

	for id := range sent {
		p.logger.Warn("Document not confirmed by server, will retry",
			"collection", p.collection(),
			"id", id)
	}
	return result, lastRevision, nil
}

// pushAll pushes every pending document once per cycle. Batches page by
// revision, so documents the server keeps rejecting do not hold back the
// ones written after them.
func (p *pusher[T]) pushAll(ctx context.Context) (*PushResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := &PushResult{}
	var after uint64
	for {
		res, last, err := p.pushOnce(ctx, after)
		if err != nil {
			return total, err
		}
		total.add(res)
		if res.Pushed < p.batch {
			return total, nil
		}
		after = last
	}
}

// run is the live push loop, woken by local writes and the retry interval.
func (p *pusher[T]) run(ctx context.Context, retryInterval time.Duration) error {
	for {
		res, err := p.pushAll(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case isUnauthenticated(err):
			return err
		case err != nil:
			p.logger.Warn("Push failed, will retry",
				"collection", p.collection(),
				"retry_in", retryInterval,
				"error", err)
		case res.Pushed > 0:
			p.logger.Debug("Pushed changes",
				"collection", p.collection(),
				"confirmed", res.Confirmed,
				"unconfirmed", res.Unconfirmed)
		}

		if !wait(ctx, retryInterval, p.writes) {
			return nil
		}
	}
}
