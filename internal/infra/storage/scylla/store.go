package scylla

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/gocql/gocql"

	domainchat "ncpwheels/internal/domain/chat"
)

const (
	maxCASAttempts = 16
	readBatchSize  = 100
)

var (
	ErrSessionMissing = errors.New("scylla: session not initialized")
	ErrContention     = errors.New("scylla: conversation update contended")
)

// Store keeps conversations and message logs in Scylla. Writes to one conversation are
// serialized by lightweight transactions on its version column. The message row is
// written after the reservation, so a failed insert leaves a gap in the sequence.
type Store struct {
	session *gocql.Session
	logger  *slog.Logger
}

func NewStore(session *gocql.Session, logger *slog.Logger) *Store {
	return &Store{session: session, logger: logger}
}

func (s *Store) ByID(ctx context.Context, id domainchat.ConversationID) (*domainchat.Conversation, error) {
	row, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return row.toAggregate(), nil
}

func (s *Store) load(ctx context.Context, id domainchat.ConversationID) (conversationRow, error) {
	var row conversationRow
	if s.session == nil {
		return row, domainchat.Transient("scylla load conversation", ErrSessionMissing)
	}
	err := s.session.
		Query(`SELECT `+conversationColumns+` FROM conversations WHERE id = ? LIMIT 1`, string(id)).
		WithContext(ctx).
		Scan(row.dest()...)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return row, domainchat.ErrConversationNotFound
		}
		return row, domainchat.Transient("scylla load conversation", err)
	}
	return row, nil
}

func (s *Store) FindByListing(ctx context.Context, listingID, participant string) ([]*domainchat.Conversation, error) {
	items, err := s.scan(ctx, "scylla find by listing",
		`SELECT `+conversationColumns+` FROM conversations WHERE listing_id = ? ALLOW FILTERING`,
		strings.TrimSpace(listingID))
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for _, conv := range items {
		if conv.HasParticipant(participant) {
			out = append(out, conv)
		}
	}
	return out, nil
}

func (s *Store) ListByParticipant(ctx context.Context, userID string) ([]*domainchat.Conversation, error) {
	return s.scan(ctx, "scylla list conversations",
		`SELECT `+conversationColumns+` FROM conversations WHERE participants CONTAINS ? ALLOW FILTERING`,
		userID)
}

func (s *Store) scan(ctx context.Context, op, cql string, args ...interface{}) ([]*domainchat.Conversation, error) {
	if s.session == nil {
		return nil, domainchat.Transient(op, ErrSessionMissing)
	}
	iter := s.session.Query(cql, args...).WithContext(ctx).Iter()
	out := make([]*domainchat.Conversation, 0)
	var row conversationRow
	for iter.Scan(row.dest()...) {
		out = append(out, row.toAggregate())
		row = conversationRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, domainchat.Transient(op, err)
	}
	domainchat.SortByActivity(out)
	return out, nil
}

func (s *Store) CreateIfAbsent(ctx context.Context, conv *domainchat.Conversation) (*domainchat.Conversation, bool, error) {
	if conv == nil || conv.ID == "" {
		return nil, false, domainchat.Invalid("conversation id is required")
	}
	if s.session == nil {
		return nil, false, domainchat.Transient("scylla create conversation", ErrSessionMissing)
	}
	participants := domainchat.NormalizeParticipants(conv.Participants)
	counters := make(map[string]int, len(participants))
	for _, p := range participants {
		counters[p] = 0
	}
	applied, err := s.session.
		Query(`INSERT INTO conversations (id, listing_id, participants, unread_count, message_seq, version, created_at) VALUES (?, ?, ?, ?, 0, 0, ?) IF NOT EXISTS`,
			string(conv.ID), conv.ListingID, participants, counters, conv.CreatedAt.UTC()).
		WithContext(ctx).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return nil, false, domainchat.Transient("scylla create conversation", err)
	}
	stored, err := s.ByID(ctx, conv.ID)
	if err != nil {
		return nil, false, err
	}
	return stored, applied, nil
}

// AppendMessage reserves the next seq and moves summary and counter in one
// compare-and-set, then writes the message row.
func (s *Store) AppendMessage(ctx context.Context, id domainchat.ConversationID, d domainchat.Delivery) (domainchat.Message, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		row, err := s.load(ctx, id)
		if err != nil {
			return domainchat.Message{}, err
		}
		conv := row.toAggregate()
		recipient, err := conv.Counterpart(d.SenderID)
		if err != nil {
			return domainchat.Message{}, err
		}
		msg := domainchat.Message{
			ID:             d.ID,
			ConversationID: id,
			SenderID:       d.SenderID,
			Content:        d.Content,
			Timestamp:      domainchat.NextTimestamp(conv.LastMessage, d.At),
			Seq:            row.MessageSeq + 1,
		}
		applied, err := s.session.
			Query(`UPDATE conversations SET message_seq = ?, version = ?, last_message_content = ?, last_message_sender = ?, last_message_at = ?, unread_count[?] = ? WHERE id = ? IF version = ?`,
				msg.Seq, row.Version+1, msg.Content, msg.SenderID, msg.Timestamp, recipient, conv.Unread(recipient)+1, string(id), row.Version).
			WithContext(ctx).
			MapScanCAS(map[string]interface{}{})
		if err != nil {
			return domainchat.Message{}, domainchat.Transient("scylla reserve message", err)
		}
		if !applied {
			continue
		}
		if err := s.session.
			Query(`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, false)`,
				string(id), msg.Seq, string(msg.ID), msg.SenderID, msg.Content, msg.Timestamp).
			WithContext(ctx).
			Exec(); err != nil {
			if s.logger != nil {
				s.logger.Error("message insert failed after reservation", "conversation_id", id, "seq", msg.Seq, "error", err)
			}
			return domainchat.Message{}, domainchat.Transient("scylla insert message", err)
		}
		return msg, nil
	}
	return domainchat.Message{}, domainchat.Transient("scylla reserve message", ErrContention)
}

// MarkRead zeroes the counter with a compare-and-set, then flips read flags of the
// messages that existed at that point in a logged batch.
func (s *Store) MarkRead(ctx context.Context, id domainchat.ConversationID, userID string) (int, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		row, err := s.load(ctx, id)
		if err != nil {
			return 0, err
		}
		conv := row.toAggregate()
		if !conv.HasParticipant(userID) {
			return 0, domainchat.ErrNotParticipant
		}
		if conv.Unread(userID) > 0 {
			applied, err := s.session.
				Query(`UPDATE conversations SET unread_count[?] = 0, version = ? WHERE id = ? IF version = ?`,
					userID, row.Version+1, string(id), row.Version).
				WithContext(ctx).
				MapScanCAS(map[string]interface{}{})
			if err != nil {
				return 0, domainchat.Transient("scylla reset unread", err)
			}
			if !applied {
				continue
			}
		}
		return s.flipRead(ctx, id, userID, row.MessageSeq)
	}
	return 0, domainchat.Transient("scylla reset unread", ErrContention)
}

func (s *Store) flipRead(ctx context.Context, id domainchat.ConversationID, userID string, upTo int64) (int, error) {
	iter := s.session.
		Query(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? AND seq <= ?`, string(id), upTo).
		WithContext(ctx).
		Iter()
	var rows []messageRow
	var row messageRow
	for iter.Scan(row.dest()...) {
		rows = append(rows, row)
		row = messageRow{}
	}
	if err := iter.Close(); err != nil {
		return 0, domainchat.Transient("scylla scan read flags", err)
	}
	seqs := unreadFrom(rows, userID)
	for _, part := range chunk(seqs, readBatchSize) {
		batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
		for _, seq := range part {
			batch.Query(`UPDATE messages SET read = true WHERE conversation_id = ? AND seq = ?`, string(id), seq)
		}
		if err := s.session.ExecuteBatch(batch); err != nil {
			return 0, domainchat.Transient("scylla flip read flags", err)
		}
	}
	return len(seqs), nil
}

// SetArchived writes userID's cell of the archived map. The cell has a single writer, so
// it skips the compare-and-set on version.
func (s *Store) SetArchived(ctx context.Context, id domainchat.ConversationID, userID string, archived bool) (bool, error) {
	row, err := s.load(ctx, id)
	if err != nil {
		return false, err
	}
	conv := row.toAggregate()
	if !conv.HasParticipant(userID) {
		return false, domainchat.ErrNotParticipant
	}
	if conv.IsArchived(userID) == archived {
		return false, nil
	}
	q := s.session.Query(`UPDATE conversations SET archived[?] = true WHERE id = ?`, userID, string(id))
	if !archived {
		q = s.session.Query(`DELETE archived[?] FROM conversations WHERE id = ?`, userID, string(id))
	}
	if err := q.WithContext(ctx).Exec(); err != nil {
		return false, domainchat.Transient("scylla set archived", err)
	}
	return true, nil
}

func (s *Store) Messages(ctx context.Context, id domainchat.ConversationID, page domainchat.MessagePage) ([]domainchat.Message, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	args := []interface{}{string(id)}
	if page.Before != "" {
		var seq int64
		err := s.session.
			Query(`SELECT seq FROM messages WHERE conversation_id = ? AND message_id = ? ALLOW FILTERING`, string(id), string(page.Before)).
			WithContext(ctx).
			Scan(&seq)
		if errors.Is(err, gocql.ErrNotFound) {
			return []domainchat.Message{}, nil
		}
		if err != nil {
			return nil, domainchat.Transient("scylla find cursor", err)
		}
		args = append(args, seq)
	}
	iter := s.session.Query(messagesCQL(page.Before != "", page.Limit), args...).WithContext(ctx).Iter()
	var rows []messageRow
	var row messageRow
	for iter.Scan(row.dest()...) {
		rows = append(rows, row)
		row = messageRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, domainchat.Transient("scylla list messages", err)
	}
	out := make([]domainchat.Message, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r.toMessage()
	}
	return out, nil
}

var _ domainchat.Repository = (*Store)(nil)
