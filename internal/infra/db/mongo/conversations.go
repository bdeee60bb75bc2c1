package mongo

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainchat "ncpwheels/internal/domain/chat"
)

// ConversationRepository stores conversations and messages in two collections. Every
// write is a single-document atomic update; run inside a session transaction to make a
// send all-or-nothing.
type ConversationRepository struct {
	convs *mongo.Collection
	msgs  *mongo.Collection
}

func NewConversationRepository(db *mongo.Database) *ConversationRepository {
	return &ConversationRepository{
		convs: db.Collection(conversationsCollection),
		msgs:  db.Collection(messagesCollection),
	}
}

// EnsureIndexes creates the indexes the queries rely on.
func (r *ConversationRepository) EnsureIndexes(ctx context.Context) error {
	if _, err := r.convs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "last_message_at", Value: -1}}},
		{Keys: bson.D{{Key: "listing_id", Value: 1}, {Key: "participants", Value: 1}}},
	}); err != nil {
		return domainchat.Transient("mongo conversation indexes", err)
	}
	if _, err := r.msgs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "read", Value: 1}, {Key: "sender_id", Value: 1}}},
	}); err != nil {
		return domainchat.Transient("mongo message indexes", err)
	}
	return nil
}

func (r *ConversationRepository) ByID(ctx context.Context, id domainchat.ConversationID) (*domainchat.Conversation, error) {
	var doc conversationDocument
	if err := r.convs.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainchat.ErrConversationNotFound
		}
		return nil, domainchat.Transient("mongo find conversation", err)
	}
	return doc.toAggregate(), nil
}

func (r *ConversationRepository) FindByListing(ctx context.Context, listingID, participant string) ([]*domainchat.Conversation, error) {
	filter := bson.M{"listing_id": strings.TrimSpace(listingID), "participants": participant}
	return r.find(ctx, filter, "mongo find by listing")
}

func (r *ConversationRepository) CreateIfAbsent(ctx context.Context, conv *domainchat.Conversation) (*domainchat.Conversation, bool, error) {
	if conv == nil || conv.ID == "" {
		return nil, false, domainchat.Invalid("conversation id is required")
	}
	doc := newConversationDocument(conv)
	res, err := r.convs.UpdateOne(ctx,
		bson.M{"_id": doc.ID},
		bson.M{"$setOnInsert": doc.insertFields()},
		options.Update().SetUpsert(true),
	)
	created := false
	switch {
	case err == nil:
		created = res.UpsertedCount == 1
	case mongo.IsDuplicateKeyError(err):
		// A concurrent upsert won; read back its document.
	default:
		return nil, false, domainchat.Transient("mongo create conversation", err)
	}
	stored, err := r.ByID(ctx, conv.ID)
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (r *ConversationRepository) ListByParticipant(ctx context.Context, userID string) ([]*domainchat.Conversation, error) {
	return r.find(ctx, bson.M{"participants": userID}, "mongo list conversations")
}

func (r *ConversationRepository) find(ctx context.Context, filter bson.M, op string) ([]*domainchat.Conversation, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "last_message_at", Value: -1},
		{Key: "created_at", Value: -1},
		{Key: "_id", Value: 1},
	})
	cur, err := r.convs.Find(ctx, filter, opts)
	if err != nil {
		return nil, domainchat.Transient(op, err)
	}
	defer cur.Close(ctx)
	out := make([]*domainchat.Conversation, 0)
	for cur.Next(ctx) {
		var doc conversationDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, domainchat.Transient(op, err)
		}
		out = append(out, doc.toAggregate())
	}
	if err := cur.Err(); err != nil {
		return nil, domainchat.Transient(op, err)
	}
	domainchat.SortByActivity(out)
	return out, nil
}

// AppendMessage reserves the next sequence number and bumps the recipient's counter in one
// atomic update, inserts the message, then advances the summary unless a newer message
// already did.
func (r *ConversationRepository) AppendMessage(ctx context.Context, id domainchat.ConversationID, d domainchat.Delivery) (domainchat.Message, error) {
	filter := bson.M{
		"_id":          string(id),
		"participants": bson.M{"$all": []string{d.SenderID, d.RecipientID}},
	}
	update := bson.M{
		"$inc": bson.M{"message_seq": 1, unreadField(d.RecipientID): 1},
		"$max": bson.M{"last_message_at": d.At.UTC()},
	}
	var doc conversationDocument
	err := r.convs.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domainchat.Message{}, r.classifyMiss(ctx, id)
		}
		return domainchat.Message{}, domainchat.Transient("mongo reserve message", err)
	}

	msg := messageDocument{
		ID:             string(d.ID),
		ConversationID: string(id),
		Seq:            doc.MessageSeq,
		SenderID:       d.SenderID,
		Content:        d.Content,
		// last_message_at only moves forward, so timestamps follow seq order.
		Timestamp: doc.LastMessageAt.UTC(),
	}
	if _, err := r.msgs.InsertOne(ctx, msg); err != nil {
		return domainchat.Message{}, domainchat.Transient("mongo insert message", err)
	}

	summary := bson.M{
		"$set": bson.M{
			"last_message": lastMessageDocument{
				Content:   msg.Content,
				SenderID:  msg.SenderID,
				Timestamp: msg.Timestamp,
			},
			"last_message_seq": msg.Seq,
		},
	}
	if _, err := r.convs.UpdateOne(ctx,
		bson.M{"_id": string(id), "last_message_seq": bson.M{"$lt": msg.Seq}},
		summary,
	); err != nil {
		return domainchat.Message{}, domainchat.Transient("mongo update summary", err)
	}
	return msg.toMessage(), nil
}

func (r *ConversationRepository) MarkRead(ctx context.Context, id domainchat.ConversationID, userID string) (int, error) {
	res, err := r.convs.UpdateOne(ctx,
		bson.M{"_id": string(id), "participants": userID},
		bson.M{"$set": bson.M{unreadField(userID): 0}},
	)
	if err != nil {
		return 0, domainchat.Transient("mongo reset unread", err)
	}
	if res.MatchedCount == 0 {
		return 0, r.classifyMiss(ctx, id)
	}
	flipped, err := r.msgs.UpdateMany(ctx,
		bson.M{"conversation_id": string(id), "sender_id": bson.M{"$ne": userID}, "read": false},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return 0, domainchat.Transient("mongo flip read flags", err)
	}
	return int(flipped.ModifiedCount), nil
}

func (r *ConversationRepository) SetArchived(ctx context.Context, id domainchat.ConversationID, userID string, archived bool) (bool, error) {
	update := bson.M{"$set": bson.M{archivedField(userID): true}}
	if !archived {
		update = bson.M{"$unset": bson.M{archivedField(userID): ""}}
	}
	res, err := r.convs.UpdateOne(ctx, bson.M{"_id": string(id), "participants": userID}, update)
	if err != nil {
		return false, domainchat.Transient("mongo set archived", err)
	}
	if res.MatchedCount == 0 {
		return false, r.classifyMiss(ctx, id)
	}
	return res.ModifiedCount > 0, nil
}

func (r *ConversationRepository) Messages(ctx context.Context, id domainchat.ConversationID, page domainchat.MessagePage) ([]domainchat.Message, error) {
	if _, err := r.ByID(ctx, id); err != nil {
		return nil, err
	}
	filter := bson.M{"conversation_id": string(id)}
	if page.Before != "" {
		var cursor messageDocument
		err := r.msgs.FindOne(ctx, bson.M{"_id": string(page.Before), "conversation_id": string(id)}).Decode(&cursor)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return []domainchat.Message{}, nil
		}
		if err != nil {
			return nil, domainchat.Transient("mongo find cursor", err)
		}
		filter["seq"] = bson.M{"$lt": cursor.Seq}
	}
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: -1}})
	if page.Limit > 0 {
		opts.SetLimit(int64(page.Limit))
	}
	cur, err := r.msgs.Find(ctx, filter, opts)
	if err != nil {
		return nil, domainchat.Transient("mongo list messages", err)
	}
	defer cur.Close(ctx)
	var docs []messageDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, domainchat.Transient("mongo list messages", err)
	}
	out := make([]domainchat.Message, len(docs))
	for i, doc := range docs {
		out[len(docs)-1-i] = doc.toMessage()
	}
	return out, nil
}

// classifyMiss tells a missing conversation apart from a participant mismatch.
func (r *ConversationRepository) classifyMiss(ctx context.Context, id domainchat.ConversationID) error {
	n, err := r.convs.CountDocuments(ctx, bson.M{"_id": string(id)})
	if err != nil {
		return domainchat.Transient("mongo classify miss", err)
	}
	if n == 0 {
		return domainchat.ErrConversationNotFound
	}
	return domainchat.ErrNotParticipant
}

var _ domainchat.Repository = (*ConversationRepository)(nil)
